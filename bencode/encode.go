package bencode

import (
	"bytes"
	"sort"
	"strconv"
)

// Encode renders v in canonical bencode form: dict keys ascending by byte
// value, integers with no leading zeros and no "-0".
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.Str)))
		buf.WriteByte(':')
		buf.Write(v.Str)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			encodeValue(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		pairs := v.Dict
		if !sort.SliceIsSorted(pairs, func(i, j int) bool {
			return string(pairs[i].Key) < string(pairs[j].Key)
		}) {
			pairs = append([]KV(nil), pairs...)
			sort.Slice(pairs, func(i, j int) bool {
				return string(pairs[i].Key) < string(pairs[j].Key)
			})
		}
		for _, kv := range pairs {
			encodeValue(buf, NewString(kv.Key))
			encodeValue(buf, kv.Value)
		}
		buf.WriteByte('e')
	}
}
