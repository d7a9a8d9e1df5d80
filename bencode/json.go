package bencode

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ToJSON projects a decoded Value onto JSON: integers become numbers, byte
// strings become JSON strings (failing if they aren't valid UTF-8), and
// lists/dicts become their natural JSON counterparts with dict keys written
// in the same ascending order Encode uses.
//
// This is a hand-rolled encoder rather than encoding/json because the
// source values are raw bytes, not Go strings, and dict ordering has to
// match the canonical encoder exactly rather than whatever map iteration
// (or struct field order) encoding/json would produce.
func ToJSON(v Value) (string, error) {
	var b strings.Builder
	if err := writeJSON(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeJSON(b *strings.Builder, v Value) error {
	switch v.Kind {
	case KindInt:
		b.WriteString(strconv.FormatInt(v.Int, 10))
		return nil
	case KindString:
		if !utf8.Valid(v.Str) {
			return errString("string is not valid UTF-8, cannot project to JSON")
		}
		b.WriteString(strconv.Quote(string(v.Str)))
		return nil
	case KindList:
		b.WriteByte('[')
		for i, item := range v.List {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeJSON(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case KindDict:
		b.WriteByte('{')
		pairs := v.Dict
		if !sort.SliceIsSorted(pairs, func(i, j int) bool {
			return string(pairs[i].Key) < string(pairs[j].Key)
		}) {
			pairs = append([]KV(nil), pairs...)
			sort.Slice(pairs, func(i, j int) bool {
				return string(pairs[i].Key) < string(pairs[j].Key)
			})
		}
		for i, kv := range pairs {
			if i > 0 {
				b.WriteByte(',')
			}
			if !utf8.Valid(kv.Key) {
				return errString("dict key is not valid UTF-8, cannot project to JSON")
			}
			b.WriteString(strconv.Quote(string(kv.Key)))
			b.WriteByte(':')
			if err := writeJSON(b, kv.Value); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	default:
		return errString("unknown bencode value kind")
	}
}
