// Package bencode implements a byte-exact bencode codec: the four-kind
// serialization grammar (integers, byte strings, lists, dicts) used by the
// BitTorrent wire formats. Unlike a reflection-based marshaler, it decodes
// into a generic tagged-union Value so that torrent metadata can be
// re-encoded canonically and hashed, and so arbitrary bencode can be
// projected to JSON for inspection.
package bencode

import "sort"

// Kind tags which variant a Value holds.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dictionary"
	default:
		return "unknown"
	}
}

// KV is one key/value pair of a Dict, preserved in decode order.
type KV struct {
	Key   []byte
	Value Value
}

// Value is a bencode value: exactly one of its Int/Str/List/Dict fields is
// meaningful, selected by Kind. Construct with NewInt, NewString, NewList or
// NewDict rather than the zero value.
type Value struct {
	Kind Kind
	Int  int64
	Str  []byte
	List []Value
	Dict []KV
}

func NewInt(n int64) Value { return Value{Kind: KindInt, Int: n} }

func NewString(s []byte) Value { return Value{Kind: KindString, Str: s} }

func NewList(items []Value) Value { return Value{Kind: KindList, List: items} }

// NewDict builds a Dict Value from unordered pairs, sorting them by key so
// the result is ready to feed straight to Encode.
func NewDict(pairs []KV) Value {
	sorted := make([]KV, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i].Key) < string(sorted[j].Key)
	})
	return Value{Kind: KindDict, Dict: sorted}
}

// Get returns the value for key in a Dict and whether it was present. Get
// panics if called on a non-Dict Value.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		panic("bencode: Get called on non-dict value")
	}
	for _, kv := range v.Dict {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return Value{}, false
}
