package dht

import (
	"bytes"

	bencode "github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
)

// bencodeValue marshals an arbitrary bencode-able Go value (built as nested
// map[string]any/[]any/string/int, the same shape the teacher's hand-rolled
// encoder used) to its wire bytes using the bencode library directly rather
// than re-deriving dictionary/list/string/integer serialization by hand.
func bencodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, v); err != nil {
		return nil, errors.Wrap(err, "marshal bencode value")
	}
	return buf.Bytes(), nil
}

// decodeBencodeValue parses raw bencode bytes into a generic tree:
// map[string]any for dictionaries, []any for lists, string for byte
// strings, int64 for integers. Unmarshal is given a pointer to an empty
// interface, the same generic-decode idiom encoding/json supports, rather
// than a concrete struct, since the envelope's shape depends on fields we
// haven't inspected yet (see Decode's discrimination rules).
func decodeBencodeValue(data []byte) (any, error) {
	var v any
	if err := bencode.Unmarshal(bytes.NewReader(data), &v); err != nil {
		return nil, errors.Wrap(err, "unmarshal bencode value")
	}
	return v, nil
}

// asDict asserts v is a bencode dictionary.
func asDict(v any) (map[string]any, bool) {
	d, ok := v.(map[string]any)
	return d, ok
}

// asString asserts v is a bencode byte string.
func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asInt asserts v is a bencode integer, normalizing whatever integer width
// the underlying library decodes into to int64.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// asList asserts v is a bencode list.
func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}
