package pipes

import (
	"fmt"

	cborlib "github.com/fxamacker/cbor/v2"
)

// PrivateDecoder turns a privately encoded key or value payload into a typed
// value.
type PrivateDecoder func(data []byte) (any, error)

// DecodePrivate is the default private decoder: the payload is a single CBOR
// data item.
func DecodePrivate(data []byte) (any, error) {
	var v any
	if err := cborlib.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("private decode: %w", err)
	}
	return v, nil
}

// EncodePrivate is the inverse of DecodePrivate. Frameworks and tests use it
// to produce privately encoded payloads.
func EncodePrivate(v any) ([]byte, error) {
	data, err := cborlib.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("private encode: %w", err)
	}
	return data, nil
}
