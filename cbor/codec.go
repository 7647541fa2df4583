// Package cbor is the default codec for the pipes protocol. Each command is
// one CBOR map, framed on the wire by a 4-byte big-endian length prefix.
package cbor

import (
	"errors"
	"fmt"

	cborlib "github.com/fxamacker/cbor/v2"

	"github.com/machinefabric/pipes-go"
)

// CBOR map keys of an encoded command
const (
	keyCode = 0 // code (uint8)
	keyArgs = 1 // args (array, omitted when the command has none)
)

// EncodeCommand encodes a command to CBOR bytes
func EncodeCommand(cmd pipes.Command) ([]byte, error) {
	m := make(map[int]interface{}, 2)
	m[keyCode] = uint8(cmd.Code)
	if len(cmd.Args) > 0 {
		m[keyArgs] = cmd.Args
	}
	data, err := cborlib.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Code, err)
	}
	return data, nil
}

// DecodeCommand decodes CBOR bytes to a command. Vocabulary checks are left to
// the stream adapters.
func DecodeCommand(data []byte) (pipes.Command, error) {
	var m map[int]interface{}
	if err := cborlib.Unmarshal(data, &m); err != nil {
		return pipes.Command{}, fmt.Errorf("decode command: %w", err)
	}

	codeVal, ok := m[keyCode]
	if !ok {
		return pipes.Command{}, errors.New("decode command: missing code (key 0)")
	}
	code, ok := codeVal.(uint64)
	if !ok {
		return pipes.Command{}, fmt.Errorf("decode command: code must be uint, got %T", codeVal)
	}
	if code > 0xff {
		return pipes.Command{}, fmt.Errorf("decode command: code %d out of range", code)
	}

	cmd := pipes.Command{Code: pipes.Code(code)}
	if argsVal, ok := m[keyArgs]; ok {
		args, ok := argsVal.([]interface{})
		if !ok {
			return pipes.Command{}, fmt.Errorf("decode %s: args must be an array, got %T", cmd.Code, argsVal)
		}
		if len(args) > 0 {
			cmd.Args = args
		}
	}
	return cmd, nil
}
