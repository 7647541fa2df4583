package pipes

import (
	"errors"
	"fmt"
)

// KeyValuesStream groups a reduce-phase command sequence into (key, values)
// pairs. The outer sequence (Next) and every inner ValuesStream draw from the
// same PushBackStream, so only one of them may advance at a time.
//
// Callers must drain each ValuesStream before asking for the next key. When a
// group is abandoned with values still unread, the next outer call meets a
// REDUCE_VALUE and fails with an out of order ProtocolError. Resuming the
// abandoned ValuesStream later reads whatever follows on the shared cursor.
type KeyValuesStream struct {
	stream          *PushBackStream[Command]
	privateEncoding bool
	decode          PrivateDecoder

	// current is the most recently handed out group. Its exhaustion flag
	// tells a stray REDUCE_VALUE before the first key (skipped) apart from
	// one left behind by an abandoned group (fatal).
	current *ValuesStream
	done    bool
	err     error
}

// NewKeyValuesStream creates the reduce-side grouping over source. With
// privateEncoding set, keys and values are passed through DecodePrivate
// unless another decoder is installed with SetPrivateDecoder.
func NewKeyValuesStream(source Iterator[Command], privateEncoding bool) *KeyValuesStream {
	return &KeyValuesStream{
		stream:          NewPushBackStream(source),
		privateEncoding: privateEncoding,
		decode:          DecodePrivate,
	}
}

// SetPrivateDecoder replaces the decoder applied under private encoding
func (s *KeyValuesStream) SetPrivateDecoder(decode PrivateDecoder) {
	s.decode = decode
}

// Next returns the next key and its values. It returns ErrDone on CLOSE or at
// the end of the underlying stream.
func (s *KeyValuesStream) Next() (any, *ValuesStream, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	if s.done {
		return nil, nil, ErrDone
	}
	for {
		cmd, err := s.stream.Next()
		if err != nil {
			return nil, nil, s.fail(err)
		}
		switch cmd.Code {
		case Close:
			s.done = true
			return nil, nil, ErrDone
		case ReduceKey:
			key, err := s.payload(cmd)
			if err != nil {
				return nil, nil, s.fail(err)
			}
			s.current = &ValuesStream{parent: s}
			return key, s.current, nil
		case ReduceValue:
			if s.current != nil && !s.current.exhausted {
				return nil, nil, s.fail(&ProtocolError{
					Kind:    ErrorKindOutOfOrder,
					Code:    ReduceValue,
					Message: "out of order command: REDUCE_VALUE (values of the previous key were not fully consumed)",
				})
			}
			continue
		case Abort:
			return nil, nil, s.fail(NewProtocolAbort("framework requested abort"))
		default:
			return nil, nil, s.fail(newOutOfOrder(cmd.Code))
		}
	}
}

// fail latches err. ErrDone from the source is a normal end, not a failure.
func (s *KeyValuesStream) fail(err error) error {
	if errors.Is(err, ErrDone) {
		s.done = true
		return ErrDone
	}
	s.err = err
	return err
}

func (s *KeyValuesStream) payload(cmd Command) (any, error) {
	raw, err := cmd.BytesArg(0)
	if err != nil {
		return nil, err
	}
	if !s.privateEncoding {
		return raw, nil
	}
	v, err := s.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Code, err)
	}
	return v, nil
}

// ValuesStream yields the values of one reduce key. It ends at the next
// REDUCE_KEY or CLOSE, which it pushes back for the outer KeyValuesStream.
type ValuesStream struct {
	parent    *KeyValuesStream
	exhausted bool
}

// Next returns the next value of the group, or ErrDone when the group ends.
func (v *ValuesStream) Next() (any, error) {
	s := v.parent
	if s.err != nil {
		return nil, s.err
	}
	// once the outer scan has seen CLOSE nothing more may be drawn, even by a
	// group that never reported its own end
	if v.exhausted || s.done {
		v.exhausted = true
		return nil, ErrDone
	}
	cmd, err := s.stream.Next()
	if err != nil {
		v.exhausted = true
		return nil, s.fail(err)
	}
	switch cmd.Code {
	case ReduceValue:
		value, err := s.payload(cmd)
		if err != nil {
			return nil, s.fail(err)
		}
		return value, nil
	case Abort:
		v.exhausted = true
		return nil, s.fail(NewProtocolAbort("framework requested abort"))
	default:
		// REDUCE_KEY and CLOSE end the group normally. Anything else is left
		// for the outer scan to reject.
		s.stream.PushBack(cmd)
		v.exhausted = true
		return nil, ErrDone
	}
}

// Exhausted reports whether the group has ended
func (v *ValuesStream) Exhausted() bool {
	return v.exhausted
}

// Drain discards the remaining values of the group. It returns the number of
// values skipped.
func (v *ValuesStream) Drain() (int, error) {
	n := 0
	for {
		_, err := v.Next()
		if errors.Is(err, ErrDone) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// KeyValueStream is the map-side item sequence: it yields the arguments of
// each MAP_ITEM unchanged and ends on CLOSE.
type KeyValueStream struct {
	source Iterator[Command]
	done   bool
	err    error
}

// NewKeyValueStream creates the map-side iterator over source
func NewKeyValueStream(source Iterator[Command]) *KeyValueStream {
	return &KeyValueStream{source: source}
}

// Next returns the next item's arguments, or ErrDone on CLOSE or end of stream.
func (s *KeyValueStream) Next() ([]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, ErrDone
	}
	cmd, err := s.source.Next()
	if err != nil {
		if errors.Is(err, ErrDone) {
			s.done = true
			return nil, ErrDone
		}
		s.err = err
		return nil, err
	}
	switch cmd.Code {
	case MapItem:
		return cmd.Args, nil
	case Close:
		s.done = true
		return nil, ErrDone
	case Abort:
		s.err = NewProtocolAbort("framework requested abort")
	default:
		s.err = newOutOfOrder(cmd.Code)
	}
	return nil, s.err
}
