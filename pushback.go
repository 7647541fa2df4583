package pipes

// Iterator is a single-pass, pull-based sequence. Next returns ErrDone once the
// sequence is exhausted; any other error is fatal.
type Iterator[T any] interface {
	Next() (T, error)
}

// IteratorFunc adapts a function to the Iterator interface.
type IteratorFunc[T any] func() (T, error)

func (f IteratorFunc[T]) Next() (T, error) {
	return f()
}

// SliceIterator yields the items of a slice, then ErrDone.
func SliceIterator[T any](items []T) Iterator[T] {
	i := 0
	return IteratorFunc[T](func() (T, error) {
		if i >= len(items) {
			var zero T
			return zero, ErrDone
		}
		item := items[i]
		i++
		return item, nil
	})
}

// PushBackStream wraps an iterator with a LIFO lookahead buffer. Items handed
// to PushBack are returned by Next, most recent first, before the underlying
// iterator is touched again.
type PushBackStream[T any] struct {
	source Iterator[T]
	lifo   []T
}

// NewPushBackStream creates a pushback wrapper around source
func NewPushBackStream[T any](source Iterator[T]) *PushBackStream[T] {
	return &PushBackStream[T]{source: source}
}

// Next pops the pushback stack, or draws from the underlying iterator when the
// stack is empty.
func (s *PushBackStream[T]) Next() (T, error) {
	if n := len(s.lifo); n > 0 {
		item := s.lifo[n-1]
		var zero T
		s.lifo[n-1] = zero
		s.lifo = s.lifo[:n-1]
		return item, nil
	}
	return s.source.Next()
}

// PushBack returns item to the front of the sequence.
func (s *PushBackStream[T]) PushBack(item T) {
	s.lifo = append(s.lifo, item)
}

// Pending returns how many pushed-back items are waiting
func (s *PushBackStream[T]) Pending() int {
	return len(s.lifo)
}
