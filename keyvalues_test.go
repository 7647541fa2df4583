package pipes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type group struct {
	key    any
	values []any
}

func drainGroups(t *testing.T, s *KeyValuesStream) []group {
	t.Helper()
	var groups []group
	for {
		key, values, err := s.Next()
		if errors.Is(err, ErrDone) {
			return groups
		}
		require.NoError(t, err)
		g := group{key: key}
		for {
			v, err := values.Next()
			if errors.Is(err, ErrDone) {
				break
			}
			require.NoError(t, err)
			g.values = append(g.values, v)
		}
		groups = append(groups, g)
	}
}

func reduceInput() []Command {
	return []Command{
		NewCommand(ReduceKey, []byte("a")),
		NewCommand(ReduceValue, []byte("1")),
		NewCommand(ReduceValue, []byte("2")),
		NewCommand(ReduceKey, []byte("b")),
		NewCommand(ReduceValue, []byte("3")),
		NewCommand(Close),
	}
}

func TestKeyValuesStreamGroups(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator(reduceInput()), false)

	groups := drainGroups(t, s)
	require.Equal(t, []group{
		{key: []byte("a"), values: []any{[]byte("1"), []byte("2")}},
		{key: []byte("b"), values: []any{[]byte("3")}},
	}, groups)

	_, _, err := s.Next()
	require.ErrorIs(t, err, ErrDone, "a closed stream stays closed")
}

func TestKeyValuesStreamPreservesOrder(t *testing.T) {
	var input []Command
	var want []group
	for k := 0; k < 20; k++ {
		key := []byte{byte('a' + k)}
		input = append(input, NewCommand(ReduceKey, key))
		g := group{key: key}
		for v := 0; v < k%4; v++ {
			val := []byte{byte('0' + v)}
			input = append(input, NewCommand(ReduceValue, val))
			g.values = append(g.values, val)
		}
		want = append(want, g)
	}
	input = append(input, NewCommand(Close))

	got := drainGroups(t, NewKeyValuesStream(SliceIterator(input), false))
	require.Equal(t, want, got)
}

func TestKeyValuesStreamPrivateEncoding(t *testing.T) {
	key, err := EncodePrivate("word")
	require.NoError(t, err)
	one, err := EncodePrivate(int64(-1))
	require.NoError(t, err)

	input := []Command{
		NewCommand(ReduceKey, key),
		NewCommand(ReduceValue, one),
		NewCommand(Close),
	}
	groups := drainGroups(t, NewKeyValuesStream(SliceIterator(input), true))
	require.Equal(t, []group{{key: "word", values: []any{int64(-1)}}}, groups)
}

func TestKeyValuesStreamCustomPrivateDecoder(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator(reduceInput()), true)
	s.SetPrivateDecoder(func(data []byte) (any, error) {
		return "<" + string(data) + ">", nil
	})

	groups := drainGroups(t, s)
	require.Len(t, groups, 2)
	assert.Equal(t, "<a>", groups[0].key)
	assert.Equal(t, []any{"<1>", "<2>"}, groups[0].values)
}

func TestKeyValuesStreamPrivateDecodeFailure(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator(reduceInput()), true)
	s.SetPrivateDecoder(func([]byte) (any, error) {
		return nil, errors.New("bad payload")
	})

	_, _, err := s.Next()
	require.ErrorContains(t, err, "bad payload")
	_, _, again := s.Next()
	require.Equal(t, err, again, "decode failures are latched")
}

// Abandoning a group before it is drained leaves the shared cursor on a
// REDUCE_VALUE, and the outer scan reports it.
func TestKeyValuesStreamPartialConsumption(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator(reduceInput()), false)

	key, values, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("a"), key)

	v, err := values.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	require.False(t, values.Exhausted())

	_, _, err = s.Next()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorKindOutOfOrder, pe.Kind)
	assert.Equal(t, ReduceValue, pe.Code)
	assert.False(t, IsAbort(err))
}

func TestKeyValuesStreamDrainAvoidsHazard(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator(reduceInput()), false)

	_, values, err := s.Next()
	require.NoError(t, err)
	_, err = values.Next()
	require.NoError(t, err)

	skipped, err := values.Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	key, _, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), key)
}

func TestKeyValuesStreamSkipsLeadingValues(t *testing.T) {
	input := append([]Command{NewCommand(ReduceValue, []byte("stray"))}, reduceInput()...)

	groups := drainGroups(t, NewKeyValuesStream(SliceIterator(input), false))
	require.Len(t, groups, 2)
	assert.Equal(t, []byte("a"), groups[0].key)
}

func TestKeyValuesStreamOutOfOrder(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator([]Command{
		NewCommand(MapItem, []byte("k"), []byte("v")),
	}), false)

	_, _, err := s.Next()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorKindOutOfOrder, pe.Kind)
	assert.Equal(t, MapItem, pe.Code)
}

func TestKeyValuesStreamUnexpectedCommandEndsGroup(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator([]Command{
		NewCommand(ReduceKey, []byte("a")),
		NewCommand(ReduceValue, []byte("1")),
		NewCommand(RunMap),
		NewCommand(Close),
	}), false)

	_, values, err := s.Next()
	require.NoError(t, err)
	_, err = values.Next()
	require.NoError(t, err)

	_, err = values.Next()
	require.ErrorIs(t, err, ErrDone, "the group ends quietly and leaves RUN_MAP to the outer scan")

	_, _, err = s.Next()
	require.True(t, IsProtocolError(err))
}

func TestKeyValuesStreamAbort(t *testing.T) {
	src := &countingIterator[Command]{inner: SliceIterator([]Command{
		NewCommand(ReduceKey, []byte("a")),
		NewCommand(ReduceValue, []byte("1")),
		NewCommand(Abort),
		NewCommand(ReduceValue, []byte("2")),
		NewCommand(Close),
	})}
	s := NewKeyValuesStream(src, false)

	_, values, err := s.Next()
	require.NoError(t, err)
	_, err = values.Next()
	require.NoError(t, err)

	_, err = values.Next()
	require.True(t, IsAbort(err), "got %v", err)
	require.True(t, IsProtocolError(err), "an abort is a protocol error too")
	pulls := src.pulls

	_, err = values.Next()
	require.True(t, IsAbort(err))
	_, _, err = s.Next()
	require.True(t, IsAbort(err))
	assert.Equal(t, pulls, src.pulls, "nothing may be read after ABORT")
}

func TestKeyValuesStreamStaleGroupStopsAtClose(t *testing.T) {
	src := &countingIterator[Command]{inner: SliceIterator([]Command{
		NewCommand(ReduceKey, []byte("a")),
		NewCommand(ReduceValue, []byte("1")),
		NewCommand(Close),
		NewCommand(ReduceValue, []byte("after-close")),
	})}
	s := NewKeyValuesStream(src, false)

	_, values, err := s.Next()
	require.NoError(t, err)
	v, err := values.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	// the group is left without seeing its end; the outer scan takes CLOSE
	_, _, err = s.Next()
	require.ErrorIs(t, err, ErrDone)
	pulls := src.pulls

	_, err = values.Next()
	require.ErrorIs(t, err, ErrDone)
	assert.True(t, values.Exhausted())
	assert.Equal(t, pulls, src.pulls, "nothing may be read after CLOSE")
	assert.Equal(t, 3, src.pulls)
}

func TestKeyValuesStreamAbortWhileScanning(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator([]Command{NewCommand(Abort)}), false)
	_, _, err := s.Next()
	require.True(t, IsAbort(err))
}

func TestKeyValuesStreamEndOfSource(t *testing.T) {
	// no CLOSE: the source simply runs dry after one group
	s := NewKeyValuesStream(SliceIterator(reduceInput()[:3]), false)
	groups := drainGroups(t, s)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].values, 2)
}

func TestKeyValuesStreamMalformedKey(t *testing.T) {
	s := NewKeyValuesStream(SliceIterator([]Command{NewCommand(ReduceKey)}), false)
	_, _, err := s.Next()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorKindMalformed, pe.Kind)
}

func TestKeyValueStreamMapItems(t *testing.T) {
	s := NewKeyValueStream(SliceIterator([]Command{
		NewCommand(MapItem, "k1", "v1"),
		NewCommand(MapItem, "k2", "v2"),
		NewCommand(Close),
	}))

	var items [][]any
	for {
		args, err := s.Next()
		if errors.Is(err, ErrDone) {
			break
		}
		require.NoError(t, err)
		items = append(items, args)
	}
	require.Equal(t, [][]any{{"k1", "v1"}, {"k2", "v2"}}, items)

	_, err := s.Next()
	require.ErrorIs(t, err, ErrDone)
}

func TestKeyValueStreamOutOfOrder(t *testing.T) {
	s := NewKeyValueStream(SliceIterator([]Command{
		NewCommand(MapItem, "k1", "v1"),
		NewCommand(ReduceKey, []byte("a")),
		NewCommand(MapItem, "k2", "v2"),
	}))

	_, err := s.Next()
	require.NoError(t, err)

	_, err = s.Next()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReduceKey, pe.Code)

	_, again := s.Next()
	assert.Equal(t, err, again)
}

func TestKeyValueStreamAbort(t *testing.T) {
	src := &countingIterator[Command]{inner: SliceIterator([]Command{
		NewCommand(Abort),
		NewCommand(MapItem, "k", "v"),
	})}
	s := NewKeyValueStream(src)

	_, err := s.Next()
	require.True(t, IsAbort(err))
	_, err = s.Next()
	require.True(t, IsAbort(err))
	assert.Equal(t, 1, src.pulls)
}

func TestKeyValueStreamPropagatesSourceError(t *testing.T) {
	boom := errors.New("pipe broke")
	s := NewKeyValueStream(IteratorFunc[Command](func() (Command, error) {
		return Command{}, boom
	}))
	_, err := s.Next()
	require.ErrorIs(t, err, boom)
	assert.False(t, IsProtocolError(err))
}
