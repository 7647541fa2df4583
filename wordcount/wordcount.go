// Package wordcount is the classic word-count job written against the task
// runner. The mapper emits (word, "1") per token and the reducer sums them.
package wordcount

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/machinefabric/pipes-go"
	"github.com/machinefabric/pipes-go/task"
)

const (
	CounterGroup = "WORDCOUNT"
	InputWords   = "INPUT_WORDS"
	OutputWords  = "OUTPUT_WORDS"
)

// Tokenize splits text on every rune that is neither a letter nor a digit
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Mapper counts input words. Its counter is registered on the first record.
type Mapper struct {
	inputWords *task.Counter
}

var _ task.Mapper = (*Mapper)(nil)

func NewMapper() *Mapper {
	return &Mapper{}
}

func (m *Mapper) Map(ctx task.Context, _, value []byte) error {
	if m.inputWords == nil {
		c, err := ctx.RegisterCounter(CounterGroup, InputWords)
		if err != nil {
			return err
		}
		m.inputWords = c
	}

	words := Tokenize(string(value))
	for _, w := range words {
		if err := ctx.Emit(w, "1"); err != nil {
			return err
		}
	}
	return ctx.IncrementCounter(m.inputWords, uint64(len(words)))
}

// Reducer sums the counts of one word
type Reducer struct {
	outputWords *task.Counter
}

var _ task.Reducer = (*Reducer)(nil)

func NewReducer() *Reducer {
	return &Reducer{}
}

func (r *Reducer) Reduce(ctx task.Context, key any, values *pipes.ValuesStream) error {
	if r.outputWords == nil {
		c, err := ctx.RegisterCounter(CounterGroup, OutputWords)
		if err != nil {
			return err
		}
		r.outputWords = c
	}

	var sum uint64
	for {
		v, err := values.Next()
		if errors.Is(err, pipes.ErrDone) {
			break
		}
		if err != nil {
			return err
		}
		n, err := count(v)
		if err != nil {
			return fmt.Errorf("word %s: %w", keyText(key), err)
		}
		sum += n
	}

	if err := ctx.Emit(key, strconv.FormatUint(sum, 10)); err != nil {
		return err
	}
	return ctx.IncrementCounter(r.outputWords, 1)
}

// count accepts the value either as decimal text or, under private
// encoding, as an already decoded integer.
func count(v any) (uint64, error) {
	switch n := v.(type) {
	case []byte:
		return strconv.ParseUint(string(n), 10, 64)
	case string:
		return strconv.ParseUint(n, 10, 64)
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative count %d", n)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}

func keyText(key any) string {
	if b, ok := key.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(key)
}
