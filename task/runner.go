// Package task drives one task attempt over the pipes protocol: it performs
// the handshake, runs the map or reduce phase through user callbacks and
// reports completion to the framework.
package task

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/machinefabric/pipes-go"
	"github.com/machinefabric/pipes-go/logger"
)

// ProtocolVersion is the only START_MESSAGE version the runner accepts
const ProtocolVersion = 0

// Mapper is called once per MAP_ITEM
type Mapper interface {
	Map(ctx Context, key, value []byte) error
}

// MapperFunc adapts a function to the Mapper interface
type MapperFunc func(ctx Context, key, value []byte) error

func (f MapperFunc) Map(ctx Context, key, value []byte) error {
	return f(ctx, key, value)
}

// Reducer is called once per reduce key. values must be drained before
// Reduce returns unless the runner was built WithDrainUnread.
type Reducer interface {
	Reduce(ctx Context, key any, values *pipes.ValuesStream) error
}

// ReducerFunc adapts a function to the Reducer interface
type ReducerFunc func(ctx Context, key any, values *pipes.ValuesStream) error

func (f ReducerFunc) Reduce(ctx Context, key any, values *pipes.ValuesStream) error {
	return f(ctx, key, values)
}

// Runner executes a single task attempt
type Runner struct {
	mapper          Mapper
	reducer         Reducer
	log             logger.Logger
	attemptID       string
	privateEncoding bool
	privateDecoder  pipes.PrivateDecoder
	drainUnread     bool
}

type Option func(*Runner)

func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// WithAttemptID overrides the generated attempt id used in log lines
func WithAttemptID(id string) Option {
	return func(r *Runner) {
		r.attemptID = id
	}
}

// WithPrivateEncoding controls the private encoding of intermediate records.
// When on (the default) a map task with reducers encodes what it emits, and a
// reduce task decodes its keys and values. Final output is never encoded.
func WithPrivateEncoding(enabled bool) Option {
	return func(r *Runner) {
		r.privateEncoding = enabled
	}
}

// WithPrivateDecoder replaces pipes.DecodePrivate for reduce payloads
func WithPrivateDecoder(decode pipes.PrivateDecoder) Option {
	return func(r *Runner) {
		r.privateDecoder = decode
	}
}

// WithDrainUnread makes the runner discard values a reducer left unread
// instead of failing on the next key.
func WithDrainUnread(enabled bool) Option {
	return func(r *Runner) {
		r.drainUnread = enabled
	}
}

// NewRunner creates a runner. Either callback may be nil when the task only
// ever runs the other phase.
func NewRunner(mapper Mapper, reducer Reducer, opts ...Option) *Runner {
	r := &Runner{
		mapper:          mapper,
		reducer:         reducer,
		log:             logger.NewNoopLogger(),
		attemptID:       uuid.NewString(),
		privateEncoding: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("attempt_id", r.attemptID))
	return r
}

// AttemptID returns the id attached to this runner's log lines
func (r *Runner) AttemptID() string {
	return r.attemptID
}

// Run consumes the down stream until the phase completes, then sends DONE.
// A ProtocolAbort is returned as soon as it is seen and nothing further is
// written to up.
func (r *Runner) Run(down pipes.Iterator[pipes.Command], up Sender) error {
	ctx := newTaskContext(up)
	source := &abortWatch{source: down, ctx: ctx}

	err := r.run(source, ctx)
	if err != nil {
		if pipes.IsAbort(err) {
			r.log.Warn("task attempt aborted by framework")
			return err
		}
		r.log.Error("task attempt failed", zap.Error(err))
		return err
	}

	if err := up.Send(pipes.Done); err != nil {
		return fmt.Errorf("send DONE: %w", err)
	}
	if err := up.Flush(); err != nil {
		return err
	}
	r.log.Info("task attempt finished", zap.Uint64("records_emitted", ctx.emitted))
	return nil
}

func (r *Runner) run(source pipes.Iterator[pipes.Command], ctx *taskContext) error {
	if err := r.handshake(source); err != nil {
		return err
	}

	for {
		cmd, err := source.Next()
		if errors.Is(err, pipes.ErrDone) {
			return &pipes.ProtocolError{
				Kind:    pipes.ErrorKindMalformed,
				Message: "stream ended before RUN_MAP or RUN_REDUCE",
			}
		}
		if err != nil {
			return err
		}

		switch cmd.Code {
		case pipes.SetJobConf:
			if err := r.setJobConf(ctx, cmd); err != nil {
				return err
			}
		case pipes.SetInputTypes:
			if ctx.keyType, err = stringArg(cmd, 0); err != nil {
				return err
			}
			if ctx.valueType, err = stringArg(cmd, 1); err != nil {
				return err
			}
			r.log.Debug("input types set", zap.String("key", ctx.keyType), zap.String("value", ctx.valueType))
		case pipes.AuthenticationReq:
			// recognized only; no digest is computed here
			r.log.Debug("authentication request ignored")
		case pipes.RunMap:
			reduces, _ := uintArg(cmd.Arg(1))
			ctx.privateOutput = r.privateEncoding && reduces > 0
			r.log.Info("running map phase", zap.Uint64("reduces", reduces), zap.Bool("private_output", ctx.privateOutput))
			return r.runMap(source, ctx)
		case pipes.RunReduce:
			r.log.Info("running reduce phase")
			return r.runReduce(source, ctx)
		case pipes.Close:
			r.log.Info("framework closed the stream before any phase")
			return nil
		case pipes.Abort:
			return pipes.NewProtocolAbort("framework requested abort")
		default:
			return &pipes.ProtocolError{
				Kind:    pipes.ErrorKindOutOfOrder,
				Code:    cmd.Code,
				Message: fmt.Sprintf("out of order command: %s", cmd.Code),
			}
		}
	}
}

func (r *Runner) handshake(source pipes.Iterator[pipes.Command]) error {
	cmd, err := source.Next()
	if errors.Is(err, pipes.ErrDone) {
		return &pipes.ProtocolError{
			Kind:    pipes.ErrorKindMalformed,
			Message: "stream ended before START_MESSAGE",
		}
	}
	if err != nil {
		return err
	}
	switch cmd.Code {
	case pipes.StartMessage:
	case pipes.Abort:
		return pipes.NewProtocolAbort("framework requested abort")
	default:
		return &pipes.ProtocolError{
			Kind:    pipes.ErrorKindOutOfOrder,
			Code:    cmd.Code,
			Message: fmt.Sprintf("expected START_MESSAGE, got %s", cmd.Code),
		}
	}

	if version, ok := uintArg(cmd.Arg(0)); cmd.Arg(0) != nil && (!ok || version != ProtocolVersion) {
		return &pipes.ProtocolError{
			Kind:    pipes.ErrorKindMalformed,
			Code:    pipes.StartMessage,
			Message: fmt.Sprintf("unsupported protocol version %v", cmd.Arg(0)),
		}
	}
	r.log.Debug("handshake complete")
	return nil
}

func (r *Runner) setJobConf(ctx *taskContext, cmd pipes.Command) error {
	pairs, ok := cmd.Arg(0).([]any)
	if !ok || len(pairs)%2 != 0 {
		return &pipes.ProtocolError{
			Kind:    pipes.ErrorKindMalformed,
			Code:    pipes.SetJobConf,
			Message: "SET_JOB_CONF: expected one list of key/value pairs",
		}
	}
	inner := pipes.Command{Code: pipes.SetJobConf, Args: pairs}
	for i := 0; i < len(pairs); i += 2 {
		k, err := stringArg(inner, i)
		if err != nil {
			return err
		}
		v, err := stringArg(inner, i+1)
		if err != nil {
			return err
		}
		ctx.jobConf[k] = v
	}
	r.log.Debug("job conf received", zap.Int("entries", len(pairs)/2))
	return nil
}

func (r *Runner) runMap(source pipes.Iterator[pipes.Command], ctx *taskContext) error {
	if r.mapper == nil {
		return errors.New("RUN_MAP received but no mapper is configured")
	}
	items := pipes.NewKeyValueStream(source)
	for {
		args, err := items.Next()
		if errors.Is(err, pipes.ErrDone) {
			return nil
		}
		if err != nil {
			return err
		}
		item := pipes.Command{Code: pipes.MapItem, Args: args}
		key, err := item.BytesArg(0)
		if err != nil {
			return err
		}
		value, err := item.BytesArg(1)
		if err != nil {
			return err
		}
		if err := r.mapper.Map(ctx, key, value); err != nil {
			return fmt.Errorf("map: %w", err)
		}
	}
}

func (r *Runner) runReduce(source pipes.Iterator[pipes.Command], ctx *taskContext) error {
	if r.reducer == nil {
		return errors.New("RUN_REDUCE received but no reducer is configured")
	}
	groups := pipes.NewKeyValuesStream(source, r.privateEncoding)
	if r.privateDecoder != nil {
		groups.SetPrivateDecoder(r.privateDecoder)
	}
	for {
		key, values, err := groups.Next()
		if errors.Is(err, pipes.ErrDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.reducer.Reduce(ctx, key, values); err != nil {
			return fmt.Errorf("reduce: %w", err)
		}
		if r.drainUnread && !values.Exhausted() {
			skipped, err := values.Drain()
			if err != nil {
				return err
			}
			if skipped > 0 {
				r.log.Warn("reducer left values unread", zap.Int("skipped", skipped))
			}
		}
	}
}

func stringArg(cmd pipes.Command, i int) (string, error) {
	b, err := cmd.BytesArg(i)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func uintArg(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}
