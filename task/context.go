package task

import (
	"fmt"

	"github.com/machinefabric/pipes-go"
)

// Sender is the up stream as the runner sees it. *pipes.UpStreamAdapter
// satisfies it.
type Sender interface {
	Send(code pipes.Code, args ...any) error
	Flush() error
}

// Counter is a framework counter registered by the task
type Counter struct {
	ID    uint64
	Group string
	Name  string
}

// Context is handed to map and reduce callbacks. Everything it emits goes to
// the framework through the up stream.
type Context interface {
	// JobConf returns a copy of the configuration sent with SET_JOB_CONF
	JobConf() map[string]string
	// InputTypes returns the key and value type names from SET_INPUT_TYPES
	InputTypes() (key, value string)

	Emit(key, value any) error
	EmitPartitioned(partition uint64, key, value any) error
	SetStatus(status string) error
	Progress(fraction float32) error
	RegisterCounter(group, name string) (*Counter, error)
	IncrementCounter(counter *Counter, amount uint64) error
}

type taskContext struct {
	up        Sender
	jobConf   map[string]string
	keyType   string
	valueType string

	nextCounter uint64
	emitted     uint64

	// privateOutput is set for map tasks that feed reducers under private
	// encoding: emitted keys and values are then encoded so the reduce side
	// can decode them.
	privateOutput bool

	// aborted is set as soon as ABORT is seen on the down stream. From then
	// on nothing else may be written.
	aborted error
}

var _ Context = (*taskContext)(nil)

func newTaskContext(up Sender) *taskContext {
	return &taskContext{
		up:      up,
		jobConf: make(map[string]string),
	}
}

func (c *taskContext) JobConf() map[string]string {
	conf := make(map[string]string, len(c.jobConf))
	for k, v := range c.jobConf {
		conf[k] = v
	}
	return conf
}

func (c *taskContext) InputTypes() (string, string) {
	return c.keyType, c.valueType
}

func (c *taskContext) send(code pipes.Code, args ...any) error {
	if c.aborted != nil {
		return c.aborted
	}
	return c.up.Send(code, args...)
}

func (c *taskContext) encodeRecord(key, value any) (any, any, error) {
	if !c.privateOutput {
		return key, value, nil
	}
	k, err := pipes.EncodePrivate(key)
	if err != nil {
		return nil, nil, err
	}
	v, err := pipes.EncodePrivate(value)
	if err != nil {
		return nil, nil, err
	}
	return k, v, nil
}

func (c *taskContext) Emit(key, value any) error {
	key, value, err := c.encodeRecord(key, value)
	if err != nil {
		return err
	}
	if err := c.send(pipes.Output, key, value); err != nil {
		return err
	}
	c.emitted++
	return nil
}

func (c *taskContext) EmitPartitioned(partition uint64, key, value any) error {
	key, value, err := c.encodeRecord(key, value)
	if err != nil {
		return err
	}
	if err := c.send(pipes.PartitionedOutput, partition, key, value); err != nil {
		return err
	}
	c.emitted++
	return nil
}

func (c *taskContext) SetStatus(status string) error {
	return c.send(pipes.Status, status)
}

func (c *taskContext) Progress(fraction float32) error {
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("progress %v out of range [0, 1]", fraction)
	}
	return c.send(pipes.Progress, fraction)
}

func (c *taskContext) RegisterCounter(group, name string) (*Counter, error) {
	counter := &Counter{ID: c.nextCounter, Group: group, Name: name}
	if err := c.send(pipes.RegisterCounter, counter.ID, group, name); err != nil {
		return nil, err
	}
	c.nextCounter++
	return counter, nil
}

func (c *taskContext) IncrementCounter(counter *Counter, amount uint64) error {
	if counter == nil || counter.ID >= c.nextCounter {
		return fmt.Errorf("counter was not registered by this task")
	}
	return c.send(pipes.IncrementCounter, counter.ID, amount)
}

// abortWatch marks the context aborted as soon as the down stream reports
// ABORT, whichever iterator happens to be pulling.
type abortWatch struct {
	source pipes.Iterator[pipes.Command]
	ctx    *taskContext
}

func (w *abortWatch) Next() (pipes.Command, error) {
	cmd, err := w.source.Next()
	switch {
	case err != nil && pipes.IsAbort(err):
		w.ctx.aborted = err
	case err == nil && cmd.Code == pipes.Abort:
		w.ctx.aborted = pipes.NewProtocolAbort("framework requested abort")
	}
	return cmd, err
}
