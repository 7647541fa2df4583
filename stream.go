package pipes

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/machinefabric/pipes-go/logger"
)

// CommandSource decodes commands from a transport. ReadCommand returns io.EOF
// when the transport ends cleanly between two records.
type CommandSource interface {
	ReadCommand() (Command, error)
}

// CommandSink encodes commands onto a transport. Written commands may be
// buffered until Flush.
type CommandSink interface {
	WriteCommand(cmd Command) error
	Flush() error
}

// StreamReader pulls decoded commands from a CommandSource. When a vocabulary
// is attached, codes outside it are rejected as protocol violations.
//
// The first error returned by Next is latched: a reader that has hit EOF, a
// transport error or a protocol violation never reads from its source again.
type StreamReader struct {
	source CommandSource
	vocab  *Vocabulary
	log    logger.Logger
	err    error
}

// NewStreamReader creates a reader accepting any known code from either
// direction.
func NewStreamReader(source CommandSource) *StreamReader {
	return newStreamReader(source, nil)
}

func newStreamReader(source CommandSource, vocab *Vocabulary) *StreamReader {
	return &StreamReader{
		source: source,
		vocab:  vocab,
		log:    logger.NewNoopLogger(),
	}
}

// SetLogger replaces the reader's logger
func (r *StreamReader) SetLogger(l logger.Logger) {
	r.log = l
}

// Next returns the next command, or ErrDone at end of stream.
func (r *StreamReader) Next() (Command, error) {
	if r.err != nil {
		return Command{}, r.err
	}
	cmd, err := r.source.ReadCommand()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.log.Debug("transport reached end of stream")
			r.err = ErrDone
		} else {
			r.err = fmt.Errorf("read command: %w", err)
		}
		return Command{}, r.err
	}
	if err := r.validate(cmd.Code); err != nil {
		r.err = err
		return Command{}, err
	}
	r.log.Debug("received command", zap.Stringer("cmd", cmd.Code), zap.Int("args", len(cmd.Args)))
	return cmd, nil
}

func (r *StreamReader) validate(code Code) error {
	if r.vocab != nil {
		return r.vocab.Validate(code)
	}
	if !code.Known() {
		return &ProtocolError{
			Kind:    ErrorKindUnknownCommand,
			Code:    code,
			Message: fmt.Sprintf("unknown command code %d", uint8(code)),
		}
	}
	return nil
}

// Err returns the latched error, if any. ErrDone is returned after a clean end
// of stream.
func (r *StreamReader) Err() error {
	return r.err
}

// Close closes the underlying source when it is an io.Closer
func (r *StreamReader) Close() error {
	if c, ok := r.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// StreamWriter encodes outgoing commands. Text arguments are normalized to
// UTF-8 bytes, and the SET_JOB_CONF argument list is sent as one nested
// argument.
type StreamWriter struct {
	sink  CommandSink
	vocab *Vocabulary
	log   logger.Logger
}

// NewStreamWriter creates a writer accepting any known code
func NewStreamWriter(sink CommandSink) *StreamWriter {
	return newStreamWriter(sink, nil)
}

func newStreamWriter(sink CommandSink, vocab *Vocabulary) *StreamWriter {
	return &StreamWriter{
		sink:  sink,
		vocab: vocab,
		log:   logger.NewNoopLogger(),
	}
}

// SetLogger replaces the writer's logger
func (w *StreamWriter) SetLogger(l logger.Logger) {
	w.log = l
}

// Send writes one command. Nothing is written when code is rejected.
func (w *StreamWriter) Send(code Code, args ...any) error {
	if w.vocab != nil {
		if err := w.vocab.Validate(code); err != nil {
			return err
		}
	} else if !code.Known() {
		return &ProtocolError{
			Kind:    ErrorKindUnknownCommand,
			Code:    code,
			Message: fmt.Sprintf("unknown command code %d", uint8(code)),
		}
	}

	w.log.Debug("request to write", zap.Stringer("cmd", code), zap.Int("args", len(args)))
	normalized := normalizeArgs(args)
	if code == SetJobConf {
		normalized = []any{normalized}
	}
	if len(normalized) == 0 {
		normalized = nil
	}
	if err := w.sink.WriteCommand(Command{Code: code, Args: normalized}); err != nil {
		return fmt.Errorf("write %s: %w", code, err)
	}
	return nil
}

// Flush forces buffered commands out to the transport
func (w *StreamWriter) Flush() error {
	if err := w.sink.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close closes the underlying sink when it is an io.Closer. Pending output is
// not flushed.
func (w *StreamWriter) Close() error {
	if c, ok := w.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func normalizeArgs(args []any) []any {
	if len(args) == 0 {
		return []any{}
	}
	out := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok {
			out[i] = []byte(s)
			continue
		}
		out[i] = a
	}
	return out
}

// DownStreamAdapter is the task's view of the framework -> task stream. Only
// down codes are accepted. ABORT is turned into a ProtocolAbort and ends the
// stream for good.
type DownStreamAdapter struct {
	reader *StreamReader
}

// NewDownStreamAdapter binds a down-stream reader to source
func NewDownStreamAdapter(source CommandSource) *DownStreamAdapter {
	return &DownStreamAdapter{reader: newStreamReader(source, DownVocabulary)}
}

// SetLogger replaces the adapter's logger
func (d *DownStreamAdapter) SetLogger(l logger.Logger) {
	d.reader.SetLogger(l)
}

// Next returns the next down command, ErrDone at end of stream, or a
// ProtocolAbort when the framework aborted the task.
func (d *DownStreamAdapter) Next() (Command, error) {
	cmd, err := d.reader.Next()
	if err != nil {
		return Command{}, err
	}
	if cmd.Code == Abort {
		d.reader.log.Warn("framework sent ABORT")
		d.reader.err = NewProtocolAbort("framework requested abort")
		return Command{}, d.reader.err
	}
	return cmd, nil
}

// KeyValueStream returns the map-side item sequence over this stream
func (d *DownStreamAdapter) KeyValueStream() *KeyValueStream {
	return NewKeyValueStream(d)
}

// KeyValuesStream returns the reduce-side grouping over this stream
func (d *DownStreamAdapter) KeyValuesStream(privateEncoding bool) *KeyValuesStream {
	return NewKeyValuesStream(d, privateEncoding)
}

// Close closes the underlying source
func (d *DownStreamAdapter) Close() error {
	return d.reader.Close()
}

// UpStreamAdapter is the task's writer for the task -> framework stream.
// Only up codes may be sent.
type UpStreamAdapter struct {
	*StreamWriter
}

// NewUpStreamAdapter binds an up-stream writer to sink
func NewUpStreamAdapter(sink CommandSink) *UpStreamAdapter {
	return &UpStreamAdapter{newStreamWriter(sink, UpVocabulary)}
}

// DownStreamWriter is the framework's writer for the down stream. The task
// never uses it; it exists for simulators and tests.
type DownStreamWriter struct {
	*StreamWriter
}

// NewDownStreamWriter binds a down-stream writer to sink
func NewDownStreamWriter(sink CommandSink) *DownStreamWriter {
	return &DownStreamWriter{newStreamWriter(sink, DownVocabulary)}
}

// UpStreamDecoder reads back an up stream, e.g. a captured task output. It is
// a debugging aid; the framework side is not implemented here.
type UpStreamDecoder struct {
	*StreamReader
}

// NewUpStreamDecoder binds an up-stream reader to source
func NewUpStreamDecoder(source CommandSource) *UpStreamDecoder {
	return &UpStreamDecoder{newStreamReader(source, UpVocabulary)}
}
