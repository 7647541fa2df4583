package cbor

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/machinefabric/pipes-go"
)

// CommandReader reads length-prefixed CBOR commands from a stream
type CommandReader struct {
	reader io.Reader
	limits Limits
}

var _ pipes.CommandSource = (*CommandReader)(nil)

// NewCommandReader creates a new CommandReader
func NewCommandReader(r io.Reader) *CommandReader {
	return &CommandReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (cr *CommandReader) SetLimits(limits Limits) {
	cr.limits = limits
}

// ReadCommand reads a single command. It returns io.EOF only when the stream
// ends exactly on a frame boundary; a frame cut short yields
// io.ErrUnexpectedEOF.
func (cr *CommandReader) ReadCommand() (pipes.Command, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(cr.reader, lengthBuf[:]); err != nil {
		return pipes.Command{}, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if int64(length) > int64(cr.limits.Effective()) {
		return pipes.Command{}, fmt.Errorf("frame size %d exceeds max_frame limit %d", length, cr.limits.Effective())
	}

	frameBuf := make([]byte, length)
	if _, err := io.ReadFull(cr.reader, frameBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return pipes.Command{}, io.ErrUnexpectedEOF
		}
		return pipes.Command{}, err
	}

	return DecodeCommand(frameBuf)
}

// Close closes the underlying reader when it is an io.Closer
func (cr *CommandReader) Close() error {
	if c, ok := cr.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CommandWriter writes length-prefixed CBOR commands to a stream. Output is
// buffered until Flush.
type CommandWriter struct {
	writer *bufio.Writer
	under  io.Writer
	limits Limits
}

var _ pipes.CommandSink = (*CommandWriter)(nil)

// NewCommandWriter creates a new CommandWriter
func NewCommandWriter(w io.Writer) *CommandWriter {
	return &CommandWriter{
		writer: bufio.NewWriter(w),
		under:  w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (cw *CommandWriter) SetLimits(limits Limits) {
	cw.limits = limits
}

// WriteCommand writes a single command. An oversized command is rejected
// before any byte reaches the buffer.
func (cw *CommandWriter) WriteCommand(cmd pipes.Command) error {
	frameBuf, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	if len(frameBuf) > cw.limits.Effective() {
		return fmt.Errorf("encoded %s size %d exceeds max_frame limit %d", cmd.Code, len(frameBuf), cw.limits.Effective())
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(frameBuf)))
	if _, err := cw.writer.Write(lengthBuf[:]); err != nil {
		return err
	}
	if _, err := cw.writer.Write(frameBuf); err != nil {
		return err
	}
	return nil
}

// Flush writes buffered commands to the underlying writer
func (cw *CommandWriter) Flush() error {
	return cw.writer.Flush()
}

// Close closes the underlying writer when it is an io.Closer. Buffered
// commands are dropped.
func (cw *CommandWriter) Close() error {
	if c, ok := cw.under.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
