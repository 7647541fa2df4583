package cbor

import (
	"io"

	"github.com/machinefabric/pipes-go"
)

// NewDownStreamAdapter reads the framework's down stream from r
func NewDownStreamAdapter(r io.Reader, limits Limits) *pipes.DownStreamAdapter {
	cr := NewCommandReader(r)
	cr.SetLimits(limits)
	return pipes.NewDownStreamAdapter(cr)
}

// NewUpStreamAdapter writes the task's up stream to w
func NewUpStreamAdapter(w io.Writer, limits Limits) *pipes.UpStreamAdapter {
	cw := NewCommandWriter(w)
	cw.SetLimits(limits)
	return pipes.NewUpStreamAdapter(cw)
}

// NewDownStreamWriter writes a down stream to w, as the framework would
func NewDownStreamWriter(w io.Writer, limits Limits) *pipes.DownStreamWriter {
	cw := NewCommandWriter(w)
	cw.SetLimits(limits)
	return pipes.NewDownStreamWriter(cw)
}

// NewUpStreamDecoder reads back an up stream captured from a task
func NewUpStreamDecoder(r io.Reader, limits Limits) *pipes.UpStreamDecoder {
	cr := NewCommandReader(r)
	cr.SetLimits(limits)
	return pipes.NewUpStreamDecoder(cr)
}
