// Package transport opens the duplex byte channel a task attempt talks to the
// framework over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Dial connects to the framework's command port.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial command port %s: %w", address, err)
	}
	return conn, nil
}

// FilePair reads the down stream from one file and writes the up stream to
// another. The framework uses it when the task runs against a recorded
// command file instead of a socket.
type FilePair struct {
	down *os.File
	up   *os.File
}

var _ io.ReadWriteCloser = (*FilePair)(nil)

// OpenFiles opens downPath for reading and creates (or truncates) upPath for
// writing.
func OpenFiles(downPath, upPath string) (*FilePair, error) {
	down, err := os.Open(downPath)
	if err != nil {
		return nil, fmt.Errorf("open down stream: %w", err)
	}
	up, err := os.Create(upPath)
	if err != nil {
		down.Close()
		return nil, fmt.Errorf("create up stream: %w", err)
	}
	return &FilePair{down: down, up: up}, nil
}

func (p *FilePair) Read(b []byte) (int, error) {
	return p.down.Read(b)
}

func (p *FilePair) Write(b []byte) (int, error) {
	return p.up.Write(b)
}

// Close closes both files, syncing the up stream first
func (p *FilePair) Close() error {
	syncErr := p.up.Sync()
	return errors.Join(syncErr, p.up.Close(), p.down.Close())
}
