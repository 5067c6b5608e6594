package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/nhle/mailclient/internal/mailproto"
	"github.com/nhle/mailclient/internal/transport"
)

// ScriptedConn is an in-memory transport.LineConn. Reads return the
// scripted server lines in order; writes are recorded.
type ScriptedConn struct {
	mu      sync.Mutex
	lines   []string
	written []string
	pending strings.Builder
	closed  int

	// HangWhenDrained makes ReadLine block until its context is done once
	// the script is exhausted, instead of reporting a closed connection.
	HangWhenDrained bool

	// FailWritePrefix makes WriteLine fail for lines starting with it.
	FailWritePrefix string
}

var _ transport.LineConn = (*ScriptedConn)(nil)

// NewScriptedConn returns a conn that will serve lines in order.
func NewScriptedConn(lines ...string) *ScriptedConn {
	return &ScriptedConn{lines: lines}
}

// Push appends more server lines to the script.
func (c *ScriptedConn) Push(lines ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, lines...)
}

// ReadLine implements transport.LineConn.
func (c *ScriptedConn) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &mailproto.CancellationError{Op: "read", Err: err}
	}

	c.mu.Lock()
	if len(c.lines) > 0 {
		line := c.lines[0]
		c.lines = c.lines[1:]
		c.mu.Unlock()
		return line, nil
	}
	hang := c.HangWhenDrained
	c.mu.Unlock()

	if hang {
		<-ctx.Done()
		return "", &mailproto.CancellationError{Op: "read", Err: ctx.Err()}
	}
	return "", &mailproto.ProtocolError{Op: "read", Err: errClosed}
}

// WriteLine implements transport.LineConn.
func (c *ScriptedConn) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return &mailproto.CancellationError{Op: "write", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWritePrefix != "" && strings.HasPrefix(line, c.FailWritePrefix) {
		return &mailproto.ConnectionError{Addr: "scripted", Err: errBrokenPipe}
	}
	c.written = append(c.written, line)
	return nil
}

// Write implements transport.LineConn.
func (c *ScriptedConn) Write(ctx context.Context, s string) error {
	if err := ctx.Err(); err != nil {
		return &mailproto.CancellationError{Op: "write", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.WriteString(s)
	return nil
}

// Flush implements transport.LineConn. Buffered data is recorded as one
// written entry.
func (c *ScriptedConn) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &mailproto.CancellationError{Op: "flush", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.Len() > 0 {
		c.written = append(c.written, c.pending.String())
		c.pending.Reset()
	}
	return nil
}

// Close implements transport.LineConn.
func (c *ScriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// Written returns everything written so far: one entry per WriteLine and
// one per flushed block.
func (c *ScriptedConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	copy(out, c.written)
	return out
}

// CloseCount reports how many times Close was called.
func (c *ScriptedConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Remaining reports how many scripted lines have not been read.
func (c *ScriptedConn) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Dialer is a transport.Dialer that hands out a fixed connection.
type Dialer struct {
	Conn transport.LineConn
	Err  error

	// Hang makes Dial block until its context is done.
	Hang bool

	mu    sync.Mutex
	calls int
	host  string
	port  int
}

var _ transport.Dialer = (*Dialer)(nil)

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (transport.LineConn, error) {
	d.mu.Lock()
	d.calls++
	d.host, d.port = host, port
	d.mu.Unlock()

	if d.Hang {
		<-ctx.Done()
		return nil, &mailproto.CancellationError{Op: "dial", Err: ctx.Err()}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Conn, nil
}

// Calls reports how many times Dial ran.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Target returns the host and port of the last Dial.
func (d *Dialer) Target() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.host, d.port
}
