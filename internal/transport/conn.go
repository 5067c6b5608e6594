package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nhle/mailclient/internal/mailproto"
)

// LineConn is a line-oriented duplex channel to a mail server. Every
// blocking call is bounded by the context it is given.
type LineConn interface {
	// ReadLine returns the next line with its CRLF or LF terminator removed.
	ReadLine(ctx context.Context) (string, error)

	// WriteLine writes line followed by CRLF and flushes.
	WriteLine(ctx context.Context, line string) error

	// Write buffers s verbatim without flushing.
	Write(ctx context.Context, s string) error

	// Flush sends any buffered data.
	Flush(ctx context.Context) error

	// Close releases the underlying socket. Calling Close more than once
	// returns nil after the first call.
	Close() error
}

// interruptDeadline is a time in the past used to unblock pending I/O.
var interruptDeadline = time.Unix(1, 0)

// DefaultMaxLineLength caps a single server line, terminator included.
const DefaultMaxLineLength = 1 << 20

// ErrLineTooLong is returned by ReadLine when the server sends a line
// longer than the configured maximum.
var ErrLineTooLong = errors.New("server line exceeds maximum length")

// Conn implements LineConn over a net.Conn, usually a *tls.Conn.
type Conn struct {
	conn net.Conn
	addr string
	r    *bufio.Reader
	w    *bufio.Writer

	maxLine int

	closeOnce sync.Once
	closeErr  error
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithMaxLineLength caps the length of a line returned by ReadLine.
// Non-positive values mean DefaultMaxLineLength.
func WithMaxLineLength(n int) ConnOption {
	return func(c *Conn) {
		if n > 0 {
			c.maxLine = n
		}
	}
}

// NewConn wraps an established connection. addr is used in error messages.
func NewConn(c net.Conn, addr string, opts ...ConnOption) *Conn {
	conn := &Conn{
		conn:    c,
		addr:    addr,
		r:       bufio.NewReader(c),
		w:       bufio.NewWriter(c),
		maxLine: DefaultMaxLineLength,
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// ReadLine implements LineConn.
func (c *Conn) ReadLine(ctx context.Context) (string, error) {
	var line string
	err := c.do(ctx, "read", func() error {
		var buf []byte
		for {
			chunk, err := c.r.ReadSlice('\n')
			if len(buf)+len(chunk) > c.maxLine {
				return ErrLineTooLong
			}
			buf = append(buf, chunk...)
			switch {
			case err == nil:
				line = strings.TrimRight(string(buf), "\r\n")
				return nil
			case errors.Is(err, bufio.ErrBufferFull):
				continue
			default:
				return err
			}
		}
	})
	return line, err
}

// WriteLine implements LineConn.
func (c *Conn) WriteLine(ctx context.Context, line string) error {
	return c.do(ctx, "write", func() error {
		if _, err := c.w.WriteString(line + "\r\n"); err != nil {
			return err
		}
		return c.w.Flush()
	})
}

// Write implements LineConn.
func (c *Conn) Write(ctx context.Context, s string) error {
	return c.do(ctx, "write", func() error {
		_, err := c.w.WriteString(s)
		return err
	})
}

// Flush implements LineConn.
func (c *Conn) Flush(ctx context.Context) error {
	return c.do(ctx, "flush", c.w.Flush)
}

// Close implements LineConn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// do runs fn with the socket deadline tied to ctx: when ctx is done the
// deadline is moved into the past so the blocked call returns.
func (c *Conn) do(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &mailproto.CancellationError{Op: op, Err: err}
	}
	// A failed reset means the socket is already unusable; the I/O call
	// below reports the precise cause.
	_ = c.conn.SetDeadline(time.Time{})

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(interruptDeadline)
		close(fired)
	})

	err := fn()
	if !stop() {
		<-fired
	}
	if err != nil {
		return c.classify(ctx, op, err)
	}
	return nil
}

func (c *Conn) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return &mailproto.CancellationError{Op: op, Err: ctx.Err()}
	}
	if errors.Is(err, ErrLineTooLong) {
		return &mailproto.ProtocolError{Op: op, Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &mailproto.ProtocolError{Op: op, Err: errors.New("connection closed by server")}
	}
	return &mailproto.ConnectionError{Addr: c.addr, Err: err}
}
