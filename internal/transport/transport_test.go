package transport_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailclient/internal/mailproto"
	"github.com/nhle/mailclient/internal/transport"
	"github.com/nhle/mailclient/tests/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startTLSEcho serves one greeting line and then echoes each line back.
func startTLSEcho(t *testing.T, cfg *tls.Config) int {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				if _, err := c.Write([]byte("* OK ready\r\n")); err != nil {
					return
				}
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if _, err := c.Write([]byte("echo " + line)); err != nil {
						return
					}
				}
			}(c)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestTLSDialerRoundTrip(t *testing.T) {
	serverCfg, pool := testutil.SelfSignedTLS(t)
	port := startTLSEcho(t, serverCfg)

	d := transport.NewTLSDialer(discardLogger(), &tls.Config{RootCAs: pool})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx, "127.0.0.1", port)
	require.NoError(t, err)
	defer conn.Close()

	greeting, err := conn.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "* OK ready", greeting)

	require.NoError(t, conn.WriteLine(ctx, "A001 NOOP"))
	line, err := conn.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo A001 NOOP", line)

	require.NoError(t, conn.Write(ctx, "first\r\nsecond\r\n"))
	require.NoError(t, conn.Flush(ctx))
	first, err := conn.ReadLine(ctx)
	require.NoError(t, err)
	second, err := conn.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "echo first", first)
	assert.Equal(t, "echo second", second)
}

func TestTLSDialerRejectsUntrustedCertificate(t *testing.T) {
	serverCfg, _ := testutil.SelfSignedTLS(t)
	port := startTLSEcho(t, serverCfg)

	d := transport.NewTLSDialer(discardLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := d.Dial(ctx, "127.0.0.1", port)
	require.Error(t, err)
	assert.True(t, mailproto.IsTLSError(err), "got %v", err)
}

func TestTLSDialerConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d := transport.NewTLSDialer(discardLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = d.Dial(ctx, "127.0.0.1", port)
	require.Error(t, err)
	assert.True(t, mailproto.IsConnectionError(err), "got %v", err)
	assert.Contains(t, err.Error(), "127.0.0.1:"+strconv.Itoa(port))
}

func TestTLSDialerHonoursCancelledContext(t *testing.T) {
	d := transport.NewTLSDialer(discardLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dial(ctx, "127.0.0.1", 1)
	require.Error(t, err)
	assert.True(t, mailproto.IsCancellation(err), "got %v", err)
}

func TestConnReadLineCancelledByDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := transport.NewConn(client, "pipe")
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.ReadLine(ctx)
	require.Error(t, err)
	assert.True(t, mailproto.IsCancellation(err), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The connection stays usable with a fresh context.
	go func() { _, _ = server.Write([]byte("* OK later\r\n")) }()
	line, err := conn.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "* OK later", line)
}

func TestConnReadLineServerClosed(t *testing.T) {
	client, server := net.Pipe()
	conn := transport.NewConn(client, "pipe")
	defer conn.Close()
	require.NoError(t, server.Close())

	_, err := conn.ReadLine(context.Background())
	require.Error(t, err)
	assert.True(t, mailproto.IsProtocolError(err), "got %v", err)
}

func TestConnReadLineServerClosedMidLine(t *testing.T) {
	client, server := net.Pipe()
	conn := transport.NewConn(client, "pipe")
	defer conn.Close()

	go func() {
		_, _ = server.Write([]byte("* OK partial"))
		_ = server.Close()
	}()

	_, err := conn.ReadLine(context.Background())
	require.Error(t, err)
	assert.True(t, mailproto.IsProtocolError(err), "got %v", err)
}

func TestConnReadLineAssemblesLongLine(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := transport.NewConn(client, "pipe")
	defer conn.Close()

	long := strings.Repeat("y", 6000)
	go func() { _, _ = server.Write([]byte(long + "\r\n")) }()

	line, err := conn.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, long, line)
}

func TestConnReadLineRejectsOverlongLine(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := transport.NewConn(client, "pipe", transport.WithMaxLineLength(16))
	defer conn.Close()

	go func() { _, _ = server.Write([]byte(strings.Repeat("x", 64) + "\r\n")) }()

	_, err := conn.ReadLine(context.Background())
	require.Error(t, err)
	assert.True(t, mailproto.IsProtocolError(err), "got %v", err)
	assert.ErrorIs(t, err, transport.ErrLineTooLong)
}

func TestConnReadLineStopsWithoutLineFeed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := transport.NewConn(client, "pipe", transport.WithMaxLineLength(16))
	defer conn.Close()

	// Never terminated; the reader gives up once its buffer fills.
	go func() { _, _ = server.Write([]byte(strings.Repeat("x", 5000))) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := conn.ReadLine(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrLineTooLong)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := transport.NewConn(client, "pipe")

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}
