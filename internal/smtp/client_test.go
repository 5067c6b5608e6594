package smtp_test

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailclient/internal/mailproto"
	"github.com/nhle/mailclient/internal/model"
	"github.com/nhle/mailclient/internal/smtp"
	"github.com/nhle/mailclient/tests/testutil"
)

func newClient(conn *testutil.ScriptedConn, opts ...smtp.Option) *smtp.Client {
	return smtp.New(&testutil.Dialer{Conn: conn}, slog.New(slog.DiscardHandler), opts...)
}

func TestSendFullSession(t *testing.T) {
	conn := testutil.NewScriptedConn(
		"220 smtp.example.com ESMTP",
		"235 2.7.0 Authentication successful",
		"250 OK",
		"250 OK",
		"250 OK",
		"250 OK",
		"354 End data with <CR><LF>.<CR><LF>",
		"250 OK queued",
		"221 Bye",
	)
	c := newClient(conn)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "smtp.example.com", 465))
	require.NoError(t, c.Authenticate(ctx, "alice@example.com", "pw"))
	require.NoError(t, c.Send(ctx, model.OutboundMessage{
		From:    "alice@example.com",
		To:      []string{"bob@example.com", "carol@example.com"},
		Cc:      []string{"dave@example.com"},
		Subject: "Hello",
		Body:    "Hi all",
	}))
	require.NoError(t, c.Close())

	token := base64.StdEncoding.EncodeToString([]byte("\x00alice@example.com\x00pw"))
	assert.Equal(t, []string{
		"AUTH PLAIN " + token,
		"MAIL FROM:<alice@example.com>",
		"RCPT TO:<bob@example.com>",
		"RCPT TO:<carol@example.com>",
		"RCPT TO:<dave@example.com>",
		"DATA",
		"From: alice@example.com\r\n" +
			"To: bob@example.com, carol@example.com\r\n" +
			"Cc: dave@example.com\r\n" +
			"Subject: Hello\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Hi all\r\n" +
			".\r\n",
		"QUIT",
	}, conn.Written())
	assert.Equal(t, 0, conn.Remaining())
	assert.Equal(t, 1, conn.CloseCount())
}

func TestSendOmitsEmptyCcAndStuffsDots(t *testing.T) {
	conn := testutil.NewScriptedConn("220 hi", "235 ok", "250 ok", "250 ok", "354 go", "250 ok")
	c := newClient(conn)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "smtp.example.com", 465))
	require.NoError(t, c.Authenticate(ctx, "a", "b"))
	require.NoError(t, c.Send(ctx, model.OutboundMessage{
		From:    "a@example.com",
		To:      []string{"b@example.com"},
		Subject: "s",
		Body:    "line one\n.hidden",
	}))

	written := conn.Written()
	block := written[len(written)-1]
	assert.NotContains(t, block, "Cc:")
	assert.Contains(t, block, "line one\r\n..hidden\r\n.\r\n")
}

func TestAuthenticateRejected(t *testing.T) {
	conn := testutil.NewScriptedConn("220 hi", "535 5.7.8 bad credentials", "221 bye")
	c := newClient(conn)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "smtp.example.com", 465))
	err := c.Authenticate(ctx, "a", "wrong")
	require.Error(t, err)
	assert.True(t, mailproto.IsProtocolError(err))
	assert.Equal(t, smtp.StateConnected, c.State())

	var stateErr *smtp.StateError
	require.ErrorAs(t, c.Send(ctx, model.OutboundMessage{}), &stateErr)
	assert.NoError(t, c.Close())
}

func TestCloseReleasesWhenQuitFails(t *testing.T) {
	conn := testutil.NewScriptedConn("220 hi")
	conn.FailWritePrefix = "QUIT"
	c := newClient(conn)
	require.NoError(t, c.Connect(context.Background(), "smtp.example.com", 465))

	err := c.Close()
	require.Error(t, err)
	assert.True(t, mailproto.IsConnectionError(err))
	assert.Equal(t, 1, conn.CloseCount())

	assert.NoError(t, c.Close(), "second close is a no-op")
	assert.Equal(t, 1, conn.CloseCount())
	assert.Equal(t, smtp.StateClosed, c.State())
}

func TestCloseWhenServerHangsUpOnQuit(t *testing.T) {
	conn := testutil.NewScriptedConn("220 hi")
	c := newClient(conn)
	require.NoError(t, c.Connect(context.Background(), "smtp.example.com", 465))

	err := c.Close()
	require.Error(t, err)
	assert.True(t, mailproto.IsProtocolError(err))
	assert.Equal(t, 1, conn.CloseCount())
}

func TestStalledReadTimesOut(t *testing.T) {
	conn := testutil.NewScriptedConn("220 hi")
	conn.HangWhenDrained = true
	c := newClient(conn, smtp.WithTimeout(20*time.Millisecond))
	require.NoError(t, c.Connect(context.Background(), "smtp.example.com", 465))

	start := time.Now()
	err := c.Authenticate(context.Background(), "a", "b")
	require.Error(t, err)
	assert.True(t, mailproto.IsCancellation(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectCancelledByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := smtp.New(&testutil.Dialer{Hang: true}, slog.New(slog.DiscardHandler))
	err := c.Connect(ctx, "smtp.example.com", 465)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NoError(t, c.Close())
}

func TestGreetingRejected(t *testing.T) {
	conn := testutil.NewScriptedConn("554 no service", "221 bye")
	c := newClient(conn)

	err := c.Connect(context.Background(), "smtp.example.com", 465)
	require.Error(t, err)
	assert.True(t, mailproto.IsProtocolError(err))
	require.NoError(t, c.Close())
	assert.Equal(t, 1, conn.CloseCount(), "transport acquired at connect is still released")
}

func TestCloseSendsQuitOnce(t *testing.T) {
	conn := testutil.NewScriptedConn("220 hi", "221 bye")
	c := newClient(conn)
	require.NoError(t, c.Connect(context.Background(), "smtp.example.com", 465))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, []string{"QUIT"}, conn.Written())
	assert.Equal(t, 1, conn.CloseCount())
	assert.Equal(t, smtp.StateClosed, c.State())
}

func TestCloseIsBoundedWhenQuitStalls(t *testing.T) {
	conn := testutil.NewScriptedConn("220 hi")
	conn.HangWhenDrained = true
	c := newClient(conn, smtp.WithCloseTimeout(20*time.Millisecond))
	require.NoError(t, c.Connect(context.Background(), "smtp.example.com", 465))

	start := time.Now()
	err := c.Close()
	require.Error(t, err)
	assert.True(t, mailproto.IsCancellation(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, conn.CloseCount())
}
