// Package smtp implements a minimal SMTP submission client over an
// implicit-TLS transport.LineConn: greeting, AUTH PLAIN, one envelope with
// its DATA block, and QUIT. Every command reads exactly one reply line.
package smtp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/nhle/mailclient/internal/mailproto"
	"github.com/nhle/mailclient/internal/metrics"
	"github.com/nhle/mailclient/internal/model"
	"github.com/nhle/mailclient/internal/transport"
)

// Wire literals.
const (
	cmdAuthPlain = "AUTH PLAIN "
	cmdMailFrom  = "MAIL FROM:"
	cmdRcptTo    = "RCPT TO:"
	cmdData      = "DATA"
	cmdQuit      = "QUIT"

	contentType = "Content-Type: text/plain; charset=utf-8"
	crlf        = "\r\n"
)

// State is the position of a submission session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateError is returned when an operation is called out of order.
type StateError struct {
	Op      string
	Current State
	Want    State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("smtp %s: session is %s, want %s", e.Op, e.Current, e.Want)
}

// Client is a single SMTP submission session.
type Client struct {
	dialer  transport.Dialer
	logger  *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration

	// closeTimeout bounds the exchange run by Close.
	closeTimeout time.Duration

	conn  transport.LineConn
	state State
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the bound applied to each top-level operation.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCloseTimeout bounds the QUIT exchange run by Close. Non-positive
// values mean mailproto.DefaultCloseTimeout.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Client) { c.closeTimeout = d }
}

// WithMetrics records protocol counters on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a disconnected client.
func New(dialer transport.Dialer, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		dialer:  dialer,
		logger:  logger.With("protocol", metrics.ProtocolSMTP),
		timeout: mailproto.DefaultTimeout,

		closeTimeout: mailproto.DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current session state.
func (c *Client) State() State {
	return c.state
}

// Connect opens the transport and reads the greeting line.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if c.state != StateDisconnected {
		return &StateError{Op: "connect", Current: c.state, Want: StateDisconnected}
	}
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx, host, port)
	if err != nil {
		return c.fail(ctx, "connect", err)
	}
	c.conn = conn
	c.state = StateConnected

	if _, err := c.reply(ctx, "greeting"); err != nil {
		return c.fail(ctx, "greeting", err)
	}
	return nil
}

// Authenticate sends AUTH PLAIN with the initial response
// base64("\x00" + username + "\x00" + password).
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	if c.state != StateConnected {
		return &StateError{Op: "authenticate", Current: c.state, Want: StateConnected}
	}
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := plainToken(username, password)
	if err != nil {
		return c.fail(ctx, "authenticate", err)
	}
	if err := c.command(ctx, "authenticate", cmdAuthPlain+token, cmdAuthPlain+"****"); err != nil {
		return c.fail(ctx, "authenticate", err)
	}

	c.state = StateAuthenticated
	return nil
}

// Send submits msg: the envelope commands, then the DATA block terminated
// by a lone ".". Recipients are To followed by Cc, in order.
func (c *Client) Send(ctx context.Context, msg model.OutboundMessage) error {
	if c.state != StateAuthenticated {
		return &StateError{Op: "send", Current: c.state, Want: StateAuthenticated}
	}
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.command(ctx, "mail", cmdMailFrom+"<"+msg.From+">", ""); err != nil {
		return c.fail(ctx, "mail", err)
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.Cc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	for _, rcpt := range recipients {
		if err := c.command(ctx, "rcpt", cmdRcptTo+"<"+rcpt+">", ""); err != nil {
			return c.fail(ctx, "rcpt", err)
		}
	}

	if err := c.command(ctx, "data", cmdData, ""); err != nil {
		return c.fail(ctx, "data", err)
	}

	block := messageBlock(msg)
	c.logger.Info("C: <message block>", "dir", "C", "bytes", len(block))
	if err := c.conn.Write(ctx, block); err != nil {
		return c.fail(ctx, "data", err)
	}
	if err := c.conn.Flush(ctx); err != nil {
		return c.fail(ctx, "data", err)
	}
	if _, err := c.reply(ctx, "data"); err != nil {
		return c.fail(ctx, "data", err)
	}

	c.metrics.MessageSent()
	return nil
}

// Close sends QUIT and releases the transport. The transport is released
// even when QUIT fails; that error is returned afterwards. Calls after the
// first are no-ops.
func (c *Client) Close() error {
	if c.state == StateClosed {
		return nil
	}
	defer func() { c.state = StateClosed }()

	if c.conn == nil {
		return nil
	}

	conn := c.conn
	defer func() { c.conn = nil }()

	closeTimeout := c.closeTimeout
	if closeTimeout <= 0 {
		closeTimeout = mailproto.DefaultCloseTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	quitErr := c.command(ctx, "quit", cmdQuit, "")
	if quitErr != nil {
		quitErr = c.fail(ctx, "quit", quitErr)
	}

	closeErr := conn.Close()
	if closeErr != nil {
		c.logger.Error("releasing smtp transport", "error", closeErr)
		closeErr = fmt.Errorf("closing smtp connection: %w", closeErr)
	}

	return errors.Join(quitErr, closeErr)
}

// command writes one line and reads exactly one reply. logAs replaces line
// in the log when it carries a secret.
func (c *Client) command(ctx context.Context, op, line, logAs string) error {
	if logAs == "" {
		logAs = line
	}
	c.logger.Info("C: "+logAs, "dir", "C")
	c.metrics.CommandSent(metrics.ProtocolSMTP, commandVerb(line))
	if err := c.conn.WriteLine(ctx, line); err != nil {
		return err
	}
	_, err := c.reply(ctx, op)
	return err
}

// reply reads one reply line. Transient (4xx) and permanent (5xx)
// negative replies are protocol errors.
func (c *Client) reply(ctx context.Context, op string) (string, error) {
	line, err := c.conn.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	c.metrics.LineRead(metrics.ProtocolSMTP)
	c.logger.Info("S: "+line, "dir", "S")

	if len(line) > 0 && (line[0] == '4' || line[0] == '5') {
		return line, &mailproto.ProtocolError{Op: op, Line: line, Err: errors.New("negative reply")}
	}
	return line, nil
}

func plainToken(username, password string) (string, error) {
	_, ir, err := sasl.NewPlainClient("", username, password).Start()
	if err != nil {
		return "", fmt.Errorf("building PLAIN response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ir), nil
}

// messageBlock renders the DATA payload including the terminating ".".
func messageBlock(msg model.OutboundMessage) string {
	var b strings.Builder
	b.WriteString("From: " + msg.From + crlf)
	b.WriteString("To: " + strings.Join(msg.To, ", ") + crlf)
	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(msg.Cc, ", ") + crlf)
	}
	b.WriteString("Subject: " + msg.Subject + crlf)
	b.WriteString(contentType + crlf)
	b.WriteString(crlf)
	for _, line := range strings.Split(msg.Body, "\n") {
		line = strings.TrimSuffix(line, "\r")
		// A body line starting with "." would otherwise end the block early.
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		b.WriteString(line + crlf)
	}
	b.WriteString("." + crlf)
	return b.String()
}

func commandVerb(line string) string {
	switch {
	case strings.HasPrefix(line, cmdAuthPlain):
		return "AUTH"
	case strings.HasPrefix(line, cmdMailFrom):
		return "MAIL"
	case strings.HasPrefix(line, cmdRcptTo):
		return "RCPT"
	default:
		return line
	}
}

// fail logs err where it surfaced and maps it to a cancellation when the
// operation's scope has fired. A failure caused by the caller's own
// cancellation is not logged as an error.
func (c *Client) fail(ctx context.Context, op string, err error) error {
	err = mailproto.Cancelled(ctx, op, err)
	if mailproto.IsCancellation(err) {
		c.logger.Debug("smtp "+op+" cancelled", "error", err)
	} else {
		c.logger.Error("smtp "+op+" failed", "error", err)
	}
	c.metrics.SessionError(metrics.ProtocolSMTP, mailproto.Kind(err))
	return err
}
