// Package imap implements a minimal IMAP retrieval client that speaks the
// wire protocol directly over a transport.LineConn: LOGIN, SELECT,
// UID SEARCH ALL, one bulk UID FETCH and LOGOUT.
//
// A Client owns one session. Commands are issued strictly one at a time and
// a Client must not be used from several goroutines at once.
package imap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap/v2"

	"github.com/nhle/mailclient/internal/mailproto"
	"github.com/nhle/mailclient/internal/metrics"
	"github.com/nhle/mailclient/internal/model"
	"github.com/nhle/mailclient/internal/transport"
)

// Wire literals.
const (
	cmdLogin        = "LOGIN "
	cmdLogout       = "LOGOUT"
	cmdSelect       = "SELECT "
	cmdUIDSearchAll = "UID SEARCH ALL"
	cmdUIDFetch     = "UID FETCH %s (RFC822)"

	untaggedSearch = "* SEARCH"
	fetchKeyword   = "FETCH"

	lineEnding = "\r\n"
)

// Client is a single IMAP retrieval session.
type Client struct {
	dialer  transport.Dialer
	logger  *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration

	// closeTimeout bounds the exchange run by Close.
	closeTimeout time.Duration

	conn  transport.LineConn
	tags  mailproto.Tagger
	state State
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the bound applied to each top-level operation.
// Non-positive values mean mailproto.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCloseTimeout bounds the LOGOUT exchange run by Close. Non-positive
// values mean mailproto.DefaultCloseTimeout.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Client) { c.closeTimeout = d }
}

// WithMetrics records protocol counters on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a disconnected client. The dialer is used once, by Connect.
func New(dialer transport.Dialer, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		dialer:  dialer,
		logger:  logger.With("protocol", metrics.ProtocolIMAP),
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

// FetchAll runs the whole retrieval sequence under one bounded scope:
// connect, login, select, search and, when the mailbox is not empty, a
// single bulk fetch. The caller must still Close the client.
func (c *Client) FetchAll(ctx context.Context, params model.ConnectionParams) ([]model.RawMessage, error) {
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.Connect(ctx, params.Host, params.Port); err != nil {
		return nil, err
	}
	if err := c.Login(ctx, params.Username, params.Password); err != nil {
		return nil, err
	}
	if _, err := c.Select(ctx, params.MailboxOrDefault()); err != nil {
		return nil, err
	}

	uids, err := c.SearchAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return []model.RawMessage{}, nil
	}

	return c.FetchRaw(ctx, uids)
}

// Connect opens the transport and reads the server greeting.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if err := c.require("connect", StateConnected); err != nil {
		return err
	}
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx, host, port)
	if err != nil {
		return c.fail(ctx, "connect", err)
	}
	// From here on Close owns the transport, even if the greeting fails.
	c.conn = conn
	c.state = StateConnected

	if _, err := c.readLine(ctx); err != nil {
		return c.fail(ctx, "greeting", err)
	}
	return nil
}

// Login authenticates with LOGIN. Untagged lines before the tagged
// completion are informational.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.require("login", StateAuthenticated); err != nil {
		return err
	}
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	tag := c.tags.Next()
	cmd := cmdLogin + username + " " + password
	if err := c.send(ctx, tag, cmd, cmdLogin+username+" ****"); err != nil {
		return c.fail(ctx, "login", err)
	}
	lines, err := c.readUntilTagged(ctx, tag)
	if err != nil {
		return c.fail(ctx, "login", err)
	}
	if err := checkCompletion("login", tag, lines); err != nil {
		return c.fail(ctx, "login", err)
	}

	c.state = StateAuthenticated
	return nil
}

// Select opens mailbox (INBOX when empty) and returns the server's
// response block unparsed.
func (c *Client) Select(ctx context.Context, mailbox string) (string, error) {
	if err := c.require("select", StateSelected); err != nil {
		return "", err
	}
	if mailbox == "" {
		mailbox = model.DefaultMailbox
	}
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	tag := c.tags.Next()
	if err := c.send(ctx, tag, cmdSelect+mailbox, ""); err != nil {
		return "", c.fail(ctx, "select", err)
	}
	lines, err := c.readUntilTagged(ctx, tag)
	if err != nil {
		return "", c.fail(ctx, "select", err)
	}
	if err := checkCompletion("select", tag, lines); err != nil {
		return "", c.fail(ctx, "select", err)
	}

	block := strings.Join(lines, lineEnding) + lineEnding
	c.logger.Debug("mailbox selected", "mailbox", mailbox, "response", block)

	c.state = StateSelected
	return block, nil
}

// SearchAll runs UID SEARCH ALL and returns the identifiers in the order
// the server listed them. An empty mailbox yields an empty slice.
func (c *Client) SearchAll(ctx context.Context) ([]string, error) {
	if err := c.require("search", StateSearched); err != nil {
		return nil, err
	}
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	tag := c.tags.Next()
	if err := c.send(ctx, tag, cmdUIDSearchAll, ""); err != nil {
		return nil, c.fail(ctx, "search", err)
	}
	lines, err := c.readUntilTagged(ctx, tag)
	if err != nil {
		return nil, c.fail(ctx, "search", err)
	}
	if err := checkCompletion("search", tag, lines); err != nil {
		return nil, c.fail(ctx, "search", err)
	}

	c.state = StateSearched
	return parseSearch(lines), nil
}

// FetchRaw downloads the messages for uids with a single UID FETCH. The
// set sent is the lone UID or first:last of uids as given; uids are not
// sorted. With no uids no command is sent.
func (c *Client) FetchRaw(ctx context.Context, uids []string) ([]model.RawMessage, error) {
	if err := c.require("fetch", StateFetched); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		c.state = StateFetched
		return []model.RawMessage{}, nil
	}
	ctx, cancel := mailproto.WithTimeout(ctx, c.timeout)
	defer cancel()

	set, err := uidSet(uids)
	if err != nil {
		return nil, c.fail(ctx, "fetch", err)
	}

	tag := c.tags.Next()
	if err := c.send(ctx, tag, fmt.Sprintf(cmdUIDFetch, set), ""); err != nil {
		return nil, c.fail(ctx, "fetch", err)
	}

	msgs, err := c.readFetch(ctx, tag)
	if err != nil {
		return nil, c.fail(ctx, "fetch", err)
	}

	c.metrics.MessagesFetched(len(msgs))
	c.state = StateFetched
	return msgs, nil
}

// Close logs out and releases the transport. The transport is released
// even when LOGOUT fails; that error is returned afterwards. Calls after
// the first are no-ops.
func (c *Client) Close() error {
	if c.state == StateClosed {
		return nil
	}
	defer func() { c.state = StateClosed }()

	if c.conn == nil {
		return nil
	}

	closeTimeout := c.closeTimeout
	if closeTimeout <= 0 {
		closeTimeout = mailproto.DefaultCloseTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var logoutErr error
	tag := c.tags.Next()
	if err := c.send(ctx, tag, cmdLogout, ""); err != nil {
		logoutErr = err
	} else if _, err := c.readUntilTagged(ctx, tag); err != nil {
		logoutErr = err
	}
	if logoutErr != nil {
		logoutErr = c.fail(ctx, "logout", logoutErr)
	}

	closeErr := c.conn.Close()
	c.conn = nil
	if closeErr != nil {
		c.logger.Error("releasing imap transport", "error", closeErr)
		closeErr = fmt.Errorf("closing imap connection: %w", closeErr)
	}

	return errors.Join(logoutErr, closeErr)
}

// send writes "<tag> <cmd>". logAs replaces cmd in the log when it carries
// a secret.
func (c *Client) send(ctx context.Context, tag, cmd, logAs string) error {
	if logAs == "" {
		logAs = cmd
	}
	c.logger.Info("C: "+tag+" "+logAs, "dir", "C")
	c.metrics.CommandSent(metrics.ProtocolIMAP, commandVerb(cmd))
	return c.conn.WriteLine(ctx, tag+" "+cmd)
}

func (c *Client) readLine(ctx context.Context) (string, error) {
	line, err := c.conn.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	c.metrics.LineRead(metrics.ProtocolIMAP)
	c.logger.Info("S: "+line, "dir", "S")
	return line, nil
}

// readUntilTagged reads lines up to and including the one that starts
// with tag.
func (c *Client) readUntilTagged(ctx context.Context, tag string) ([]string, error) {
	var lines []string
	for {
		line, err := c.readLine(ctx)
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
		if isTagged(line, tag) {
			return lines, nil
		}
	}
}

// readFetch splits the FETCH response into one RawMessage per untagged
// FETCH line. Every other line up to the next FETCH line or the tagged
// completion is appended to the current block with a CRLF terminator.
// Literal sizes announced as {n} are not trusted for framing.
func (c *Client) readFetch(ctx context.Context, tag string) ([]model.RawMessage, error) {
	var (
		msgs []model.RawMessage
		buf  strings.Builder
		uid  string
		open bool
	)

	emit := func() {
		if open {
			msgs = append(msgs, model.RawMessage{UID: uid, Content: buf.String()})
			buf.Reset()
			open = false
		}
	}

	for {
		line, err := c.readLine(ctx)
		if err != nil {
			return nil, err
		}

		switch {
		case isTagged(line, tag):
			emit()
			if err := checkCompletion("fetch", tag, []string{line}); err != nil {
				return nil, err
			}
			return msgs, nil

		case strings.HasPrefix(line, "*") && strings.Contains(line, fetchKeyword):
			emit()
			id, err := fetchUID(line)
			if err != nil {
				return nil, err
			}
			uid = id
			open = true

		case open:
			buf.WriteString(line)
			buf.WriteString(lineEnding)
		}
	}
}

func isTagged(line, tag string) bool {
	return strings.HasPrefix(line, tag+" ")
}

// checkCompletion fails when the tagged line reports NO or BAD.
func checkCompletion(op, tag string, lines []string) error {
	if len(lines) == 0 {
		return &mailproto.ProtocolError{Op: op, Err: errors.New("missing tagged completion")}
	}
	last := lines[len(lines)-1]
	status := strings.TrimPrefix(last, tag+" ")
	switch {
	case strings.HasPrefix(status, "OK"):
		return nil
	case strings.HasPrefix(status, "NO"), strings.HasPrefix(status, "BAD"):
		return &mailproto.ProtocolError{Op: op, Line: last, Err: errors.New("command rejected")}
	default:
		return &mailproto.ProtocolError{Op: op, Line: last}
	}
}

// parseSearch returns every token after "* SEARCH" on the first search
// response line.
func parseSearch(lines []string) []string {
	for _, line := range lines {
		if !strings.HasPrefix(line, untaggedSearch) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) <= 2 {
			return []string{}
		}
		uids := make([]string, len(fields)-2)
		copy(uids, fields[2:])
		return uids
	}
	return []string{}
}

// uidSet renders the fetch set: one UID, or first:last.
func uidSet(uids []string) (string, error) {
	first, err := parseUID(uids[0])
	if err != nil {
		return "", err
	}
	if len(uids) == 1 {
		return goimap.UIDSetNum(first).String(), nil
	}

	last, err := parseUID(uids[len(uids)-1])
	if err != nil {
		return "", err
	}
	return goimap.UIDSet{goimap.UIDRange{Start: first, Stop: last}}.String(), nil
}

func parseUID(s string) (goimap.UID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, &mailproto.ProtocolError{Op: "fetch", Err: fmt.Errorf("invalid uid %q", s)}
	}
	return goimap.UID(n), nil
}

// fetchUID returns the token following "UID" in an untagged FETCH line.
func fetchUID(line string) (string, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '(' || r == ')'
	})
	for i, f := range fields {
		if f == "UID" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}
	return "", &mailproto.ProtocolError{Op: "fetch", Line: line, Err: errors.New("fetch response without UID")}
}

// commandVerb returns the label used for metrics, e.g. "UID FETCH".
func commandVerb(cmd string) string {
	fields := strings.Fields(cmd)
	switch {
	case len(fields) == 0:
		return ""
	case fields[0] == "UID" && len(fields) > 1:
		return fields[0] + " " + fields[1]
	default:
		return fields[0]
	}
}

// fail logs err at the point of detection and maps it to a cancellation
// when the operation's scope has fired.
func (c *Client) fail(ctx context.Context, op string, err error) error {
	err = mailproto.Cancelled(ctx, op, err)
	c.logger.Error("imap "+op+" failed", "error", err)
	c.metrics.SessionError(metrics.ProtocolIMAP, mailproto.Kind(err))
	return err
}
