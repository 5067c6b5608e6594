package app_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailclient/internal/app"
	"github.com/nhle/mailclient/internal/cache"
	"github.com/nhle/mailclient/internal/credential"
	"github.com/nhle/mailclient/internal/mailproto"
	"github.com/nhle/mailclient/internal/model"
	"github.com/nhle/mailclient/internal/store"
	"github.com/nhle/mailclient/tests/testutil"
)

type fakeRetriever struct {
	msgs   []model.RawMessage
	err    error
	params model.ConnectionParams
	closed int
}

func (f *fakeRetriever) FetchAll(_ context.Context, p model.ConnectionParams) ([]model.RawMessage, error) {
	f.params = p
	return f.msgs, f.err
}

func (f *fakeRetriever) Close() error {
	f.closed++
	return nil
}

type fakeSubmitter struct {
	calls   []string
	sent    []model.OutboundMessage
	authErr error
	closed  int
}

func (f *fakeSubmitter) Connect(_ context.Context, host string, port int) error {
	f.calls = append(f.calls, "connect")
	return nil
}

func (f *fakeSubmitter) Authenticate(_ context.Context, user, pass string) error {
	f.calls = append(f.calls, "auth "+user+" "+pass)
	return f.authErr
}

func (f *fakeSubmitter) Send(_ context.Context, msg model.OutboundMessage) error {
	f.calls = append(f.calls, "send")
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSubmitter) Close() error {
	f.closed++
	return errors.New("quit failed")
}

func rawEmail(uid, subject string) model.RawMessage {
	return model.RawMessage{
		UID:     uid,
		Content: "From: sender@example.com\r\nTo: me@example.com\r\nSubject: " + subject + "\r\n\r\nbody " + uid + "\r\n",
	}
}

type fixture struct {
	app   *app.App
	store *store.SQLiteStore
	cache *cache.Cache
	imap  *fakeRetriever
	smtp  *fakeSubmitter
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: testutil.NewTestStore(t, credential.NewMemoryVault()),
		cache: cache.New(t.TempDir()),
		imap:  &fakeRetriever{},
		smtp:  &fakeSubmitter{},
		logs:  &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(f.logs, nil))
	f.app = app.New(f.store, f.cache,
		func() app.Retriever { return f.imap },
		func() app.Submitter { return f.smtp },
		logger,
	)
	return f
}

func (f *fixture) addServer(t *testing.T) string {
	t.Helper()
	id, err := f.app.AddServer(context.Background(), model.ServerCredential{
		DisplayName: "Work",
		IMAPHost:    "imap.example.com",
		SMTPHost:    "smtp.example.com",
		Username:    "me@example.com",
		Password:    "pw",
	})
	require.NoError(t, err)
	return id
}

func TestFetchInboxCachesOnlyNewMessages(t *testing.T) {
	f := newFixture(t)
	id := f.addServer(t)
	require.NoError(t, f.cache.Store("imap.example.com", []model.RawMessage{rawEmail("1", "cached")}))

	f.imap.msgs = []model.RawMessage{rawEmail("1", "refetched"), rawEmail("2", "fresh")}

	emails, err := f.app.FetchInbox(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, emails, 2)
	assert.Equal(t, "2", emails[0].UID, "new messages first")
	assert.Equal(t, "fresh", emails[0].Subject)
	assert.Equal(t, "1", emails[1].UID)
	assert.Equal(t, "cached", emails[1].Subject, "cached copy is kept")

	assert.Equal(t, "imap.example.com", f.imap.params.Host)
	assert.Equal(t, model.DefaultIMAPPort, f.imap.params.Port)
	assert.Equal(t, "pw", f.imap.params.Password)
	assert.Equal(t, "INBOX", f.imap.params.MailboxOrDefault())
	assert.Equal(t, 1, f.imap.closed)

	stored, err := f.cache.List("imap.example.com")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestFetchInboxSkipsUndecodableMessages(t *testing.T) {
	f := newFixture(t)
	id := f.addServer(t)
	f.imap.msgs = []model.RawMessage{
		{UID: "5", Content: "Subject: no sender\r\n\r\nbody"},
		rawEmail("6", "ok"),
	}

	emails, err := f.app.FetchInbox(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "6", emails[0].UID)
	assert.Contains(t, f.logs.String(), "skipping undecodable message")
}

func TestFetchInboxFailureIsLoggedAndReturned(t *testing.T) {
	f := newFixture(t)
	id := f.addServer(t)
	f.imap.err = &mailproto.ProtocolError{Op: "login", Line: "A001 NO"}

	_, err := f.app.FetchInbox(context.Background(), id)
	require.Error(t, err)
	assert.True(t, mailproto.IsProtocolError(err))
	assert.Equal(t, 1, f.imap.closed, "session is released on failure")
	assert.Contains(t, f.logs.String(), "Error handling FetchEmailsQuery")
}

func TestFetchInboxUnknownServer(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.FetchInbox(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.imap.closed, "no session is built")
}

func TestSendEmailUsesAccountAsSender(t *testing.T) {
	f := newFixture(t)
	id := f.addServer(t)

	err := f.app.SendEmail(context.Background(), id, model.NewEmail{
		To:      []string{"a@example.com"},
		Cc:      []string{"b@example.com"},
		Subject: "Hi",
		Body:    "Hello",
	})
	require.NoError(t, err, "a failing QUIT after acceptance is not an error")

	assert.Equal(t, []string{"connect", "auth me@example.com pw", "send"}, f.smtp.calls)
	require.Len(t, f.smtp.sent, 1)
	assert.Equal(t, "me@example.com", f.smtp.sent[0].From)
	assert.Equal(t, []string{"b@example.com"}, f.smtp.sent[0].Cc)
	assert.Equal(t, 1, f.smtp.closed)
}

func TestSendEmailAuthFailureStopsBeforeSend(t *testing.T) {
	f := newFixture(t)
	id := f.addServer(t)
	f.smtp.authErr = &mailproto.ProtocolError{Op: "authenticate", Line: "535 denied"}

	err := f.app.SendEmail(context.Background(), id, model.NewEmail{To: []string{"a@example.com"}, Subject: "s"})
	require.Error(t, err)
	assert.NotContains(t, f.smtp.calls, "send")
	assert.Equal(t, 1, f.smtp.closed)
	assert.Contains(t, f.logs.String(), "Error handling NewEmailCommand")
}

func TestServerCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.addServer(t)

	servers, err := f.app.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, model.Server{ID: id, DisplayName: "Work"}, servers[0])

	cred, err := f.app.GetServerCredentials(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", cred.SMTPHost)

	require.NoError(t, f.app.DeleteServer(ctx, id))
	assert.ErrorIs(t, f.app.DeleteServer(ctx, id), store.ErrNotFound)
	assert.Contains(t, f.logs.String(), "Error handling DeleteServerCommand")
}
