// Package app dispatches the mail client's commands and queries to the
// store, the message cache and freshly built protocol sessions, and runs
// the interactive console loop on top of them.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/mailclient/internal/message"
	"github.com/nhle/mailclient/internal/model"
	"github.com/nhle/mailclient/internal/store"
)

// Retriever is a retrieval session. A new one is built for every request.
type Retriever interface {
	FetchAll(ctx context.Context, params model.ConnectionParams) ([]model.RawMessage, error)
	Close() error
}

// Submitter is a submission session. A new one is built for every request.
type Submitter interface {
	Connect(ctx context.Context, host string, port int) error
	Authenticate(ctx context.Context, username, password string) error
	Send(ctx context.Context, msg model.OutboundMessage) error
	Close() error
}

// MessageCache persists raw messages per server.
type MessageCache interface {
	List(server string) ([]model.RawMessage, error)
	Store(server string, msgs []model.RawMessage) error
}

// App handles one request at a time on behalf of the runner.
type App struct {
	store   store.Store
	cache   MessageCache
	newIMAP func() Retriever
	newSMTP func() Submitter
	logger  *slog.Logger
	mailbox string
}

// Option configures an App.
type Option func(*App)

// WithMailbox sets the mailbox FetchInbox reads. Empty means INBOX.
func WithMailbox(name string) Option {
	return func(a *App) { a.mailbox = name }
}

// New creates an App. newIMAP and newSMTP build a fresh session per call.
func New(
	s store.Store,
	cache MessageCache,
	newIMAP func() Retriever,
	newSMTP func() Submitter,
	logger *slog.Logger,
	opts ...Option,
) *App {
	a := &App{
		store:   s,
		cache:   cache,
		newIMAP: newIMAP,
		newSMTP: newSMTP,
		logger:  logger,
		mailbox: model.DefaultMailbox,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// handle runs fn and logs its failure under the request's name.
func handle[T any](a *App, request string, fn func() (T, error)) (T, error) {
	res, err := fn()
	if err != nil {
		a.logger.Error("Error handling "+request, "error", err)
	}
	return res, err
}

// AddServer saves a new account and returns its id.
func (a *App) AddServer(ctx context.Context, cred model.ServerCredential) (string, error) {
	return handle(a, "AddServerCommand", func() (string, error) {
		id, err := a.store.AddServer(ctx, cred)
		if err != nil {
			return "", fmt.Errorf("adding server: %w", err)
		}
		a.logger.Info("server added", "server_id", id, "name", cred.DisplayName)
		return id, nil
	})
}

// DeleteServer removes an account.
func (a *App) DeleteServer(ctx context.Context, id string) error {
	_, err := handle(a, "DeleteServerCommand", func() (struct{}, error) {
		if err := a.store.DeleteServer(ctx, id); err != nil {
			return struct{}{}, fmt.Errorf("deleting server: %w", err)
		}
		a.logger.Info("server deleted", "server_id", id)
		return struct{}{}, nil
	})
	return err
}

// ListServers returns the saved accounts.
func (a *App) ListServers(ctx context.Context) ([]model.Server, error) {
	return handle(a, "FetchServersQuery", func() ([]model.Server, error) {
		servers, err := a.store.ListServers(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing servers: %w", err)
		}
		return servers, nil
	})
}

// GetServerCredentials returns the full account record for id.
func (a *App) GetServerCredentials(ctx context.Context, id string) (*model.ServerCredential, error) {
	return handle(a, "GetServerCredentialsCommand", func() (*model.ServerCredential, error) {
		cred, err := a.store.GetCredentials(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading server credentials: %w", err)
		}
		return cred, nil
	})
}

// SendEmail submits email from the account's username through its SMTP
// endpoint.
func (a *App) SendEmail(ctx context.Context, serverID string, email model.NewEmail) error {
	_, err := handle(a, "NewEmailCommand", func() (struct{}, error) {
		return struct{}{}, a.sendEmail(ctx, serverID, email)
	})
	return err
}

func (a *App) sendEmail(ctx context.Context, serverID string, email model.NewEmail) error {
	cred, err := a.store.GetCredentials(ctx, serverID)
	if err != nil {
		return fmt.Errorf("loading server credentials: %w", err)
	}

	client := a.newSMTP()
	// The message is already accepted when QUIT fails; that is only logged.
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			a.logger.Warn("closing smtp session", "server_id", serverID, "error", closeErr)
		}
	}()

	if err := client.Connect(ctx, cred.SMTPHost, cred.SMTPPort); err != nil {
		return err
	}
	if err := client.Authenticate(ctx, cred.Username, cred.Password); err != nil {
		return err
	}

	msg := model.OutboundMessage{
		From:    cred.Username,
		To:      email.To,
		Cc:      email.Cc,
		Subject: email.Subject,
		Body:    email.Body,
	}
	if err := client.Send(ctx, msg); err != nil {
		return err
	}

	a.logger.Info("email sent", "server_id", serverID, "recipients", len(msg.To)+len(msg.Cc))
	return nil
}

// FetchInbox downloads the mailbox, caches the messages not seen before
// and returns the decoded new messages followed by the cached ones.
// Messages that cannot be decoded are logged and left out.
func (a *App) FetchInbox(ctx context.Context, serverID string) ([]model.Email, error) {
	return handle(a, "FetchEmailsQuery", func() ([]model.Email, error) {
		return a.fetchInbox(ctx, serverID)
	})
}

func (a *App) fetchInbox(ctx context.Context, serverID string) ([]model.Email, error) {
	cred, err := a.store.GetCredentials(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("loading server credentials: %w", err)
	}

	cached, err := a.cache.List(cred.IMAPHost)
	if err != nil {
		return nil, fmt.Errorf("reading message cache: %w", err)
	}
	seen := make(map[string]bool, len(cached))
	for _, m := range cached {
		seen[m.UID] = true
	}

	client := a.newIMAP()
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			a.logger.Warn("closing imap session", "server_id", serverID, "error", closeErr)
		}
	}()

	fetched, err := client.FetchAll(ctx, cred.IMAPParams(a.mailbox))
	if err != nil {
		return nil, err
	}

	var fresh []model.RawMessage
	for _, m := range fetched {
		if !seen[m.UID] {
			seen[m.UID] = true
			fresh = append(fresh, m)
		}
	}
	if len(fresh) > 0 {
		if err := a.cache.Store(cred.IMAPHost, fresh); err != nil {
			return nil, fmt.Errorf("caching messages: %w", err)
		}
	}
	a.logger.Info("inbox fetched", "server_id", serverID, "fetched", len(fetched), "new", len(fresh))

	emails := make([]model.Email, 0, len(fresh)+len(cached))
	for _, raw := range append(fresh, cached...) {
		email, err := message.Decode(raw)
		if err != nil {
			a.logger.Warn("skipping undecodable message", "uid", raw.UID, "error", err)
			continue
		}
		emails = append(emails, email)
	}
	return emails, nil
}
