package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nhle/mailclient/internal/mailproto"
	"github.com/nhle/mailclient/internal/model"
	"github.com/nhle/mailclient/internal/theme"
)

// Operation is an entry of the main menu.
type Operation int

const (
	OpAddServer Operation = iota
	OpSelectServer
	OpDeleteServer
	OpFetchInbox
	OpSendEmail
	OpExit
)

var operationNames = map[Operation]string{
	OpAddServer:    "Add server",
	OpSelectServer: "Select server",
	OpDeleteServer: "Delete server",
	OpFetchInbox:   "Fetch inbox",
	OpSendEmail:    "Send email",
	OpExit:         "Exit",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// Operations lists the menu in display order.
func Operations() []Operation {
	return []Operation{OpAddServer, OpSelectServer, OpDeleteServer, OpFetchInbox, OpSendEmail, OpExit}
}

// ErrAborted is returned by a Prompter when the user backs out of a
// prompt.
var ErrAborted = errors.New("prompt aborted")

// Prompter collects the user's input for each operation.
type Prompter interface {
	SelectOperation(ctx context.Context, selected *model.Server) (Operation, error)
	AddServer(ctx context.Context) (model.ServerCredential, error)
	SelectServer(ctx context.Context, title string, servers []model.Server) (model.Server, error)
	ComposeEmail(ctx context.Context) (model.NewEmail, error)
}

// InboxViewer shows fetched messages.
type InboxViewer interface {
	ShowInbox(ctx context.Context, server model.Server, emails []model.Email) error
}

// Runner is the interactive loop: pick an operation, prompt, dispatch,
// render.
type Runner struct {
	app      *App
	prompter Prompter
	viewer   InboxViewer
	out      io.Writer
	logger   *slog.Logger

	selected *model.Server
}

// NewRunner creates a Runner writing its messages to out.
func NewRunner(a *App, p Prompter, v InboxViewer, out io.Writer, logger *slog.Logger) *Runner {
	return &Runner{app: a, prompter: p, viewer: v, out: out, logger: logger}
}

// Selected returns the currently selected server, if any.
func (r *Runner) Selected() *model.Server {
	return r.selected
}

// Run loops until the user exits or ctx is cancelled. Failed operations
// are reported and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		op, err := r.prompter.SelectOperation(ctx, r.selected)
		if err != nil {
			if errors.Is(err, ErrAborted) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("selecting operation: %w", err)
		}
		if op == OpExit {
			return nil
		}

		if err := r.dispatch(ctx, op); err != nil {
			r.report(ctx, op, err)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, op Operation) error {
	switch op {
	case OpAddServer:
		return r.addServer(ctx)
	case OpSelectServer:
		return r.selectServer(ctx)
	case OpDeleteServer:
		return r.deleteServer(ctx)
	case OpFetchInbox:
		return r.fetchInbox(ctx)
	case OpSendEmail:
		return r.sendEmail(ctx)
	default:
		return fmt.Errorf("unknown operation %v", op)
	}
}

func (r *Runner) addServer(ctx context.Context) error {
	cred, err := r.prompter.AddServer(ctx)
	if err != nil {
		return err
	}
	if _, err := r.app.AddServer(ctx, cred); err != nil {
		return err
	}
	r.printf("Server %q added.\n", cred.DisplayName)
	return nil
}

func (r *Runner) selectServer(ctx context.Context) error {
	srv, err := r.pickServer(ctx, "Select a server")
	if err != nil {
		return err
	}
	r.selected = &srv
	r.printf("Selected %q.\n", srv.DisplayName)
	return nil
}

func (r *Runner) deleteServer(ctx context.Context) error {
	srv, err := r.pickServer(ctx, "Delete which server?")
	if err != nil {
		return err
	}
	if err := r.app.DeleteServer(ctx, srv.ID); err != nil {
		return err
	}
	if r.selected != nil && r.selected.ID == srv.ID {
		r.selected = nil
	}
	r.printf("Server %q deleted.\n", srv.DisplayName)
	return nil
}

func (r *Runner) fetchInbox(ctx context.Context) error {
	if r.selected == nil {
		return errNoServerSelected
	}
	emails, err := r.app.FetchInbox(ctx, r.selected.ID)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		r.printf("No messages in %s.\n", r.selected.DisplayName)
		return nil
	}
	return r.viewer.ShowInbox(ctx, *r.selected, emails)
}

func (r *Runner) sendEmail(ctx context.Context) error {
	if r.selected == nil {
		return errNoServerSelected
	}
	email, err := r.prompter.ComposeEmail(ctx)
	if err != nil {
		return err
	}
	if err := r.app.SendEmail(ctx, r.selected.ID, email); err != nil {
		return err
	}
	r.printf("Email sent to %s.\n", strings.Join(append(append([]string{}, email.To...), email.Cc...), ", "))
	return nil
}

var (
	errNoServerSelected = errors.New("no server selected, choose one with \"Select server\" first")
	errNoServers        = errors.New("no servers saved yet, add one first")
)

func (r *Runner) pickServer(ctx context.Context, title string) (model.Server, error) {
	servers, err := r.app.ListServers(ctx)
	if err != nil {
		return model.Server{}, err
	}
	if len(servers) == 0 {
		return model.Server{}, errNoServers
	}
	return r.prompter.SelectServer(ctx, title, servers)
}

func (r *Runner) report(ctx context.Context, op Operation, err error) {
	switch {
	case errors.Is(err, ErrAborted):
		return
	case mailproto.IsCancellation(err) || ctx.Err() != nil:
		r.printf("Operation was cancelled.\n")
	default:
		r.logger.Debug("operation failed", "operation", op.String(), "error", err)
		r.printf("%s\nPlease try again.\n", theme.ErrorStyle.Render(fmt.Sprintf("%s failed: %v", op, err)))
	}
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}
