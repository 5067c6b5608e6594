// Package prompt implements the runner's console prompts with huh forms.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailclient/internal/app"
	"github.com/nhle/mailclient/internal/message"
	"github.com/nhle/mailclient/internal/model"
)

// Prompter asks for input with interactive huh forms.
type Prompter struct {
	width int
	// accessible switches huh to its line-based mode for screen readers
	// and dumb terminals.
	accessible bool
}

var _ app.Prompter = (*Prompter)(nil)

// New returns a Prompter. A width of zero lets huh size the forms.
func New(width int, accessible bool) *Prompter {
	return &Prompter{width: width, accessible: accessible}
}

func (p *Prompter) run(ctx context.Context, form *huh.Form) error {
	if p.width > 0 {
		form = form.WithWidth(p.width)
	}
	err := form.WithAccessible(p.accessible).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return app.ErrAborted
	}
	return err
}

// SelectOperation shows the main menu.
func (p *Prompter) SelectOperation(ctx context.Context, selected *model.Server) (app.Operation, error) {
	title := "What would you like to do?"
	if selected != nil {
		title = fmt.Sprintf("%s (server: %s)", title, selected.DisplayName)
	}

	options := make([]huh.Option[app.Operation], 0, len(app.Operations()))
	for _, op := range app.Operations() {
		options = append(options, huh.NewOption(op.String(), op))
	}

	var op app.Operation
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[app.Operation]().
				Title(title).
				Options(options...).
				Value(&op),
		),
	)
	if err := p.run(ctx, form); err != nil {
		return 0, err
	}
	return op, nil
}

// serverForm holds the raw text bound to the add-server form.
type serverForm struct {
	name, imapHost, imapPort, smtpHost, smtpPort, username, password string
}

func (f serverForm) credential() (model.ServerCredential, error) {
	imapPort, err := parsePort(f.imapPort, model.DefaultIMAPPort)
	if err != nil {
		return model.ServerCredential{}, err
	}
	smtpPort, err := parsePort(f.smtpPort, model.DefaultSMTPPort)
	if err != nil {
		return model.ServerCredential{}, err
	}
	return model.ServerCredential{
		DisplayName: strings.TrimSpace(f.name),
		IMAPHost:    strings.TrimSpace(f.imapHost),
		IMAPPort:    imapPort,
		SMTPHost:    strings.TrimSpace(f.smtpHost),
		SMTPPort:    smtpPort,
		Username:    strings.TrimSpace(f.username),
		Password:    f.password,
	}, nil
}

// AddServer asks for a new account's endpoints and login.
func (p *Prompter) AddServer(ctx context.Context) (model.ServerCredential, error) {
	var f serverForm
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("A label for this account").
				Placeholder("Work Email").
				Value(&f.name).
				Validate(validateRequired("Name")),
			huh.NewInput().
				Title("IMAP Host").
				Description("Retrieval server hostname (implicit TLS)").
				Placeholder("imap.example.com").
				Value(&f.imapHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Placeholder(strconv.Itoa(model.DefaultIMAPPort)).
				Value(&f.imapPort).
				Validate(validatePort),
			huh.NewInput().
				Title("SMTP Host").
				Description("Submission server hostname (implicit TLS)").
				Placeholder("smtp.example.com").
				Value(&f.smtpHost).
				Validate(validateRequired("SMTP Host")),
			huh.NewInput().
				Title("SMTP Port").
				Placeholder(strconv.Itoa(model.DefaultSMTPPort)).
				Value(&f.smtpPort).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Description("Account login, also used as the sender address").
				Placeholder("user@example.com").
				Value(&f.username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Account password or app password").
				EchoMode(huh.EchoModePassword).
				Value(&f.password).
				Validate(validateRequired("Password")),
		),
	)
	if err := p.run(ctx, form); err != nil {
		return model.ServerCredential{}, err
	}
	return f.credential()
}

// SelectServer lets the user pick one of servers.
func (p *Prompter) SelectServer(ctx context.Context, title string, servers []model.Server) (model.Server, error) {
	options := make([]huh.Option[int], len(servers))
	for i, s := range servers {
		options[i] = huh.NewOption(s.DisplayName, i)
	}

	var idx int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title(title).
				Options(options...).
				Value(&idx),
		),
	)
	if err := p.run(ctx, form); err != nil {
		return model.Server{}, err
	}
	return servers[idx], nil
}

// ComposeEmail asks for recipients, subject and body.
func (p *Prompter) ComposeEmail(ctx context.Context) (model.NewEmail, error) {
	var to, cc, subject, body string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("To").
				Description("Recipients separated by commas or semicolons").
				Value(&to).
				Validate(validateRecipients),
			huh.NewInput().
				Title("Cc").
				Description("Optional").
				Value(&cc),
			huh.NewInput().
				Title("Subject").
				Value(&subject).
				Validate(validateRequired("Subject")),
			huh.NewText().
				Title("Body").
				Value(&body),
		),
	)
	if err := p.run(ctx, form); err != nil {
		return model.NewEmail{}, err
	}
	return model.NewEmail{
		To:      message.SplitAddresses(to),
		Cc:      message.SplitAddresses(cc),
		Subject: strings.TrimSpace(subject),
		Body:    body,
	}, nil
}

// --- Validators ---

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

// validatePort accepts an empty value, which selects the default port.
func validatePort(s string) error {
	_, err := parsePort(s, 1)
	return err
}

func validateRecipients(s string) error {
	if len(message.SplitAddresses(s)) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	return nil
}

func parsePort(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535")
	}
	return n, nil
}
