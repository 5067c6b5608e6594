// Package inbox renders fetched messages in a full-screen Bubble Tea view:
// a message table and a reading pane.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailclient/internal/app"
	"github.com/nhle/mailclient/internal/keys"
	"github.com/nhle/mailclient/internal/model"
	"github.com/nhle/mailclient/internal/theme"
)

const (
	defaultWidth  = 100
	defaultHeight = 24
	// chrome is the number of lines taken by the title, status and help.
	chrome = 4
)

// Mode is the active pane.
type Mode int

const (
	ModeList Mode = iota
	ModeRead
)

// Model is the Bubble Tea model for the inbox view.
type Model struct {
	server model.Server
	emails []model.Email
	keys   *keys.KeyMap

	mode     Mode
	table    table.Model
	viewport viewport.Model
	help     help.Model

	width  int
	height int
}

// New creates an inbox model listing emails in the given order.
func New(server model.Server, emails []model.Email, k *keys.KeyMap) Model {
	t := table.New(
		table.WithColumns(columns(defaultWidth)),
		table.WithRows(rows(emails)),
		table.WithFocused(true),
		table.WithHeight(defaultHeight-chrome),
	)

	return Model{
		server:   server,
		emails:   emails,
		keys:     k,
		table:    t,
		viewport: viewport.New(defaultWidth, defaultHeight-chrome),
		help:     help.New(),
		width:    defaultWidth,
		height:   defaultHeight,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the inbox view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}

		if m.mode == ModeRead {
			if key.Matches(msg, m.keys.Back) {
				m.mode = ModeList
				return m, nil
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		if key.Matches(msg, m.keys.Select) && len(m.emails) > 0 {
			m.mode = ModeRead
			m.viewport.SetContent(m.renderEmail(m.emails[m.table.Cursor()]))
			m.viewport.GotoTop()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the inbox.
func (m Model) View() string {
	title := theme.HeaderStyle.Render(fmt.Sprintf("%s · %d messages", m.server.DisplayName, len(m.emails)))

	var body string
	if m.mode == ModeRead {
		body = theme.BorderStyle.Render(m.viewport.View())
	} else {
		body = theme.BorderStyle.Render(m.table.View())
	}

	status := theme.StatusBarStyle.Render(m.statusText())
	return lipgloss.JoinVertical(lipgloss.Left, title, body, status, m.help.View(m.keys))
}

// Mode returns the active pane.
func (m Model) Mode() Mode {
	return m.mode
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width

	inner := height - chrome - 2
	if inner < 3 {
		inner = 3
	}
	m.table.SetColumns(columns(width - 2))
	m.table.SetWidth(width - 2)
	m.table.SetHeight(inner)
	m.viewport.Width = width - 2
	m.viewport.Height = inner
}

func (m Model) statusText() string {
	if len(m.emails) == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d/%d", m.table.Cursor()+1, len(m.emails))
}

func (m Model) renderEmail(e model.Email) string {
	field := func(name, value string) string {
		return theme.FieldLabelStyle.Render(name+":") + " " + value
	}

	lines := []string{
		field("From", e.From),
		field("To", strings.Join(e.To, ", ")),
	}
	if len(e.Cc) > 0 {
		lines = append(lines, field("Cc", strings.Join(e.Cc, ", ")))
	}
	lines = append(lines, field("Subject", e.Subject), "", e.Body)

	return lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(lines, "\n"))
}

func columns(width int) []table.Column {
	uid := 8
	from := (width - uid) * 2 / 5
	if from < 10 {
		from = 10
	}
	subject := width - uid - from - 4
	if subject < 10 {
		subject = 10
	}
	return []table.Column{
		{Title: "UID", Width: uid},
		{Title: "From", Width: from},
		{Title: "Subject", Width: subject},
	}
}

func rows(emails []model.Email) []table.Row {
	out := make([]table.Row, len(emails))
	for i, e := range emails {
		out[i] = table.Row{e.UID, e.From, e.Subject}
	}
	return out
}

// Viewer shows the inbox as a full-screen program.
type Viewer struct {
	keys *keys.KeyMap
	opts []tea.ProgramOption
}

var _ app.InboxViewer = (*Viewer)(nil)

// NewViewer returns a Viewer. opts are passed to every tea.Program.
func NewViewer(k *keys.KeyMap, opts ...tea.ProgramOption) *Viewer {
	return &Viewer{keys: k, opts: opts}
}

// ShowInbox blocks until the user closes the view or ctx is cancelled.
func (v *Viewer) ShowInbox(ctx context.Context, server model.Server, emails []model.Email) error {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, v.opts...)
	_, err := tea.NewProgram(New(server, emails, v.keys), opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("showing inbox: %w", err)
	}
	return nil
}
