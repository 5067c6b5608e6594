package model

// DefaultMailbox is selected when ConnectionParams.Mailbox is empty.
const DefaultMailbox = "INBOX"

// ConnectionParams carries everything needed to open one retrieval session.
type ConnectionParams struct {
	Host     string
	Port     int
	Username string
	Password string

	// Mailbox defaults to INBOX when empty.
	Mailbox string
}

// MailboxOrDefault returns the mailbox to select.
func (p ConnectionParams) MailboxOrDefault() string {
	if p.Mailbox == "" {
		return DefaultMailbox
	}
	return p.Mailbox
}

// RawMessage is one fetched message: the server-assigned UID and the full
// wire content (header block plus body) with CRLF line endings.
type RawMessage struct {
	UID     string `json:"uid"`
	Content string `json:"content"`
}

// OutboundMessage is a message handed to the submission client.
type OutboundMessage struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
}

// Email is a decoded message ready for display.
type Email struct {
	UID     string   `json:"uid"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// NewEmail is what the user composes; the sender is filled in from the
// selected account.
type NewEmail struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
}
