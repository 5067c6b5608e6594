package model

import "time"

// Default ports for implicit-TLS mail endpoints.
const (
	DefaultIMAPPort = 993
	DefaultSMTPPort = 465
)

// ServerCredential is a saved mail account: the retrieval and submission
// endpoints plus the login used for both.
type ServerCredential struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	IMAPHost    string    `json:"imap_host" db:"imap_host"`
	IMAPPort    int       `json:"imap_port" db:"imap_port"`
	SMTPHost    string    `json:"smtp_host" db:"smtp_host"`
	SMTPPort    int       `json:"smtp_port" db:"smtp_port"`
	Username    string    `json:"username" db:"username"`
	Password    string    `json:"-" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// IMAPParams returns the retrieval connection parameters for mailbox.
func (c ServerCredential) IMAPParams(mailbox string) ConnectionParams {
	return ConnectionParams{
		Host:     c.IMAPHost,
		Port:     c.IMAPPort,
		Username: c.Username,
		Password: c.Password,
		Mailbox:  mailbox,
	}
}

// Server is the list-view projection of a ServerCredential.
type Server struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
}
