// Package message decodes raw RFC 5322 messages into model.Email values.
package message

import (
	"errors"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"

	"github.com/nhle/mailclient/internal/model"
)

// ErrEmpty is returned for blank raw content.
var ErrEmpty = errors.New("raw message is empty")

// FormatError reports a message whose header block is malformed or lacks
// a mandatory field.
type FormatError struct {
	Header string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Header == "" {
		return "malformed message: " + e.Reason
	}
	return fmt.Sprintf("malformed message: %s header %s", e.Header, e.Reason)
}

// IsFormatError reports whether err (or any error in its chain) is a FormatError.
func IsFormatError(err error) bool {
	var target *FormatError
	return errors.As(err, &target)
}

// Decode parses raw into its headers and body. From, To and Subject are
// required. The body is the first text/plain part, or the first text/html
// part converted to text when no plain part exists.
func Decode(raw model.RawMessage) (model.Email, error) {
	if strings.TrimSpace(raw.Content) == "" {
		return model.Email{}, ErrEmpty
	}

	entity, err := gomessage.Read(strings.NewReader(terminateHeader(raw.Content)))
	if err != nil && !gomessage.IsUnknownCharset(err) && !gomessage.IsUnknownEncoding(err) {
		return model.Email{}, &FormatError{Reason: err.Error()}
	}
	header := mail.Header{Header: entity.Header}

	for _, name := range []string{"From", "To", "Subject"} {
		if headerText(header, name) == "" {
			return model.Email{}, &FormatError{Header: name, Reason: "is missing or empty"}
		}
	}

	email := model.Email{
		UID:     raw.UID,
		From:    headerText(header, "From"),
		To:      SplitAddresses(headerText(header, "To")),
		Cc:      SplitAddresses(headerText(header, "Cc")),
		Subject: headerText(header, "Subject"),
	}

	body, err := readBody(entity)
	if err != nil {
		return model.Email{}, fmt.Errorf("reading body of message %s: %w", raw.UID, err)
	}
	email.Body = body

	return email, nil
}

// SplitAddresses splits an address header on commas and semicolons,
// dropping empty entries.
func SplitAddresses(v string) []string {
	out := []string{}
	for _, a := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// headerText returns the decoded, trimmed value of key. Folded lines are
// already joined by the header reader.
func headerText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	return strings.TrimSpace(v)
}

func readBody(entity *gomessage.Entity) (string, error) {
	var plain, html string
	var havePlain, haveHTML bool

	err := entity.Walk(func(_ []int, part *gomessage.Entity, err error) error {
		if err != nil && !gomessage.IsUnknownCharset(err) {
			return err
		}
		contentType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(contentType, "multipart/") {
			return nil
		}
		if disp, _, _ := part.Header.ContentDisposition(); disp == "attachment" {
			return nil
		}

		switch {
		case !havePlain && (contentType == "" || contentType == "text/plain"):
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return err
			}
			plain, havePlain = string(b), true
		case !haveHTML && contentType == "text/html":
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return err
			}
			html, haveHTML = string(b), true
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	switch {
	case havePlain:
		return normalizeNewlines(plain), nil
	case haveHTML:
		return html2text.HTML2Text(html), nil
	default:
		return "", nil
	}
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// terminateHeader appends the blank line ending the header block when raw
// has no body.
func terminateHeader(raw string) string {
	if strings.Contains(raw, "\r\n\r\n") || strings.Contains(raw, "\n\n") {
		return raw
	}
	if strings.HasSuffix(raw, "\n") {
		return raw + "\r\n"
	}
	return raw + "\r\n\r\n"
}
