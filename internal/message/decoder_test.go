package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailclient/internal/model"
)

func raw(content string) model.RawMessage {
	return model.RawMessage{UID: "100", Content: content}
}

func TestDecodePlainMessage(t *testing.T) {
	email, err := Decode(raw("From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com; carol@example.com,\r\n" +
		"Cc: dave@example.com\r\n" +
		"Subject: Quarterly\r\n" +
		" report\r\n" +
		"\r\n" +
		"Line one\r\n" +
		"Line two\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "100", email.UID)
	assert.Equal(t, "Alice <alice@example.com>", email.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, email.To)
	assert.Equal(t, []string{"dave@example.com"}, email.Cc)
	assert.Equal(t, "Quarterly report", email.Subject)
	assert.Equal(t, "Line one\nLine two\n", email.Body)
}

func TestDecodeHeadersOnly(t *testing.T) {
	email, err := Decode(raw("From: a@example.com\nTo: b@example.com\nSubject: hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi", email.Subject)
	assert.Empty(t, email.Body)
	assert.Empty(t, email.Cc)
}

func TestDecodeMissingHeaders(t *testing.T) {
	tests := []struct {
		name    string
		content string
		header  string
	}{
		{"no from", "To: b@example.com\r\nSubject: s\r\n\r\nbody", "From"},
		{"empty to", "From: a@example.com\r\nTo: \r\nSubject: s\r\n\r\nbody", "To"},
		{"no subject", "From: a@example.com\r\nTo: b@example.com\r\n\r\nbody", "Subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(raw(tt.content))
			require.Error(t, err)
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.header, fe.Header)
		})
	}
}

func TestDecodeMalformedHeaderLine(t *testing.T) {
	_, err := Decode(raw("From: a@example.com\r\nthis is not a header\r\n\r\nbody"))
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
}

func TestDecodeEmpty(t *testing.T) {
	_, err := Decode(raw("  \r\n"))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDecodeMultipartPrefersPlain(t *testing.T) {
	content := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: =?UTF-8?Q?caf=C3=A9?=\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain text\r\n" +
		"--XYZ--\r\n"

	email, err := Decode(raw(content))
	require.NoError(t, err)
	assert.Equal(t, "café", email.Subject)
	assert.Equal(t, "plain text", email.Body)
}

func TestDecodeHTMLOnlyIsConvertedToText(t *testing.T) {
	content := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: s\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>Hello <b>world</b></p></body></html>"

	email, err := Decode(raw(content))
	require.NoError(t, err)
	assert.Contains(t, email.Body, "Hello world")
	assert.NotContains(t, email.Body, "<b>")
}

func TestSplitAddresses(t *testing.T) {
	assert.Equal(t, []string{}, SplitAddresses(""))
	assert.Equal(t, []string{"a", "b", "c"}, SplitAddresses(" a ,; b;c ,"))
}
