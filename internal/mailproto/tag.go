// Package mailproto holds the primitives shared by the IMAP and SMTP
// session clients: correlation tags, bounded operation scopes and the
// error kinds both clients report.
package mailproto

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single top-level client operation when no
// explicit timeout is configured.
const DefaultTimeout = 60 * time.Second

// DefaultCloseTimeout bounds the LOGOUT or QUIT exchange run by Close, so
// a stalled server cannot hold up teardown for a full operation timeout.
const DefaultCloseTimeout = 5 * time.Second

// Tagger issues command tags of the form A001, A002, ...
// The counter starts at 1 and only increases; tags are never reused.
// The zero value is ready to use. A Tagger is not safe for concurrent use.
type Tagger struct {
	n int
}

// Next returns the next tag.
func (t *Tagger) Next() string {
	t.n++
	return fmt.Sprintf("A%03d", t.n)
}

// Issued returns how many tags have been handed out.
func (t *Tagger) Issued() int {
	return t.n
}

// WithTimeout derives a scope from ctx that expires after d. A non-positive
// d falls back to DefaultTimeout.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
