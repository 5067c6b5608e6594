package mailproto

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionError indicates that the TCP connection to a mail server could
// not be established (DNS resolution or dial failure).
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TLSError indicates that the TLS handshake with a mail server failed.
type TLSError struct {
	Host string
	Err  error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls handshake with %s: %v", e.Host, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// ProtocolError indicates an unexpected or malformed line on the wire,
// a rejected command, or a connection that ended mid-response.
type ProtocolError struct {
	Op   string
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error during %s", e.Op)
	if e.Line != "" {
		msg += fmt.Sprintf(": unexpected line %q", e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CancellationError indicates that an operation was aborted because the
// caller cancelled its context or the per-operation timeout elapsed.
// It unwraps to context.Canceled or context.DeadlineExceeded.
type CancellationError struct {
	Op  string
	Err error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Op, e.Err)
}

func (e *CancellationError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsTLSError reports whether err (or any error in its chain) is a TLSError.
func IsTLSError(err error) bool {
	var target *TLSError
	return errors.As(err, &target)
}

// IsProtocolError reports whether err (or any error in its chain) is a ProtocolError.
func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

// IsCancellation reports whether err (or any error in its chain) is a
// CancellationError.
func IsCancellation(err error) bool {
	var target *CancellationError
	return errors.As(err, &target)
}

// Cancelled returns a CancellationError for op when ctx has been cancelled
// or has expired, and err unchanged otherwise. A nil err stays nil.
func Cancelled(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsCancellation(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &CancellationError{Op: op, Err: ctxErr}
	}
	return err
}

// Kind returns a short label for the error kind, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCancellation(err):
		return "cancelled"
	case IsTLSError(err):
		return "tls"
	case IsConnectionError(err):
		return "connection"
	case IsProtocolError(err):
		return "protocol"
	default:
		return "other"
	}
}
