// Package transport opens TLS connections to mail servers and exposes them
// as line-oriented channels.
package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/nhle/mailclient/internal/mailproto"
)

// Dialer opens a secure line channel to host:port. The caller owns the
// returned connection and must Close it.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (LineConn, error)
}

// TLSDialer dials TCP and performs an implicit TLS handshake, validating
// the server certificate against the requested host.
type TLSDialer struct {
	logger    *slog.Logger
	tlsConfig *tls.Config
	netDialer net.Dialer
}

// NewTLSDialer creates a TLSDialer. cfg may be nil; it is cloned per dial
// and its ServerName is always replaced with the dialed host.
func NewTLSDialer(logger *slog.Logger, cfg *tls.Config) *TLSDialer {
	return &TLSDialer{
		logger:    logger,
		tlsConfig: cfg,
		netDialer: net.Dialer{KeepAlive: 30 * time.Second},
	}
}

// Dial implements Dialer.
func (d *TLSDialer) Dial(ctx context.Context, host string, port int) (LineConn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	raw, err := d.netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		err = mailproto.Cancelled(ctx, "dial", err)
		if !mailproto.IsCancellation(err) {
			err = &mailproto.ConnectionError{Addr: addr, Err: err}
		}
		d.logger.Error("dial failed", "addr", addr, "error", err)
		return nil, err
	}

	var cfg *tls.Config
	if d.tlsConfig != nil {
		cfg = d.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.ServerName = host
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		err = mailproto.Cancelled(ctx, "tls handshake", err)
		if !mailproto.IsCancellation(err) {
			err = &mailproto.TLSError{Host: host, Err: err}
		}
		d.logger.Error("tls handshake failed", "addr", addr, "error", err)
		return nil, err
	}

	d.logger.Debug("connected", "addr", addr,
		"tls_version", tls.VersionName(tlsConn.ConnectionState().Version))
	return NewConn(tlsConn, addr), nil
}
