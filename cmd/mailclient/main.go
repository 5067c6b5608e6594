// Command mailclient is a console mail client: it keeps a list of IMAP/SMTP
// accounts, downloads a mailbox over implicit TLS and submits new messages.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nhle/mailclient/internal/app"
	"github.com/nhle/mailclient/internal/cache"
	"github.com/nhle/mailclient/internal/credential"
	"github.com/nhle/mailclient/internal/imap"
	"github.com/nhle/mailclient/internal/keys"
	"github.com/nhle/mailclient/internal/metrics"
	"github.com/nhle/mailclient/internal/model"
	"github.com/nhle/mailclient/internal/smtp"
	"github.com/nhle/mailclient/internal/store"
	"github.com/nhle/mailclient/internal/transport"
	"github.com/nhle/mailclient/internal/ui/inbox"
	"github.com/nhle/mailclient/internal/ui/prompt"
)

// Version information, injected at build time.
var version = "dev"

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "Path to YAML configuration file")
	accessible := flag.Bool("accessible", false, "Use line-based prompts instead of interactive forms")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailclient %s\n", version)
		os.Exit(0)
	}

	if err := run(*configPath, *accessible); err != nil {
		fmt.Fprintf(os.Stderr, "mailclient: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, accessible bool) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	var vault credential.Vault
	if cfg.Keyring.Enabled {
		kv, err := credential.OpenKeyring(cfg.Keyring)
		if err != nil {
			return err
		}
		vault = kv
	}

	st, err := store.NewSQLiteStore(cfg.Database, vault)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	defer logMetrics(logger, reg)

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLS.InsecureSkipVerify {
		logger.Warn("tls certificate verification is disabled")
		tlsConfig.InsecureSkipVerify = true
	}
	dialer := transport.NewTLSDialer(logger, tlsConfig)

	a := app.New(st, cache.New(cfg.DataDir),
		func() app.Retriever {
			return imap.New(dialer, logger, imap.WithTimeout(cfg.IMAPTimeout()), imap.WithMetrics(collector))
		},
		func() app.Submitter {
			return smtp.New(dialer, logger, smtp.WithTimeout(cfg.SMTPTimeout()), smtp.WithMetrics(collector))
		},
		logger,
		app.WithMailbox(cfg.Mailbox),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mailclient starting", "version", version, "data_dir", cfg.DataDir)
	runner := app.NewRunner(a, prompt.New(0, accessible), inbox.NewViewer(keys.DefaultKeyMap()), os.Stdout, logger)
	if err := runner.Run(ctx); err != nil {
		logger.Error("runner stopped", "error", err)
		return err
	}
	logger.Info("mailclient exiting")
	return nil
}

// openLogger writes structured logs to the configured file so the console
// stays free for prompts.
func openLogger(cfg *model.AppConfig) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", cfg.LogFile, err)
	}

	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})
	return slog.New(handler), func() { _ = f.Close() }, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// logMetrics writes the session counters to the log on exit.
func logMetrics(logger *slog.Logger, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		logger.Warn("gathering metrics", "error", err)
		return
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		logger.Info("session metrics", "name", mf.GetName(), "series", len(mf.GetMetric()), "total", total)
	}
}
