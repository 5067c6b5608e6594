package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailclient/internal/credential"
	"github.com/nhle/mailclient/internal/model"
)

const serverColumns = `id, display_name, imap_host, imap_port, smtp_host, smtp_port,
	username, created_at, updated_at`

// SQLiteStore implements the Store interface using a local SQLite database.
// Passwords go to the vault when one is configured and to the servers
// table otherwise.
type SQLiteStore struct {
	db    *sqlx.DB
	vault credential.Vault
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations. vault may be
// nil.
func NewSQLiteStore(dbPath string, vault credential.Vault) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, vault: vault}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// AddServer inserts a new server with a generated UUID. Missing ports get
// the implicit-TLS defaults.
func (s *SQLiteStore) AddServer(ctx context.Context, cred model.ServerCredential) (string, error) {
	if err := validate(cred); err != nil {
		return "", err
	}
	if cred.IMAPPort == 0 {
		cred.IMAPPort = model.DefaultIMAPPort
	}
	if cred.SMTPPort == 0 {
		cred.SMTPPort = model.DefaultSMTPPort
	}
	cred.ID = uuid.New().String()
	now := time.Now().UTC()

	dbPassword := cred.Password
	if s.vault != nil {
		dbPassword = ""
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO servers (
			id, display_name, imap_host, imap_port, smtp_host, smtp_port,
			username, password, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.DisplayName, cred.IMAPHost, cred.IMAPPort,
		cred.SMTPHost, cred.SMTPPort, cred.Username, dbPassword, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("creating server %q: %w", cred.DisplayName, err)
	}

	// The row only becomes visible once its secret is stored.
	if s.vault != nil {
		if err := s.vault.Set(cred.ID, cred.Password); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing server %q: %w", cred.DisplayName, err)
	}
	return cred.ID, nil
}

// DeleteServer removes a server and its stored secret.
func (s *SQLiteStore) DeleteServer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting server %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("deleting server %s: %w", id, ErrNotFound)
	}

	if s.vault != nil {
		if err := s.vault.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

// ListServers returns all servers ordered by display name.
func (s *SQLiteStore) ListServers(ctx context.Context) ([]model.Server, error) {
	servers := []model.Server{}
	err := s.db.SelectContext(ctx, &servers,
		"SELECT id, display_name FROM servers ORDER BY display_name COLLATE NOCASE, id")
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	return servers, nil
}

// GetCredentials retrieves one server with its password.
func (s *SQLiteStore) GetCredentials(ctx context.Context, id string) (*model.ServerCredential, error) {
	var cred model.ServerCredential
	err := s.db.GetContext(ctx, &cred,
		"SELECT "+serverColumns+" FROM servers WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting server %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting server %s: %w", id, err)
	}

	if s.vault != nil {
		cred.Password, err = s.vault.Get(id)
	} else {
		err = s.db.GetContext(ctx, &cred.Password, "SELECT password FROM servers WHERE id = ?", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting password for server %s: %w", id, err)
	}

	return &cred, nil
}

func validate(cred model.ServerCredential) error {
	var missing []string
	if strings.TrimSpace(cred.DisplayName) == "" {
		missing = append(missing, "display name")
	}
	if strings.TrimSpace(cred.IMAPHost) == "" {
		missing = append(missing, "imap host")
	}
	if strings.TrimSpace(cred.SMTPHost) == "" {
		missing = append(missing, "smtp host")
	}
	if strings.TrimSpace(cred.Username) == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("server %s must not be empty", strings.Join(missing, ", "))
	}
	if cred.IMAPPort < 0 || cred.IMAPPort > 65535 || cred.SMTPPort < 0 || cred.SMTPPort > 65535 {
		return fmt.Errorf("server port out of range")
	}
	return nil
}
