package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TimeoutConfig bounds each top-level protocol operation.
type TimeoutConfig struct {
	IMAPSec int `mapstructure:"imap_sec" yaml:"imap_sec"`
	SMTPSec int `mapstructure:"smtp_sec" yaml:"smtp_sec"`
}

// TLSConfig holds transport security settings.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate validation. Only meant for
	// local test servers.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// KeyringConfig selects where account passwords are kept.
type KeyringConfig struct {
	// Enabled stores passwords in the system keyring. When false they are
	// kept in the local database.
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	DataDir  string        `mapstructure:"data_dir" yaml:"data_dir"`
	Database string        `mapstructure:"database" yaml:"database"`
	LogFile  string        `mapstructure:"log_file" yaml:"log_file"`
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
	Mailbox  string        `mapstructure:"mailbox" yaml:"mailbox"`
	Timeouts TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts"`
	TLS      TLSConfig     `mapstructure:"tls" yaml:"tls"`
	Keyring  KeyringConfig `mapstructure:"keyring" yaml:"keyring"`
}

// IMAPTimeout returns the per-operation retrieval timeout.
func (c *AppConfig) IMAPTimeout() time.Duration {
	return time.Duration(c.Timeouts.IMAPSec) * time.Second
}

// SMTPTimeout returns the per-operation submission timeout.
func (c *AppConfig) SMTPTimeout() time.Duration {
	return time.Duration(c.Timeouts.SMTPSec) * time.Second
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailclient/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailclient", "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailclient-data")
	}
	return filepath.Join(home, ".local", "share", "mailclient")
}

// resolvePaths places the database and log file inside the data dir when
// they are not set or are relative.
func (c *AppConfig) resolvePaths() {
	if c.Database == "" {
		c.Database = "mailclient.db"
	}
	if c.LogFile == "" {
		c.LogFile = "mailclient.log"
	}
	if c.Keyring.FileDir == "" {
		c.Keyring.FileDir = filepath.Join(c.DataDir, "credentials")
	}
	if c.Database != ":memory:" && !filepath.IsAbs(c.Database) {
		c.Database = filepath.Join(c.DataDir, c.Database)
	}
	if !filepath.IsAbs(c.LogFile) {
		c.LogFile = filepath.Join(c.DataDir, c.LogFile)
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Values may be overridden by MAILCLIENT_* environment variables. If the
// file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailclient")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("database", "")
	v.SetDefault("log_file", "")
	v.SetDefault("keyring.file_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("mailbox", DefaultMailbox)
	v.SetDefault("timeouts.imap_sec", 60)
	v.SetDefault("timeouts.smtp_sec", 60)
	v.SetDefault("tls.insecure_skip_verify", false)
	v.SetDefault("keyring.enabled", true)

	// A missing file is not an error; defaults and environment apply.
	if err := v.ReadInConfig(); err != nil {
		_, missingPath := err.(*os.PathError)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !missingPath && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Mailbox == "" {
		cfg.Mailbox = DefaultMailbox
	}
	if cfg.Timeouts.IMAPSec <= 0 {
		cfg.Timeouts.IMAPSec = 60
	}
	if cfg.Timeouts.SMTPSec <= 0 {
		cfg.Timeouts.SMTPSec = 60
	}
	cfg.resolvePaths()

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("data_dir", cfg.DataDir)
	v.Set("database", cfg.Database)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_level", cfg.LogLevel)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("timeouts", cfg.Timeouts)
	v.Set("tls", cfg.TLS)
	v.Set("keyring", cfg.Keyring)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
