// Package cache keeps fetched raw messages on disk, one .eml file per UID
// under <root>/<server>/Emails.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nhle/mailclient/internal/model"
)

const (
	emailsDir = "Emails"
	extension = ".eml"
)

// ErrNotFound is returned by Get when no message is cached under the UID.
var ErrNotFound = errors.New("message not cached")

// Cache is a file-backed message cache rooted at a data directory.
type Cache struct {
	root string
}

// New returns a cache rooted at root. Nothing is created until Store.
func New(root string) *Cache {
	return &Cache{root: root}
}

// List returns every cached message for server ordered by UID. A server
// with nothing cached yields an empty slice.
func (c *Cache) List(server string) ([]model.RawMessage, error) {
	dir, err := c.dir(server)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []model.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache for %s: %w", server, err)
	}

	msgs := make([]model.RawMessage, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != extension {
			continue
		}
		uid := strings.TrimSuffix(e.Name(), extension)
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading cached message %s: %w", uid, err)
		}
		msgs = append(msgs, model.RawMessage{UID: uid, Content: string(data)})
	}

	sort.SliceStable(msgs, func(i, j int) bool { return uidLess(msgs[i].UID, msgs[j].UID) })
	return msgs, nil
}

// Get returns the cached message for uid.
func (c *Cache) Get(server, uid string) (model.RawMessage, error) {
	dir, err := c.dir(server)
	if err != nil {
		return model.RawMessage{}, err
	}
	if err := checkName("uid", uid); err != nil {
		return model.RawMessage{}, err
	}

	data, err := os.ReadFile(filepath.Join(dir, uid+extension))
	if errors.Is(err, os.ErrNotExist) {
		return model.RawMessage{}, fmt.Errorf("message %s on %s: %w", uid, server, ErrNotFound)
	}
	if err != nil {
		return model.RawMessage{}, fmt.Errorf("reading cached message %s: %w", uid, err)
	}
	return model.RawMessage{UID: uid, Content: string(data)}, nil
}

// Store writes msgs for server, replacing files with the same UID. Each
// file is written to a temporary name and renamed into place.
func (c *Cache) Store(server string, msgs []model.RawMessage) error {
	dir, err := c.dir(server)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := checkName("uid", m.UID); err != nil {
			return err
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", dir, err)
	}

	for _, m := range msgs {
		if err := writeFile(filepath.Join(dir, m.UID+extension), m.Content); err != nil {
			return fmt.Errorf("caching message %s: %w", m.UID, err)
		}
	}
	return nil
}

func (c *Cache) dir(server string) (string, error) {
	if err := checkName("server name", server); err != nil {
		return "", err
	}
	return filepath.Join(c.root, server, emailsDir), nil
}

func writeFile(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*"+extension)
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// checkName rejects values that cannot be used as a single path element.
func checkName(what, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s must be provided", what)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid %s %q", what, name)
	}
	return nil
}

// uidLess orders numeric UIDs numerically and anything else after them,
// lexically.
func uidLess(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
