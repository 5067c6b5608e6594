// Package store persists saved mail accounts in a local SQLite database.
package store

import (
	"context"
	"errors"

	"github.com/nhle/mailclient/internal/model"
)

// ErrNotFound is returned when no server has the requested id.
var ErrNotFound = errors.New("server not found")

// Store defines the persistence interface for saved mail servers.
type Store interface {
	// AddServer saves cred and returns its generated id.
	AddServer(ctx context.Context, cred model.ServerCredential) (string, error)
	DeleteServer(ctx context.Context, id string) error
	// ListServers returns every server ordered by display name.
	ListServers(ctx context.Context) ([]model.Server, error)
	// GetCredentials returns the full record, password included.
	GetCredentials(ctx context.Context, id string) (*model.ServerCredential, error)
}
