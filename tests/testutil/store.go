package testutil

import (
	"testing"

	"github.com/nhle/mailclient/internal/credential"
	"github.com/nhle/mailclient/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied
// and passwords kept in vault (nil keeps them in the database).
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T, vault credential.Vault) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:", vault)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}
