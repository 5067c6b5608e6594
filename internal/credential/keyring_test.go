package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaults(t *testing.T) {
	vaults := map[string]Vault{
		"keyring": NewKeyringVault(keyring.NewArrayKeyring(nil)),
		"memory":  NewMemoryVault(),
	}

	for name, v := range vaults {
		t.Run(name, func(t *testing.T) {
			_, err := v.Get("srv-1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, v.Set("srv-1", "first"))
			require.NoError(t, v.Set("srv-1", "second"))
			got, err := v.Get("srv-1")
			require.NoError(t, err)
			assert.Equal(t, "second", got)

			require.NoError(t, v.Delete("srv-1"))
			_, err = v.Get("srv-1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, v.Delete("srv-1"), "deleting a missing key")
		})
	}
}

func TestOpenKeyringFileBackend(t *testing.T) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          t.TempDir(),
		FilePasswordFunc: keyring.FixedStringPrompt("test"),
	})
	require.NoError(t, err)

	v := NewKeyringVault(ring)
	require.NoError(t, v.Set("srv-2", "hunter2"))
	got, err := v.Get("srv-2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}
