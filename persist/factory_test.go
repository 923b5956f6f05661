package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFileSystem(t *testing.T) {
	store, err := NewStore(StoreConfig{
		Type:   StoreTypeFileSystem,
		Config: map[string]interface{}{"base_path": t.TempDir()},
	})
	require.NoError(t, err)
	assert.Equal(t, string(StoreTypeFileSystem), store.GetType())
	assert.NoError(t, store.Ping())
	assert.NoError(t, store.Close())
}

func TestNewStoreMissingBasePath(t *testing.T) {
	_, err := NewStore(StoreConfig{Type: StoreTypeFileSystem})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_path")
}

func TestNewStoreUnsupportedType(t *testing.T) {
	_, err := NewStore(StoreConfig{Type: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store type")
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(S3Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestNewS3StoreFromConfigRejectsWrongType(t *testing.T) {
	_, err := NewS3StoreFromConfig(StoreConfig{Type: StoreTypeFileSystem})
	require.Error(t, err)
}

func TestValidateSnapshotName(t *testing.T) {
	valid := []string{"nightly", "pre-rotation", "backup_2026", "a"}
	for _, name := range valid {
		assert.NoError(t, validateSnapshotName(name), "name %q should be valid", name)
	}

	invalid := []string{
		"",
		"../escape",
		"a/b",
		"a\\b",
		"null\x00byte",
		"with space",
		string(make([]byte, 101)),
	}
	for _, name := range invalid {
		assert.Error(t, validateSnapshotName(name), "name %q should be rejected", name)
	}
}
