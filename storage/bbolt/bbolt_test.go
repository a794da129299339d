package bbolt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/davon-library/webgate/storage/storagetest"
)

func newTestDB(t *testing.T) (*bbolt.DB, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "webgate-test-*.db")
	if err != nil {
		t.Fatalf("could not create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		os.Remove(path)
		t.Fatalf("could not open db: %v", err)
	}
	return db, func() {
		db.Close()
		os.Remove(path)
	}
}

func TestBBoltStorage(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	storagetest.Run(t, NewRepository(db))
}

func TestNewRepositoryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mock.db")

	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put("users", "USER", "1", []byte(`{"id":1}`)))
	require.NoError(t, s.Close())

	// Data survives a reopen.
	s, err = NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("users", "USER", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(got))
}

func TestNewRepositoryFromFileBadPath(t *testing.T) {
	_, err := NewRepositoryFromFile(filepath.Join(t.TempDir(), "missing", "dir", "x.db"), nil)
	assert.Error(t, err)
}
