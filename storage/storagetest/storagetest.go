// Package storagetest holds a conformance suite shared by every
// storage.Repository implementation.
package storagetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davon-library/webgate/storage"
)

// Run exercises repo against the storage.Repository contract.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	const ns = "ns1"

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ns, "USER", "1", []byte(`{"id":1}`)))
		got, err := repo.Get(ns, "USER", "1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":1}`, string(got))
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		require.NoError(t, repo.Put(ns, "USER", "copy", []byte("abc")))
		got, err := repo.Get(ns, "USER", "copy")
		require.NoError(t, err)
		got[0] = 'X'
		again, err := repo.Get(ns, "USER", "copy")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(again))
	})

	t.Run("GetMissingRecord", func(t *testing.T) {
		_, err := repo.Get(ns, "USER", "missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("GetMissingNamespace", func(t *testing.T) {
		_, err := repo.Get("no-such-ns", "USER", "1")
		assert.True(t, errors.Is(err, storage.ErrNamespaceNotFound), "got %v", err)
	})

	t.Run("ListByType", func(t *testing.T) {
		require.NoError(t, repo.Put("list", "USER", "b", []byte("b")))
		require.NoError(t, repo.Put("list", "USER", "a", []byte("a")))
		require.NoError(t, repo.Put("list", "META", "seq", []byte("2")))
		ids, err := repo.List("list", "USER")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)
	})

	t.Run("ListMissingNamespace", func(t *testing.T) {
		ids, err := repo.List("never-written", "USER")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put(ns, "USER", "del", []byte("x")))
		require.NoError(t, repo.Delete(ns, "USER", "del"))
		_, err := repo.Get(ns, "USER", "del")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		assert.True(t, errors.Is(repo.Delete(ns, "USER", "del"), storage.ErrNotFound))
	})

	t.Run("BatchCommits", func(t *testing.T) {
		err := repo.Batch("batch", func(tx storage.Tx) error {
			if err := tx.Put("USER", "1", []byte("one")); err != nil {
				return err
			}
			got, err := tx.Get("USER", "1")
			if err != nil {
				return err
			}
			assert.Equal(t, "one", string(got))
			return tx.Put("USER", "2", []byte("two"))
		})
		require.NoError(t, err)
		ids, err := repo.List("batch", "USER")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, ids)
	})

	t.Run("BatchRollsBack", func(t *testing.T) {
		require.NoError(t, repo.Put("rollback", "USER", "keep", []byte("k")))
		boom := errors.New("boom")
		err := repo.Batch("rollback", func(tx storage.Tx) error {
			if err := tx.Put("USER", "new", []byte("n")); err != nil {
				return err
			}
			if err := tx.Delete("USER", "keep"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		ids, err := repo.List("rollback", "USER")
		require.NoError(t, err)
		assert.Equal(t, []string{"keep"}, ids)
	})

	t.Run("BatchGetMissing", func(t *testing.T) {
		err := repo.Batch("fresh-ns", func(tx storage.Tx) error {
			_, err := tx.Get("USER", "nope")
			return err
		})
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})
}
