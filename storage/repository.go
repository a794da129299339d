// Package storage provides the record storage abstraction used by the mock
// resource provider and the client session store.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when a namespace has never been written.
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// Tx provides record access within an atomic transaction. The namespace is
// scoped to the transaction, so methods don't require it.
type Tx interface {
	Get(recordType string, recordID string) ([]byte, error)
	Put(recordType string, recordID string, data []byte) error
	Delete(recordType string, recordID string) error
	List(recordType string) ([]string, error)
}

// Repository defines the interface for namespaced record storage. Records
// are opaque byte slices, usually JSON documents.
type Repository interface {
	Put(namespace string, recordType string, recordID string, data []byte) error
	Get(namespace string, recordType string, recordID string) ([]byte, error)
	Delete(namespace string, recordType string, recordID string) error
	List(namespace string, recordType string) ([]string, error)
	// Batch runs fn in a single read-write transaction. If fn returns an
	// error, none of its writes are applied.
	Batch(namespace string, fn func(tx Tx) error) error
}
