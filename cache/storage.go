package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrStorage is wrapped by every error returned from a storage backend.
// Callers use errors.Is to tell a broken substrate apart from other failures.
var ErrStorage = errors.New("cache storage failure")

// Storage is the key-value substrate that holds cache entries.
// Entries live in named namespaces which are fully isolated from each other:
// listing, deleting or evicting in one namespace never touches another.
//
// Implementations must be thread-safe!
type Storage interface {
	// Get returns the entry stored under key in the namespace.
	// The boolean is false if no such entry exists.
	// Get does not consider the entry's age, that is up to the caller.
	Get(namespace, key string) (Entry, bool, error)
	// Put stores the entry under key in the namespace.
	// Storing an existing key replaces it and makes it the newest entry.
	Put(namespace, key string, entry Entry) error
	// Delete removes the entry for key. Deleting a missing key is not an error.
	Delete(namespace, key string) error
	// Keys lists the entries of a namespace, oldest insertion first.
	Keys(namespace string) ([]Meta, error)
	// Namespaces lists the namespaces that currently hold at least one entry.
	Namespaces() ([]string, error)
	// DeleteNamespace removes a namespace and all its entries.
	DeleteNamespace(namespace string) error
}

// Entry is a stored response together with the time it was admitted.
type Entry struct {
	Timestamp time.Time
	Bytes     []byte
}

// Meta describes a stored entry without its payload.
type Meta struct {
	Key       string
	Timestamp time.Time
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
