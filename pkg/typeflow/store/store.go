// Package store provides the key/value storage collaborator that pipeline
// components receive through their constructors.
//
// Components never reach a store through package state: the factory passed to
// typeflow.Constructs closes over the Store it should use.
package store

import (
	"context"
	"errors"
	"time"
)

// Store persists opaque records grouped by collection.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data under (collection, key), replacing any previous value.
	Put(ctx context.Context, collection, key string, data []byte) error

	// Get reads the value under (collection, key).
	// Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// List describes every record in a collection in write order.
	// An unknown collection yields an empty slice.
	List(ctx context.Context, collection string) ([]Info, error)

	// Delete removes (collection, key). Missing records are not an error.
	Delete(ctx context.Context, collection, key string) error

	// Close releases the store's resources.
	Close() error
}

// Info describes a stored record without its data.
type Info struct {
	Collection string
	Key        string
	Sequence   int
	Updated    time.Time
	Size       int64
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)
