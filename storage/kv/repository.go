// Package kv defines the narrow persistence contract the popcore engine
// depends on. The engine itself never assumes a concrete storage technology:
// it only calls Repository, Batch and Cursor. Two implementations are
// provided — an in-memory store for tests and embedders that don't need
// durability, and a pebble-backed store for production use.
package kv

import "github.com/cockroachdb/errors"

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Repository is a column-family-aware key/value store. A "column family"
// here is a logical namespace sharing one physical store; ColumnFamily
// implements it by key prefixing, which is how pebble (and, in the
// original C++ engine, RocksDB) models the same concept.
type Repository interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Remove(key []byte) error
	// GetMany returns values for every key found; missing keys are simply
	// absent from the result, not an error.
	GetMany(keys [][]byte) (map[string][]byte, error)
	// Clear removes every key in this repository's namespace.
	Clear() error
	NewBatch() Batch
	// NewCursor returns a cursor over keys with the given prefix, starting
	// at or after start (nil means from the beginning of the namespace).
	NewCursor(prefix, start []byte) Cursor
	Close() error
}

// Batch buffers Put/Remove operations for atomic application.
type Batch interface {
	Put(key, value []byte)
	Remove(key []byte)
	Len() int
	// Commit flushes every buffered operation atomically. WAL is disabled
	// by convention (see Repository implementations): the engine is
	// expected to re-derive any state lost by an uncommitted batch on
	// restart rather than pay the durability cost of every write.
	Commit() error
	Reset()
}

// Cursor iterates a namespace in ascending key order.
type Cursor interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
}
