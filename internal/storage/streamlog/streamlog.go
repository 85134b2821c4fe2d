// Package streamlog stores log entries in a directory of append-only
// segment files and keeps an in-memory address index over them.
package streamlog

import (
	"github.com/devrev/pairdb/logunit/internal/model"
)

// StreamLog is the durable store behind the log unit. Callers are expected to
// arbitrate overwrites before calling Append or Replace.
type StreamLog interface {
	// Append durably records an entry at a free address. It returns a
	// DuplicateAddress error when the address is already indexed.
	Append(entry *model.LogEntry) error

	// Replace durably records an entry and points the address at it,
	// whether or not the address was already written. The superseded
	// record stays on disk but becomes unreachable.
	Replace(entry *model.LogEntry) error

	// Read returns the entry at address, or nil when nothing was written.
	Read(address uint64) (*model.LogEntry, error)

	Contains(address uint64) bool
	Addresses() []uint64
	Stats() Stats

	// Close flushes and releases resources. It is safe to call more than once.
	Close() error
}

// Config holds stream log configuration
type Config struct {
	SegmentSize     int64
	VerifyChecksums bool
	SyncWrites      bool
}

// Stats holds stream log statistics
type Stats struct {
	Segments  int
	Entries   int
	Records   int
	SizeBytes int64
}
