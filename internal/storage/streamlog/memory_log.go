package streamlog

import (
	"sort"
	"sync"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/model"
	"go.uber.org/zap"
)

// memoryLog is a StreamLog that keeps everything in memory. Entries are
// lost on Close; it exists for tests and for in-memory deployments.
type memoryLog struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[uint64]*model.LogEntry
	records int
	bytes   int64
	closed  bool
}

// NewMemoryLog creates an in-memory stream log
func NewMemoryLog(logger *zap.Logger) StreamLog {
	logger.Info("Using in-memory stream log, entries will not survive a restart")
	return &memoryLog{
		logger:  logger,
		entries: make(map[uint64]*model.LogEntry),
	}
}

func (l *memoryLog) Append(entry *model.LogEntry) error {
	return l.write(entry, false)
}

func (l *memoryLog) Replace(entry *model.LogEntry) error {
	return l.write(entry, true)
}

func (l *memoryLog) write(entry *model.LogEntry, replace bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.Unavailable("stream log is closed", nil)
	}
	if _, exists := l.entries[entry.Address]; exists && !replace {
		return errors.DuplicateAddress(entry.Address)
	}
	stored := entry.Clone()
	l.entries[entry.Address] = stored
	l.records++
	l.bytes += stored.SizeBytes()
	return nil
}

func (l *memoryLog) Read(address uint64) (*model.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, errors.Unavailable("stream log is closed", nil)
	}
	return l.entries[address].Clone(), nil
}

func (l *memoryLog) Contains(address uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[address]
	return ok
}

func (l *memoryLog) Addresses() []uint64 {
	l.mu.RLock()
	out := make([]uint64, 0, len(l.entries))
	for addr := range l.entries {
		out = append(out, addr)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *memoryLog) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Entries:   len(l.entries),
		Records:   l.records,
		SizeBytes: l.bytes,
	}
}

func (l *memoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
