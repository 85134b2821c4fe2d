package service

import (
	"fmt"
	"math"
	"runtime/debug"
	"sync"

	"github.com/devrev/pairdb/logunit/internal/metrics"
	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

const fallbackAvailableMemory = 1 << 30

// MemoryProbe reports how much memory the process may use and where that
// number came from
type MemoryProbe func() (bytes uint64, source string, err error)

// CacheService is a byte-bounded LRU of decoded log entries. It is only an
// accelerator: a miss always falls through to the stream log.
type CacheService struct {
	config      *CacheConfig
	lru         *simplelru.LRU
	logger      *zap.Logger
	metrics     *metrics.Metrics
	mu          sync.Mutex
	capacity    int64
	currentSize int64
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	// HeapRatio is the share of available memory the cache may hold, in (0, 1)
	HeapRatio float64

	// Probe overrides how available memory is discovered
	Probe MemoryProbe
}

// NewCacheService creates a new cache service sized from available memory
func NewCacheService(cfg *CacheConfig, logger *zap.Logger, m *metrics.Metrics) (*CacheService, error) {
	if cfg.HeapRatio <= 0 || cfg.HeapRatio >= 1 {
		return nil, fmt.Errorf("cache heap ratio must be between 0 and 1, got %v", cfg.HeapRatio)
	}

	probe := cfg.Probe
	if probe == nil {
		probe = AvailableMemory
	}
	available, source, err := probe()
	if err != nil {
		logger.Warn("Failed to determine available memory, using fallback",
			zap.String("fallback", humanize.IBytes(fallbackAvailableMemory)),
			zap.Error(err))
		available, source = fallbackAvailableMemory, "fallback"
	}

	s := &CacheService{
		config:   cfg,
		logger:   logger,
		metrics:  m,
		capacity: int64(cfg.HeapRatio * float64(available)),
	}
	s.lru, err = simplelru.NewLRU(math.MaxInt32, s.onRemove)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}

	m.SetCacheCapacity(s.capacity)
	logger.Info("Entry cache sized",
		zap.String("capacity", humanize.IBytes(uint64(s.capacity))),
		zap.String("available_memory", humanize.IBytes(available)),
		zap.String("memory_source", source),
		zap.Float64("heap_ratio", cfg.HeapRatio))

	return s, nil
}

// AvailableMemory returns GOMEMLIMIT when one is set, else MemAvailable from
// /proc/meminfo
func AvailableMemory() (uint64, string, error) {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return uint64(limit), "GOMEMLIMIT", nil
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, "", fmt.Errorf("failed to open procfs: %w", err)
	}
	info, err := fs.Meminfo()
	if err != nil {
		return 0, "", fmt.Errorf("failed to read meminfo: %w", err)
	}
	if info.MemAvailable == nil {
		return 0, "", fmt.Errorf("meminfo does not report MemAvailable")
	}
	return *info.MemAvailable * 1024, "meminfo", nil
}

// onRemove keeps the byte count in step with the lru, for both explicit
// removals and evictions
func (s *CacheService) onRemove(_ interface{}, value interface{}) {
	s.currentSize -= value.(*model.LogEntry).SizeBytes()
}

// Get returns the cached entry at address. The returned entry is shared and
// must not be modified.
func (s *CacheService) Get(address uint64) (*model.LogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.lru.Get(address)
	if !ok {
		s.metrics.RecordCacheMiss()
		return nil, false
	}
	s.metrics.RecordCacheHit()
	return value.(*model.LogEntry), true
}

// GetOrLoad returns the cached entry at address, or loads and caches it.
// A nil entry from load means the address is empty and nothing is cached.
func (s *CacheService) GetOrLoad(address uint64, load func(uint64) (*model.LogEntry, error)) (*model.LogEntry, error) {
	if entry, ok := s.Get(address); ok {
		return entry, nil
	}
	entry, err := load(address)
	if err != nil || entry == nil {
		return nil, err
	}
	return s.put(address, entry), nil
}

// Put caches a copy of an entry that is already durable
func (s *CacheService) Put(address uint64, entry *model.LogEntry) {
	s.put(address, entry.Clone())
}

func (s *CacheService) put(address uint64, entry *model.LogEntry) *model.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove before re-adding so onRemove accounts for the old size.
	s.lru.Remove(address)

	size := entry.SizeBytes()
	if size > s.capacity {
		s.updateMetrics()
		return entry
	}

	s.lru.Add(address, entry)
	s.currentSize += size

	for s.currentSize > s.capacity {
		key, _, ok := s.lru.RemoveOldest()
		if !ok {
			break
		}
		s.metrics.RecordCacheEviction()
		s.logger.Debug("Evicted cache entry", zap.Any("address", key))
	}
	s.updateMetrics()
	return entry
}

// Invalidate drops address from the cache
func (s *CacheService) Invalidate(address uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(address)
	s.updateMetrics()
}

func (s *CacheService) updateMetrics() {
	s.metrics.UpdateCacheSize(s.currentSize, int64(s.lru.Len()))
}

// Capacity returns the configured byte budget
func (s *CacheService) Capacity() int64 {
	return s.capacity
}

// Stats returns cache statistics
func (s *CacheService) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := CacheStats{
		Size:       s.currentSize,
		MaxSize:    s.capacity,
		EntryCount: s.lru.Len(),
	}
	if s.capacity > 0 {
		stats.UsagePercent = float64(s.currentSize) / float64(s.capacity) * 100
	}
	return stats
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size         int64
	MaxSize      int64
	EntryCount   int
	UsagePercent float64
}
