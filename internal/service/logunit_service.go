package service

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/metrics"
	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/diskmanager"
	"github.com/devrev/pairdb/logunit/internal/storage/streamlog"
	"github.com/devrev/pairdb/logunit/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	addressLockStripes = 256
	readRangeParallel  = 16

	SourceCache = "cache"
	SourceStore = "store"
	SourceNone  = "none"
)

// LogUnitService serves writes, reads and trims against one stream log.
//
// Writes to the same address are serialized by a striped lock held across
// arbitration, append and cache update. Reads populate the cache under the
// read side of the same stripe, so a read can never cache an entry that a
// concurrent write has already superseded.
type LogUnitService struct {
	store       streamlog.StreamLog
	cache       *CacheService
	diskManager *diskmanager.DiskManager
	validator   *validation.Validator
	metrics     *metrics.Metrics
	logger      *zap.Logger

	locks [addressLockStripes]sync.RWMutex

	// lifecycle is held for reading by every request and for writing by Close
	lifecycle sync.RWMutex
	closed    bool

	failMu  sync.RWMutex
	failErr error
}

// NewLogUnitService creates a log unit service over an opened stream log.
// diskMgr may be nil when the log is not backed by disk.
func NewLogUnitService(
	store streamlog.StreamLog,
	cache *CacheService,
	diskMgr *diskmanager.DiskManager,
	m *metrics.Metrics,
	logger *zap.Logger,
) *LogUnitService {
	return &LogUnitService{
		store:       store,
		cache:       cache,
		diskManager: diskMgr,
		validator:   validation.NewValidator(),
		metrics:     m,
		logger:      logger,
	}
}

func (s *LogUnitService) lockFor(address uint64) *sync.RWMutex {
	return &s.locks[address%addressLockStripes]
}

// enter takes the lifecycle read lock. The caller must call s.lifecycle.RUnlock
// when it returns nil.
func (s *LogUnitService) enter() error {
	s.lifecycle.RLock()
	if s.closed {
		s.lifecycle.RUnlock()
		return errors.Unavailable("log unit is shut down", nil)
	}
	return nil
}

// Write arbitrates and durably appends an entry. An overwrite rejection is a
// normal outcome reported through the status; errors are reserved for invalid
// requests and store failures.
func (s *LogUnitService) Write(ctx context.Context, entry *model.LogEntry) (model.WriteStatus, error) {
	startTime := time.Now()

	if err := s.enter(); err != nil {
		return model.WriteOK, err
	}
	defer s.lifecycle.RUnlock()

	if err := s.Err(); err != nil {
		return model.WriteOK, errors.Unavailable("log unit stopped accepting writes", err)
	}

	if err := s.validator.ValidateWrite(entry); err != nil {
		s.logger.Warn("Write validation failed", zap.Error(err))
		s.metrics.RecordWriteRequest("invalid", time.Since(startTime).Seconds(), 0)
		return model.WriteOK, err
	}

	lock := s.lockFor(entry.Address)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.cache.GetOrLoad(entry.Address, s.store.Read)
	if err != nil {
		s.checkFatal(err)
		return model.WriteOK, err
	}

	disposition := Arbitrate(existing, entry)
	if disposition == Reject {
		s.logger.Debug("Write rejected as overwrite",
			zap.Uint64("address", entry.Address),
			zap.Stringer("existing_type", existing.DataType),
			zap.Stringer("existing_rank", rankField(existing.Rank)),
			zap.Stringer("incoming_rank", rankField(entry.Rank)))
		s.metrics.RecordWriteRequest(model.WriteErrorOverwrite.String(), time.Since(startTime).Seconds(), len(entry.Payload))
		return model.WriteErrorOverwrite, nil
	}

	if s.diskManager != nil {
		if err := s.diskManager.CheckBeforeWrite(validation.EstimateWriteSize(entry)); err != nil {
			s.logger.Warn("Disk space check failed",
				zap.Uint64("address", entry.Address),
				zap.Error(err))
			s.metrics.RecordWriteRequest("disk", time.Since(startTime).Seconds(), len(entry.Payload))
			return model.WriteOK, err
		}
	}

	if disposition == Replace {
		err = s.store.Replace(entry)
	} else {
		err = s.store.Append(entry)
	}
	if err != nil {
		s.logger.Error("Failed to append entry",
			zap.Uint64("address", entry.Address),
			zap.Stringer("disposition", disposition),
			zap.Error(err))
		s.checkFatal(err)
		s.metrics.RecordWriteRequest("error", time.Since(startTime).Seconds(), len(entry.Payload))
		return model.WriteOK, err
	}

	// The entry is durable; the cache may now serve it.
	s.cache.Put(entry.Address, entry)

	latency := time.Since(startTime)
	s.metrics.RecordWriteRequest(model.WriteOK.String(), latency.Seconds(), len(entry.Payload))
	s.logger.Debug("Write completed",
		zap.Uint64("address", entry.Address),
		zap.Stringer("disposition", disposition),
		zap.Duration("latency", latency))

	return model.WriteOK, nil
}

// Read resolves an address to its entry, an EMPTY marker when nothing was
// written, or a TRIMMED marker
func (s *LogUnitService) Read(ctx context.Context, address uint64) (*model.ReadResult, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.lifecycle.RUnlock()

	result, err := s.read(address)
	if err != nil {
		s.checkFatal(err)
		s.metrics.RecordReadRequest("error", time.Since(startTime).Seconds())
		return nil, err
	}

	s.metrics.RecordReadRequest(result.DataType.String(), time.Since(startTime).Seconds())
	return result, nil
}

func (s *LogUnitService) read(address uint64) (*model.ReadResult, error) {
	source := SourceCache
	entry, ok := s.cache.Get(address)
	if !ok {
		source = SourceStore
		lock := s.lockFor(address)
		lock.RLock()
		var err error
		entry, err = s.cache.GetOrLoad(address, s.store.Read)
		lock.RUnlock()
		if err != nil {
			s.logger.Error("Failed to read entry",
				zap.Uint64("address", address),
				zap.Error(err))
			return nil, err
		}
	}

	switch {
	case entry == nil:
		return &model.ReadResult{Address: address, DataType: model.DataTypeEmpty, Source: SourceNone}, nil
	case entry.DataType == model.DataTypeTrimmed, entry.DataType == model.DataTypeEmpty:
		return &model.ReadResult{Address: address, DataType: entry.DataType, Source: source}, nil
	default:
		return &model.ReadResult{Address: address, DataType: entry.DataType, Entry: entry.Clone(), Source: source}, nil
	}
}

// ReadRange reads several addresses at once. Results are in request order.
func (s *LogUnitService) ReadRange(ctx context.Context, addresses []uint64) ([]*model.ReadResult, error) {
	if err := s.validator.ValidateAddresses(addresses); err != nil {
		return nil, err
	}
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.lifecycle.RUnlock()

	results := make([]*model.ReadResult, len(addresses))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readRangeParallel)
	for i, address := range addresses {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			startTime := time.Now()
			result, err := s.read(address)
			if err != nil {
				s.metrics.RecordReadRequest("error", time.Since(startTime).Seconds())
				return err
			}
			s.metrics.RecordReadRequest(result.DataType.String(), time.Since(startTime).Seconds())
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.checkFatal(err)
		return nil, err
	}
	return results, nil
}

// Trim logically deletes an address. Trimming a trimmed address is a no-op.
func (s *LogUnitService) Trim(ctx context.Context, address uint64) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.lifecycle.RUnlock()

	if err := s.Err(); err != nil {
		return errors.Unavailable("log unit stopped accepting writes", err)
	}

	lock := s.lockFor(address)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.cache.GetOrLoad(address, s.store.Read)
	if err != nil {
		s.checkFatal(err)
		return err
	}
	if existing != nil && existing.IsTrimmed() {
		return nil
	}

	marker := model.NewTrimmedEntry(address)
	if s.diskManager != nil {
		if err := s.diskManager.CheckBeforeWrite(validation.EstimateWriteSize(marker)); err != nil {
			return err
		}
	}
	if err := s.store.Replace(marker); err != nil {
		s.logger.Error("Failed to trim address",
			zap.Uint64("address", address),
			zap.Error(err))
		s.checkFatal(err)
		return err
	}

	s.cache.Invalidate(address)
	s.metrics.RecordTrimRequest()
	s.logger.Debug("Trimmed address", zap.Uint64("address", address))
	return nil
}

// checkFatal moves the service to the failed state on an error that means
// the store can no longer be trusted with writes
func (s *LogUnitService) checkFatal(err error) {
	if !errors.IsFatal(err) {
		return
	}
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if s.failErr == nil {
		s.failErr = err
		s.logger.Error("Log unit failed, refusing further writes", zap.Error(err))
	}
}

// Err returns the error that failed the service, if any
func (s *LogUnitService) Err() error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.failErr
}

// Available reports whether the service accepts writes
func (s *LogUnitService) Available() bool {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	return !s.closed && s.Err() == nil
}

// Stats returns service statistics
func (s *LogUnitService) Stats() ServiceStats {
	return ServiceStats{
		Store:  s.store.Stats(),
		Cache:  s.cache.Stats(),
		Failed: s.Err() != nil,
	}
}

// ServiceStats holds log unit statistics
type ServiceStats struct {
	Store  streamlog.Stats
	Cache  CacheStats
	Failed bool
}

// Close waits for in-flight requests and closes the stream log. It is safe
// to call more than once.
func (s *LogUnitService) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("Closing log unit")
	return s.store.Close()
}

type rankStringer struct{ rank *model.Rank }

func (r rankStringer) String() string {
	if r.rank == nil {
		return "none"
	}
	return r.rank.String()
}

func rankField(r *model.Rank) rankStringer {
	return rankStringer{rank: r}
}
