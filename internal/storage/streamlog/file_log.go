package streamlog

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/metrics"
	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/segment"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	segmentFilePrefix = "segment-"
	segmentFileSuffix = ".log"
)

type segmentFile struct {
	id      uint32
	fd      *os.File
	header  segment.Header
	size    int64
	records int
}

// fileLog is the segment-file backed StreamLog.
//
// appendMu serializes writers and owns the tail segment; mu guards the
// address index, the open segment table and segment sizes. Disk I/O happens
// outside mu, so readers and writers only contend on index updates.
type fileLog struct {
	config  *Config
	dataDir string
	logger  *zap.Logger
	metrics *metrics.Metrics

	appendMu  sync.Mutex
	tail      *segmentFile
	sealedErr error

	mu       sync.RWMutex
	index    map[uint64]location
	segments map[uint32]*segmentFile
	closed   bool
}

func segmentPath(dataDir string, id uint32) string {
	return filepath.Join(dataDir, fmt.Sprintf("%s%08d%s", segmentFilePrefix, id, segmentFileSuffix))
}

// listSegments returns the ids of the segment files in dataDir, ascending
func listSegments(dataDir string) ([]uint32, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, segmentFilePrefix+"*"+segmentFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list segment files: %w", err)
	}
	out := make([]uint32, 0, len(matches))
	for _, match := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(match), segmentFilePrefix), segmentFileSuffix)
		id, err := strconv.ParseUint(name, 10, 32)
		if err == nil {
			out = append(out, uint32(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Open opens the stream log in dataDir, rebuilding the address index from
// every segment before returning. An incompatible or corrupt segment aborts
// the open.
func Open(dataDir string, cfg *Config, logger *zap.Logger, m *metrics.Metrics) (StreamLog, error) {
	if cfg.SegmentSize <= segment.HeaderSize {
		return nil, errors.InvalidArgument(fmt.Sprintf("segment size %d is too small", cfg.SegmentSize), nil)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stream log directory: %w", err)
	}

	startTime := time.Now()
	ids, err := listSegments(dataDir)
	if err != nil {
		return nil, err
	}

	expected := segment.NewHeader(cfg.VerifyChecksums, uint64(cfg.SegmentSize))
	rec, err := recoverSegments(ids, func(id uint32) ([]byte, error) {
		return os.ReadFile(segmentPath(dataDir, id))
	}, expected)
	if err != nil {
		logger.Error("Stream log recovery failed",
			zap.String("dir", dataDir),
			zap.Error(err))
		return nil, err
	}

	l := &fileLog{
		config:   cfg,
		dataDir:  dataDir,
		logger:   logger,
		metrics:  m,
		index:    rec.index,
		segments: make(map[uint32]*segmentFile, len(rec.segments)),
	}

	for i, st := range rec.segments {
		sf, err := l.openSegment(st, i == len(rec.segments)-1)
		if err != nil {
			l.closeFiles()
			return nil, err
		}
		l.segments[sf.id] = sf
		l.tail = sf
	}

	if l.tail == nil {
		sf, err := l.createSegment(1)
		if err != nil {
			return nil, err
		}
		l.segments[sf.id] = sf
		l.tail = sf
	}

	duration := time.Since(startTime)
	m.RecordRecovery(duration.Seconds())
	stats := l.Stats()
	m.UpdateStreamLogStats(stats.Segments, stats.SizeBytes, stats.Entries)

	logger.Info("Stream log recovered",
		zap.String("dir", dataDir),
		zap.Int("segments", stats.Segments),
		zap.Int("records", rec.records),
		zap.Int("addresses", stats.Entries),
		zap.String("size", humanize.IBytes(uint64(stats.SizeBytes))),
		zap.Duration("duration", duration))

	return l, nil
}

// openSegment opens a recovered segment. The tail segment is opened for
// writing and cut back to its last complete record.
func (l *fileLog) openSegment(st segmentState, tail bool) (*segmentFile, error) {
	path := segmentPath(l.dataDir, st.id)
	flag := os.O_RDONLY
	if tail {
		flag = os.O_RDWR
	}
	fd, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %d: %w", st.id, err)
	}
	sf := &segmentFile{
		id:      st.id,
		fd:      fd,
		header:  st.header,
		size:    st.end,
		records: st.records,
	}
	if !tail {
		return sf, nil
	}

	if st.reinit {
		l.logger.Warn("Rewriting truncated segment header",
			zap.String("path", path),
			zap.Int64("size", st.size))
		if err := l.resetSegment(sf); err != nil {
			fd.Close()
			return nil, err
		}
		return sf, nil
	}

	if st.end < st.size {
		l.logger.Warn("Truncating partially written record",
			zap.String("path", path),
			zap.Int64("valid_size", st.end),
			zap.Int64("file_size", st.size),
			zap.NamedError("cause", st.tornErr))
		if err := fd.Truncate(st.end); err != nil {
			fd.Close()
			return nil, fmt.Errorf("failed to truncate segment %d: %w", st.id, err)
		}
		if err := fd.Sync(); err != nil {
			fd.Close()
			return nil, fmt.Errorf("failed to sync segment %d: %w", st.id, err)
		}
		l.metrics.RecordTornTail()
	}
	return sf, nil
}

func (l *fileLog) resetSegment(sf *segmentFile) error {
	if err := sf.fd.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate segment %d: %w", sf.id, err)
	}
	if _, err := sf.fd.WriteAt(sf.header.Encode(), 0); err != nil {
		return fmt.Errorf("failed to write segment header: %w", err)
	}
	if err := sf.fd.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment %d: %w", sf.id, err)
	}
	sf.size = segment.HeaderSize
	sf.records = 0
	return nil
}

// createSegment creates a new, empty segment file with a header
func (l *fileLog) createSegment(id uint32) (*segmentFile, error) {
	path := segmentPath(l.dataDir, id)
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment %d: %w", id, err)
	}
	sf := &segmentFile{
		id:     id,
		fd:     fd,
		header: segment.NewHeader(l.config.VerifyChecksums, uint64(l.config.SegmentSize)),
	}
	if err := l.resetSegment(sf); err != nil {
		fd.Close()
		return nil, err
	}
	if err := syncDir(l.dataDir); err != nil {
		fd.Close()
		return nil, err
	}

	l.logger.Info("Opened new stream log segment", zap.String("path", path))
	return sf, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

// Append appends an entry at a free address
func (l *fileLog) Append(entry *model.LogEntry) error {
	return l.write(entry, false)
}

// Replace appends an entry and re-points its address at the new record
func (l *fileLog) Replace(entry *model.LogEntry) error {
	return l.write(entry, true)
}

func (l *fileLog) write(entry *model.LogEntry, replace bool) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	if l.sealedErr != nil {
		return errors.AppendFailed("stream log stopped accepting writes", l.sealedErr)
	}

	l.mu.RLock()
	closed := l.closed
	_, exists := l.index[entry.Address]
	l.mu.RUnlock()

	if closed {
		return errors.Unavailable("stream log is closed", nil)
	}
	if exists && !replace {
		return errors.DuplicateAddress(entry.Address)
	}

	record, err := segment.EncodeRecord(entry, l.config.VerifyChecksums)
	if err != nil {
		return errors.InvalidArgument("failed to encode entry", err)
	}

	startTime := time.Now()
	if l.tail.records > 0 && l.tail.size+int64(len(record)) > l.config.SegmentSize {
		if err := l.rollover(); err != nil {
			return l.seal(err)
		}
	}

	offset := l.tail.size
	if _, err := l.tail.fd.WriteAt(record, offset); err != nil {
		return l.seal(fmt.Errorf("failed to write record: %w", err))
	}
	if l.config.SyncWrites {
		if err := l.syncTail(); err != nil {
			return l.seal(err)
		}
	}

	// The record is durable; only now may the index point at it.
	l.mu.Lock()
	l.tail.size += int64(len(record))
	l.tail.records++
	l.index[entry.Address] = location{
		segment: l.tail.id,
		offset:  offset,
		length:  uint32(len(record)),
	}
	entries := len(l.index)
	segments := len(l.segments)
	l.mu.Unlock()

	l.metrics.RecordStreamLogAppend(time.Since(startTime).Seconds())
	l.metrics.UpdateStreamLogStats(segments, l.sizeLocked(), entries)
	return nil
}

func (l *fileLog) syncTail() error {
	startTime := time.Now()
	if err := l.tail.fd.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment %d: %w", l.tail.id, err)
	}
	l.metrics.RecordStreamLogSync(time.Since(startTime).Seconds())
	return nil
}

// rollover seals the tail segment and opens the next one. Must be called
// with appendMu held.
func (l *fileLog) rollover() error {
	if !l.config.SyncWrites {
		if err := l.syncTail(); err != nil {
			return err
		}
	}
	next, err := l.createSegment(l.tail.id + 1)
	if err != nil {
		return err
	}

	l.logger.Info("Rotated stream log segment",
		zap.Uint32("sealed_segment", l.tail.id),
		zap.Int("records", l.tail.records),
		zap.String("size", humanize.IBytes(uint64(l.tail.size))))

	l.mu.Lock()
	l.segments[next.id] = next
	l.mu.Unlock()
	l.tail = next
	return nil
}

// seal stops the log from accepting further writes after an I/O failure.
// Must be called with appendMu held.
func (l *fileLog) seal(cause error) error {
	l.sealedErr = cause
	l.logger.Error("Stream log write failed, refusing further appends",
		zap.String("dir", l.dataDir),
		zap.Error(cause))
	return errors.AppendFailed("failed to append to stream log", cause)
}

// Read returns the entry at address, or nil if the address was never written
func (l *fileLog) Read(address uint64) (*model.LogEntry, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, errors.Unavailable("stream log is closed", nil)
	}
	loc, ok := l.index[address]
	if !ok {
		l.mu.RUnlock()
		return nil, nil
	}
	sf, ok := l.segments[loc.segment]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.InternalError(fmt.Sprintf("address %d points at unknown segment %d", address, loc.segment), nil)
	}

	buf := make([]byte, loc.length)
	if _, err := sf.fd.ReadAt(buf, loc.offset); err != nil {
		if stderrors.Is(err, os.ErrClosed) {
			return nil, errors.Unavailable("stream log is closed", err)
		}
		return nil, errors.InternalError(fmt.Sprintf("failed to read address %d from segment %d", address, loc.segment), err)
	}
	entry, err := segment.DecodeRecord(buf, sf.header.VerifyChecksums)
	if err != nil {
		l.logger.Error("Failed to decode record",
			zap.Uint64("address", address),
			zap.Uint32("segment", loc.segment),
			zap.Int64("offset", loc.offset),
			zap.Error(err))
		return nil, err
	}
	if entry.Address != address {
		return nil, errors.CorruptedData(
			fmt.Sprintf("record at segment %d offset %d holds address %d, expected %d", loc.segment, loc.offset, entry.Address, address), nil)
	}
	return entry, nil
}

// Contains reports whether address is present in the index
func (l *fileLog) Contains(address uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[address]
	return ok
}

// Addresses returns every indexed address in ascending order
func (l *fileLog) Addresses() []uint64 {
	l.mu.RLock()
	out := make([]uint64, 0, len(l.index))
	for addr := range l.index {
		out = append(out, addr)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns stream log statistics
func (l *fileLog) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		Segments: len(l.segments),
		Entries:  len(l.index),
	}
	for _, sf := range l.segments {
		stats.Records += sf.records
		stats.SizeBytes += sf.size
	}
	return stats
}

// sizeLocked sums segment sizes
func (l *fileLog) sizeLocked() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var size int64
	for _, sf := range l.segments {
		size += sf.size
	}
	return size
}

// Close syncs the tail segment and closes every segment file
func (l *fileLog) Close() error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	if l.tail != nil && l.sealedErr == nil {
		if err := l.tail.fd.Sync(); err != nil {
			firstErr = fmt.Errorf("failed to sync segment %d: %w", l.tail.id, err)
		}
	}
	if err := l.closeFiles(); err != nil && firstErr == nil {
		firstErr = err
	}

	l.logger.Info("Stream log closed", zap.String("dir", l.dataDir))
	return firstErr
}

func (l *fileLog) closeFiles() error {
	var firstErr error
	for _, sf := range l.segments {
		if err := sf.fd.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close segment %d: %w", sf.id, err)
		}
	}
	return firstErr
}
