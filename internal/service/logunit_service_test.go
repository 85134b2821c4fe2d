package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/diskmanager"
	"github.com/devrev/pairdb/logunit/internal/storage/streamlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func storeConfig() *streamlog.Config {
	return &streamlog.Config{
		SegmentSize:     1 << 20,
		VerifyChecksums: true,
		SyncWrites:      true,
	}
}

// openService opens a file-backed log unit on dir
func openService(t *testing.T, dir string) *LogUnitService {
	t.Helper()
	store, err := streamlog.Open(dir, storeConfig(), zap.NewNop(), nil)
	require.NoError(t, err)
	return newServiceOver(t, store, nil)
}

func newServiceOver(t *testing.T, store streamlog.StreamLog, dm *diskmanager.DiskManager) *LogUnitService {
	t.Helper()
	cache, err := NewCacheService(&CacheConfig{HeapRatio: 0.5, Probe: fixedMemory(64 << 20)}, zap.NewNop(), nil)
	require.NoError(t, err)
	return NewLogUnitService(store, cache, dm, nil, zap.NewNop())
}

func write(t *testing.T, s *LogUnitService, address uint64, payload string, rank *model.Rank) model.WriteStatus {
	t.Helper()
	e := model.NewDataEntry(address, []byte(payload))
	e.Rank = rank
	status, err := s.Write(context.Background(), e)
	require.NoError(t, err)
	return status
}

func readPayload(t *testing.T, s *LogUnitService, address uint64) string {
	t.Helper()
	result, err := s.Read(context.Background(), address)
	require.NoError(t, err)
	require.Equal(t, model.DataTypeData, result.DataType, "address %d", address)
	return string(result.Entry.Payload)
}

func TestLogUnitService_OverwriteRejected(t *testing.T) {
	s := openService(t, t.TempDir())
	defer s.Close()

	assert.Equal(t, model.WriteOK, write(t, s, 0, "0", nil))
	assert.Equal(t, model.WriteErrorOverwrite, write(t, s, 0, "0", nil))
	assert.Equal(t, "0", readPayload(t, s, 0))
}

func TestLogUnitService_RankedOverwriteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s := openService(t, dir)

	assert.Equal(t, model.WriteOK, write(t, s, 0, "0", &model.Rank{Epoch: 0, UniqueID: 0}))
	assert.Equal(t, model.WriteOK, write(t, s, 0, "1", &model.Rank{Epoch: 1, UniqueID: 0}))
	assert.Equal(t, "1", readPayload(t, s, 0))
	require.NoError(t, s.Close())

	s = openService(t, dir)
	defer s.Close()
	assert.Equal(t, "1", readPayload(t, s, 0))
}

func TestLogUnitService_RankMonotonicity(t *testing.T) {
	s := openService(t, t.TempDir())
	defer s.Close()

	r1 := &model.Rank{Epoch: 3, UniqueID: 1}
	r2 := &model.Rank{Epoch: 3, UniqueID: 2}

	assert.Equal(t, model.WriteOK, write(t, s, 10, "r1", r1))
	assert.Equal(t, model.WriteOK, write(t, s, 10, "r2", r2))
	assert.Equal(t, "r2", readPayload(t, s, 10))

	assert.Equal(t, model.WriteOK, write(t, s, 11, "r2", r2))
	assert.Equal(t, model.WriteErrorOverwrite, write(t, s, 11, "r1", r1))
	assert.Equal(t, model.WriteErrorOverwrite, write(t, s, 11, "plain", nil))
	assert.Equal(t, "r2", readPayload(t, s, 11))
}

func TestLogUnitService_SparseAddresses(t *testing.T) {
	dir := t.TempDir()
	s := openService(t, dir)
	for _, addr := range []uint64{0, 100, 10_000_000} {
		assert.Equal(t, model.WriteOK, write(t, s, addr, fmt.Sprint(addr), nil))
	}
	require.NoError(t, s.Close())

	s = openService(t, dir)
	defer s.Close()
	for _, addr := range []uint64{0, 100, 10_000_000} {
		assert.Equal(t, fmt.Sprint(addr), readPayload(t, s, addr))
	}
	for _, addr := range []uint64{1, 99, 101, 9_999_999, 10_000_001} {
		result, err := s.Read(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, model.DataTypeEmpty, result.DataType)
		assert.Nil(t, result.Entry)
	}
}

func TestLogUnitService_DurabilityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openService(t, dir)
	for addr := uint64(0); addr < 50; addr++ {
		require.Equal(t, model.WriteOK, write(t, s, addr, fmt.Sprintf("payload-%d", addr), nil))
	}
	require.NoError(t, s.Trim(context.Background(), 7))
	require.NoError(t, s.Close())

	s = openService(t, dir)
	defer s.Close()
	for addr := uint64(0); addr < 50; addr++ {
		if addr == 7 {
			continue
		}
		assert.Equal(t, fmt.Sprintf("payload-%d", addr), readPayload(t, s, addr))
	}
	result, err := s.Read(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, model.DataTypeTrimmed, result.DataType)
}

func TestLogUnitService_Trim(t *testing.T) {
	s := openService(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	write(t, s, 5, "doomed", nil)
	assert.Equal(t, "doomed", readPayload(t, s, 5))

	require.NoError(t, s.Trim(ctx, 5))
	require.NoError(t, s.Trim(ctx, 5))

	result, err := s.Read(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, model.DataTypeTrimmed, result.DataType)
	assert.Nil(t, result.Entry)

	// Trim is terminal, even for a higher rank.
	assert.Equal(t, model.WriteErrorOverwrite, write(t, s, 5, "again", &model.Rank{Epoch: 100}))

	require.NoError(t, s.Trim(ctx, 6))
	assert.Equal(t, model.WriteErrorOverwrite, write(t, s, 6, "late", nil))
	assert.Equal(t, 2, s.Stats().Store.Entries)
}

func TestLogUnitService_HoleFill(t *testing.T) {
	s := openService(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	status, err := s.Write(ctx, &model.LogEntry{Address: 3, DataType: model.DataTypeEmpty})
	require.NoError(t, err)
	assert.Equal(t, model.WriteOK, status)
	assert.Equal(t, model.WriteErrorOverwrite, write(t, s, 3, "late", nil))

	result, err := s.Read(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, model.DataTypeEmpty, result.DataType)
	assert.Equal(t, SourceCache, result.Source)
}

func TestLogUnitService_ReadRange(t *testing.T) {
	s := openService(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	write(t, s, 1, "one", nil)
	write(t, s, 3, "three", nil)
	require.NoError(t, s.Trim(ctx, 4))

	results, err := s.ReadRange(ctx, []uint64{4, 3, 2, 1})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, model.DataTypeTrimmed, results[0].DataType)
	assert.Equal(t, []byte("three"), results[1].Entry.Payload)
	assert.Equal(t, model.DataTypeEmpty, results[2].DataType)
	assert.Equal(t, []byte("one"), results[3].Entry.Payload)

	_, err = s.ReadRange(ctx, nil)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}

func TestLogUnitService_ReadsFromStoreAfterEviction(t *testing.T) {
	store, err := streamlog.Open(t.TempDir(), storeConfig(), zap.NewNop(), nil)
	require.NoError(t, err)
	cache, err := NewCacheService(&CacheConfig{HeapRatio: 0.5, Probe: fixedMemory(400)}, zap.NewNop(), nil)
	require.NoError(t, err)
	s := NewLogUnitService(store, cache, nil, nil, zap.NewNop())
	defer s.Close()

	for addr := uint64(0); addr < 10; addr++ {
		write(t, s, addr, "0123456789", nil)
	}
	for addr := uint64(0); addr < 10; addr++ {
		assert.Equal(t, "0123456789", readPayload(t, s, addr))
	}
	assert.LessOrEqual(t, cache.Stats().Size, cache.Capacity())
}

func TestLogUnitService_InvalidWrite(t *testing.T) {
	s := newServiceOver(t, streamlog.NewMemoryLog(zap.NewNop()), nil)
	defer s.Close()

	_, err := s.Write(context.Background(), model.NewTrimmedEntry(1))
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
	assert.False(t, s.store.Contains(1))
}

func TestLogUnitService_DiskFull(t *testing.T) {
	dir := t.TempDir()
	cfg := diskmanager.DefaultConfig(dir)
	cfg.CheckInterval = time.Hour
	cfg.Stat = func(string) (diskmanager.FilesystemUsage, error) {
		return diskmanager.FilesystemUsage{TotalBytes: 100, AvailableBytes: 1}, nil
	}
	dm, err := diskmanager.NewDiskManager(cfg, zap.NewNop())
	require.NoError(t, err)

	s := newServiceOver(t, streamlog.NewMemoryLog(zap.NewNop()), dm)
	defer s.Close()

	_, err = s.Write(context.Background(), model.NewDataEntry(1, []byte("x")))
	assert.Equal(t, errors.ErrCodeDiskFull, errors.GetCode(err))
	assert.True(t, s.Available())
}

// failingLog fails every append the way a dead disk would
type failingLog struct {
	streamlog.StreamLog
}

func (f failingLog) Append(*model.LogEntry) error {
	return errors.AppendFailed("failed to append to stream log", fmt.Errorf("input/output error"))
}

func TestLogUnitService_FailsOnAppendError(t *testing.T) {
	s := newServiceOver(t, failingLog{streamlog.NewMemoryLog(zap.NewNop())}, nil)
	defer s.Close()
	ctx := context.Background()

	_, err := s.Write(ctx, model.NewDataEntry(1, []byte("x")))
	assert.Equal(t, errors.ErrCodeAppendFailed, errors.GetCode(err))
	assert.False(t, s.Available())
	assert.True(t, s.Stats().Failed)

	_, err = s.Write(ctx, model.NewDataEntry(2, []byte("x")))
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(err))

	// Reads keep working.
	result, err := s.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.DataTypeEmpty, result.DataType)
}

// flipLastByte damages the final byte of a file in place
func flipLastByte(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	b := make([]byte, 1)
	_, err = f.ReadAt(b, info.Size()-1)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, info.Size()-1)
	require.NoError(t, err)
}

func TestLogUnitService_CorruptRecordFailsService(t *testing.T) {
	dir := t.TempDir()
	store, err := streamlog.Open(dir, storeConfig(), zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(model.NewDataEntry(1, []byte("payload"))))
	flipLastByte(t, filepath.Join(dir, "segment-00000001.log"))

	s := newServiceOver(t, store, nil)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Read(ctx, 1)
	assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
	assert.Error(t, s.Err())
	assert.False(t, s.Available())

	_, err = s.Write(ctx, model.NewDataEntry(2, []byte("x")))
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(err))
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(s.Trim(ctx, 1)))
}

func TestLogUnitService_ReadReturnsCopy(t *testing.T) {
	s := newServiceOver(t, streamlog.NewMemoryLog(zap.NewNop()), nil)
	defer s.Close()
	write(t, s, 3, "cached", nil)

	result, err := s.Read(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, result.Source)
	result.Entry.Payload[0] = 'X'
	result.Entry.DataType = model.DataTypeTrimmed

	assert.Equal(t, "cached", readPayload(t, s, 3))
}

func TestLogUnitService_Close(t *testing.T) {
	s := openService(t, t.TempDir())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Write(context.Background(), model.NewDataEntry(1, nil))
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(err))
	_, err = s.Read(context.Background(), 1)
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(err))
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(s.Trim(context.Background(), 1)))
	assert.False(t, s.Available())
}

func TestLogUnitService_ConcurrentWritersOneWinner(t *testing.T) {
	s := newServiceOver(t, streamlog.NewMemoryLog(zap.NewNop()), nil)
	defer s.Close()

	const writers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			status, err := s.Write(context.Background(), model.NewDataEntry(42, []byte(fmt.Sprint(w))))
			assert.NoError(t, err)
			if status == model.WriteOK {
				wins.Add(1)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, s.Stats().Store.Records)
}

func TestLogUnitService_ConcurrentRankedWritersHighestWins(t *testing.T) {
	s := newServiceOver(t, streamlog.NewMemoryLog(zap.NewNop()), nil)
	defer s.Close()

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			e := model.NewDataEntry(9, []byte(fmt.Sprint(w)))
			e.Rank = &model.Rank{Epoch: int64(w)}
			_, err := s.Write(context.Background(), e)
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	assert.Equal(t, "15", readPayload(t, s, 9))
}
