package streamlog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/segment"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *Config {
	return &Config{
		SegmentSize:     1 << 20,
		VerifyChecksums: true,
		SyncWrites:      true,
	}
}

func openLog(t *testing.T, dir string, cfg *Config) StreamLog {
	t.Helper()
	l, err := Open(dir, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	return l
}

func entryAt(address uint64, payload string) *model.LogEntry {
	stream := uuid.NewSHA1(uuid.NameSpaceURL, []byte("stream"))
	e := model.NewDataEntry(address, []byte(payload))
	e.Streams = []model.StreamID{stream}
	e.Backpointers = map[model.StreamID]uint64{stream: address}
	return e
}

// flipByte inverts one byte of a file in place; a negative offset counts
// from the end
func flipByte(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()
	if offset < 0 {
		info, err := f.Stat()
		require.NoError(t, err)
		offset += info.Size()
	}
	b := make([]byte, 1)
	_, err = f.ReadAt(b, offset)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, offset)
	require.NoError(t, err)
}

func TestFoldSegments(t *testing.T) {
	expected := segment.NewHeader(true, 1<<20)
	image := func(entries ...*model.LogEntry) []byte {
		data := expected.Encode()
		for _, e := range entries {
			rec, err := segment.EncodeRecord(e, true)
			require.NoError(t, err)
			data = append(data, rec...)
		}
		return data
	}
	loader := func(images map[uint32][]byte) segmentLoader {
		return func(id uint32) ([]byte, error) { return images[id], nil }
	}

	t.Run("should let later segments win", func(t *testing.T) {
		images := map[uint32][]byte{
			1: image(entryAt(1, "old"), entryAt(2, "two")),
			2: image(model.NewTrimmedEntry(1)),
		}
		rec, err := recoverSegments([]uint32{1, 2}, loader(images), expected)
		require.NoError(t, err)
		assert.Len(t, rec.index, 2)
		assert.Equal(t, uint32(2), rec.index[1].segment)
		assert.Equal(t, uint32(1), rec.index[2].segment)
		assert.Equal(t, 3, rec.records)
	})
	t.Run("should cut a torn tail from the last segment", func(t *testing.T) {
		full := image(entryAt(1, "one"), entryAt(2, "two"))
		images := map[uint32][]byte{1: full[:len(full)-3]}
		rec, err := recoverSegments([]uint32{1}, loader(images), expected)
		require.NoError(t, err)
		require.Len(t, rec.segments, 1)
		assert.Less(t, rec.segments[0].end, rec.segments[0].size)
		assert.Len(t, rec.index, 1)
	})
	t.Run("should refuse a torn sealed segment", func(t *testing.T) {
		full := image(entryAt(1, "one"))
		images := map[uint32][]byte{
			1: full[:len(full)-3],
			2: image(entryAt(2, "two")),
		}
		_, err := recoverSegments([]uint32{1, 2}, loader(images), expected)
		assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
	})
	t.Run("should cut a damaged final record from the last segment", func(t *testing.T) {
		data := image(entryAt(1, "one"), entryAt(2, "two"))
		data[len(data)-1] ^= 0xFF
		images := map[uint32][]byte{1: append(data, make([]byte, 32)...)}
		rec, err := recoverSegments([]uint32{1}, loader(images), expected)
		require.NoError(t, err)
		require.Len(t, rec.segments, 1)
		assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(rec.segments[0].tornErr))
		assert.Len(t, rec.index, 1)
		assert.Contains(t, rec.index, uint64(1))
	})
	t.Run("should refuse a damaged final record in a sealed segment", func(t *testing.T) {
		data := image(entryAt(1, "one"))
		data[len(data)-1] ^= 0xFF
		images := map[uint32][]byte{
			1: data,
			2: image(entryAt(2, "two")),
		}
		_, err := recoverSegments([]uint32{1, 2}, loader(images), expected)
		assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
	})
	t.Run("should reinitialize a tail with a short header", func(t *testing.T) {
		images := map[uint32][]byte{
			1: image(entryAt(1, "one")),
			2: expected.Encode()[:7],
		}
		rec, err := recoverSegments([]uint32{1, 2}, loader(images), expected)
		require.NoError(t, err)
		require.Len(t, rec.segments, 2)
		assert.True(t, rec.segments[1].reinit)
	})
	t.Run("should refuse a sealed segment with a short header", func(t *testing.T) {
		images := map[uint32][]byte{
			1: {},
			2: image(entryAt(1, "one")),
		}
		_, err := recoverSegments([]uint32{1, 2}, loader(images), expected)
		assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
	})
}

func TestFileLog(t *testing.T) {
	t.Run("should survive a restart", func(t *testing.T) {
		dir := t.TempDir()
		l := openLog(t, dir, testConfig())
		want := entryAt(7, "durable")
		want.Rank = &model.Rank{Epoch: 2, UniqueID: 9}
		require.NoError(t, l.Append(want))
		require.NoError(t, l.Close())

		l = openLog(t, dir, testConfig())
		defer l.Close()
		got, err := l.Read(7)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []byte("durable"), got.Payload)
		assert.Equal(t, want.Streams, got.Streams)
		assert.Equal(t, want.Backpointers, got.Backpointers)
		assert.Equal(t, want.Rank, got.Rank)
		assert.True(t, got.HasChecksum)
	})
	t.Run("should store sparse addresses", func(t *testing.T) {
		dir := t.TempDir()
		l := openLog(t, dir, testConfig())
		for _, addr := range []uint64{0, 100, 10_000_000} {
			require.NoError(t, l.Append(entryAt(addr, "x")))
		}
		require.NoError(t, l.Close())

		l = openLog(t, dir, testConfig())
		defer l.Close()
		assert.Equal(t, []uint64{0, 100, 10_000_000}, l.Addresses())
		missing, err := l.Read(50)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
	t.Run("should recover the same state twice", func(t *testing.T) {
		dir := t.TempDir()
		l := openLog(t, dir, testConfig())
		require.NoError(t, l.Append(entryAt(1, "a")))
		require.NoError(t, l.Append(entryAt(2, "b")))
		require.NoError(t, l.Replace(model.NewTrimmedEntry(1)))
		require.NoError(t, l.Close())

		l = openLog(t, dir, testConfig())
		first := l.Stats()
		require.NoError(t, l.Close())
		l = openLog(t, dir, testConfig())
		defer l.Close()
		assert.Equal(t, first, l.Stats())
		assert.Equal(t, 2, first.Entries)
		assert.Equal(t, 3, first.Records)

		got, err := l.Read(1)
		require.NoError(t, err)
		assert.True(t, got.IsTrimmed())
	})
	t.Run("should drop a torn tail and keep appending", func(t *testing.T) {
		dir := t.TempDir()
		l := openLog(t, dir, testConfig())
		require.NoError(t, l.Append(entryAt(1, "complete")))
		require.NoError(t, l.Close())

		path := segmentPath(dir, 1)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		require.NoError(t, err)
		rec, err := segment.EncodeRecord(entryAt(2, "lost"), true)
		require.NoError(t, err)
		_, err = f.Write(rec[:len(rec)/2])
		require.NoError(t, err)
		require.NoError(t, f.Close())

		l = openLog(t, dir, testConfig())
		assert.Equal(t, []uint64{1}, l.Addresses())
		require.NoError(t, l.Append(entryAt(2, "second try")))
		require.NoError(t, l.Close())

		l = openLog(t, dir, testConfig())
		defer l.Close()
		got, err := l.Read(2)
		require.NoError(t, err)
		assert.Equal(t, []byte("second try"), got.Payload)
	})
	t.Run("should refuse an unsupported version", func(t *testing.T) {
		dir := t.TempDir()
		h := segment.NewHeader(true, 1<<20)
		h.Version = segment.Version + 1
		require.NoError(t, os.WriteFile(segmentPath(dir, 1), h.Encode(), 0644))

		_, err := Open(dir, testConfig(), zap.NewNop(), nil)
		assert.Equal(t, errors.ErrCodeIncompatibleFormat, errors.GetCode(err))
	})
	t.Run("should refuse to open verified segments without verification", func(t *testing.T) {
		dir := t.TempDir()
		l := openLog(t, dir, testConfig())
		require.NoError(t, l.Append(entryAt(1, "a")))
		require.NoError(t, l.Close())

		cfg := testConfig()
		cfg.VerifyChecksums = false
		_, err := Open(dir, cfg, zap.NewNop(), nil)
		assert.Equal(t, errors.ErrCodeIncompatibleFormat, errors.GetCode(err))
	})
	t.Run("should refuse a corrupted record followed by others", func(t *testing.T) {
		dir := t.TempDir()
		l := openLog(t, dir, testConfig())
		require.NoError(t, l.Append(entryAt(1, "payload")))
		require.NoError(t, l.Append(entryAt(2, "payload")))
		require.NoError(t, l.Close())

		path := segmentPath(dir, 1)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[segment.HeaderSize+20] ^= 0xFF
		require.NoError(t, os.WriteFile(path, data, 0644))

		_, err = Open(dir, testConfig(), zap.NewNop(), nil)
		assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
	})
	t.Run("should detect a corrupted record on read", func(t *testing.T) {
		dir := t.TempDir()
		l := openLog(t, dir, testConfig())
		defer l.Close()
		require.NoError(t, l.Append(entryAt(1, "payload")))
		flipByte(t, segmentPath(dir, 1), -1)

		_, err := l.Read(1)
		assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
		assert.True(t, l.Contains(1))
	})
	t.Run("should drop a final record that only partly reached disk", func(t *testing.T) {
		dir := t.TempDir()
		l := openLog(t, dir, testConfig())
		require.NoError(t, l.Append(entryAt(1, "complete")))
		require.NoError(t, l.Close())

		path := segmentPath(dir, 1)
		before, err := os.Stat(path)
		require.NoError(t, err)

		// The length prefix and first page landed, the rest reads back as zeroes.
		rec, err := segment.EncodeRecord(entryAt(2, strings.Repeat("x", 10<<10)), true)
		require.NoError(t, err)
		partial := make([]byte, len(rec))
		copy(partial, rec[:4096])
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		require.NoError(t, err)
		_, err = f.Write(partial)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		l = openLog(t, dir, testConfig())
		assert.Equal(t, []uint64{1}, l.Addresses())
		after, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, before.Size(), after.Size())

		require.NoError(t, l.Append(entryAt(2, "second try")))
		require.NoError(t, l.Close())

		l = openLog(t, dir, testConfig())
		defer l.Close()
		got, err := l.Read(2)
		require.NoError(t, err)
		assert.Equal(t, []byte("second try"), got.Payload)
	})
	t.Run("should roll over to a new segment", func(t *testing.T) {
		dir := t.TempDir()
		cfg := testConfig()
		cfg.SegmentSize = 256
		l := openLog(t, dir, cfg)
		for addr := uint64(0); addr < 10; addr++ {
			require.NoError(t, l.Append(entryAt(addr, "0123456789abcdef0123456789abcdef")))
		}
		stats := l.Stats()
		assert.Greater(t, stats.Segments, 1)
		require.NoError(t, l.Close())

		matches, err := filepath.Glob(filepath.Join(dir, "segment-*.log"))
		require.NoError(t, err)
		assert.Len(t, matches, stats.Segments)

		l = openLog(t, dir, cfg)
		defer l.Close()
		assert.Len(t, l.Addresses(), 10)
		got, err := l.Read(9)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), got.Address)
	})
	t.Run("should reject a duplicate append", func(t *testing.T) {
		l := openLog(t, t.TempDir(), testConfig())
		defer l.Close()
		require.NoError(t, l.Append(entryAt(3, "a")))
		err := l.Append(entryAt(3, "b"))
		assert.Equal(t, errors.ErrCodeDuplicateAddress, errors.GetCode(err))

		got, err := l.Read(3)
		require.NoError(t, err)
		assert.Equal(t, []byte("a"), got.Payload)
	})
	t.Run("should refuse work after close", func(t *testing.T) {
		l := openLog(t, t.TempDir(), testConfig())
		require.NoError(t, l.Close())
		require.NoError(t, l.Close())
		assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(l.Append(entryAt(1, "a"))))
		_, err := l.Read(1)
		assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(err))
	})
	t.Run("should accept concurrent appends", func(t *testing.T) {
		cfg := testConfig()
		cfg.SyncWrites = false
		l := openLog(t, t.TempDir(), cfg)
		defer l.Close()

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					assert.NoError(t, l.Append(entryAt(uint64(w*1000+i), "c")))
				}
			}(w)
		}
		wg.Wait()
		assert.Equal(t, 400, l.Stats().Entries)
	})
}

func TestMemoryLog(t *testing.T) {
	l := NewMemoryLog(zap.NewNop())
	require.NoError(t, l.Append(entryAt(5, "mem")))
	assert.Equal(t, errors.ErrCodeDuplicateAddress, errors.GetCode(l.Append(entryAt(5, "again"))))
	require.NoError(t, l.Replace(model.NewTrimmedEntry(5)))

	got, err := l.Read(5)
	require.NoError(t, err)
	assert.True(t, got.IsTrimmed())
	assert.True(t, l.Contains(5))
	assert.False(t, l.Contains(6))
	assert.Equal(t, 2, l.Stats().Records)

	// Returned entries are copies.
	got.DataType = model.DataTypeData
	again, err := l.Read(5)
	require.NoError(t, err)
	assert.True(t, again.IsTrimmed())
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	l := openLog(t, dir, testConfig())
	require.NoError(t, l.Append(entryAt(4, "a")))
	require.NoError(t, l.Append(entryAt(2, "b")))
	require.NoError(t, l.Replace(model.NewTrimmedEntry(4)))
	require.NoError(t, l.Close())

	var addrs []uint64
	infos, err := Inspect(dir, func(id uint32, r segment.Record) {
		assert.Equal(t, uint32(1), id)
		addrs = append(addrs, r.Entry.Address)
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 2, 4}, addrs)
	require.Len(t, infos, 1)
	info := infos[0]
	assert.NoError(t, info.Err)
	assert.Equal(t, 3, info.Records)
	assert.Equal(t, uint64(2), info.MinAddress)
	assert.Equal(t, uint64(4), info.MaxAddress)
	assert.Equal(t, 2, info.ByType[model.DataTypeData])
	assert.Equal(t, 1, info.ByType[model.DataTypeTrimmed])
	assert.False(t, info.Torn)
	assert.True(t, info.VerifyChecksums)
}
