package streamlog

import (
	"fmt"
	"os"

	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/segment"
)

// SegmentInfo describes one segment file found by Inspect
type SegmentInfo struct {
	ID              uint32
	Path            string
	Version         uint32
	VerifyChecksums bool
	SegmentSize     uint64
	FileSize        int64
	ValidSize       int64
	Records         int
	Torn            bool
	ByType          map[model.DataType]int
	MinAddress      uint64
	MaxAddress      uint64
	Err             error
}

// RecordFunc is called by Inspect for every complete record
type RecordFunc func(segmentID uint32, r segment.Record)

// Inspect scans every segment in dataDir without modifying anything. A
// segment that cannot be decoded is reported through SegmentInfo.Err and
// does not stop the scan of the others. onRecord may be nil.
func Inspect(dataDir string, onRecord RecordFunc) ([]SegmentInfo, error) {
	ids, err := listSegments(dataDir)
	if err != nil {
		return nil, err
	}

	out := make([]SegmentInfo, 0, len(ids))
	for _, id := range ids {
		path := segmentPath(dataDir, id)
		info := SegmentInfo{
			ID:     id,
			Path:   path,
			ByType: make(map[model.DataType]int),
		}

		data, err := os.ReadFile(path)
		if err != nil {
			info.Err = fmt.Errorf("failed to read segment: %w", err)
			out = append(out, info)
			continue
		}
		info.FileSize = int64(len(data))

		first := true
		result, err := segment.Scan(data, func(r segment.Record) error {
			addr := r.Entry.Address
			if first || addr < info.MinAddress {
				info.MinAddress = addr
			}
			if first || addr > info.MaxAddress {
				info.MaxAddress = addr
			}
			first = false
			info.ByType[r.Entry.DataType]++
			if onRecord != nil {
				onRecord(id, r)
			}
			return nil
		})
		info.Version = result.Header.Version
		info.VerifyChecksums = result.Header.VerifyChecksums
		info.SegmentSize = result.Header.SegmentSize
		info.ValidSize = result.End
		info.Records = result.Records
		info.Torn = result.Torn
		info.Err = err
		out = append(out, info)
	}
	return out, nil
}
