package streamlog

import (
	stderrors "errors"
	"fmt"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/storage/segment"
)

// location is where the live record of an address sits on disk
type location struct {
	segment uint32
	offset  int64
	length  uint32
}

// segmentImage is the raw content of one segment file
type segmentImage struct {
	id   uint32
	data []byte
}

// segmentLoader reads the raw content of a segment file
type segmentLoader func(id uint32) ([]byte, error)

// segmentState is what recovery learned about one segment
type segmentState struct {
	id      uint32
	header  segment.Header
	records int

	// end is the valid size of the file; anything after it must be cut
	end  int64
	size int64

	// reinit is set for a tail segment whose header never made it to disk
	reinit bool

	// tornErr is why the cut record failed to decode, if it was complete
	tornErr error
}

// recovery is the accumulator of the recovery fold
type recovery struct {
	index    map[uint64]location
	segments []segmentState
	records  int
}

func newRecovery() recovery {
	return recovery{index: make(map[uint64]location)}
}

// recoverSegments folds over segments in ascending id order and rebuilds the
// address index. Later records win, which replays rank-forced overwrites and
// trims in the order they were appended. Only one segment image is held in
// memory at a time.
func recoverSegments(ids []uint32, load segmentLoader, expected segment.Header) (recovery, error) {
	acc := newRecovery()
	for i, id := range ids {
		data, err := load(id)
		if err != nil {
			return acc, fmt.Errorf("failed to read segment %d: %w", id, err)
		}
		acc, err = foldSegment(acc, segmentImage{id: id, data: data}, expected, i == len(ids)-1)
		if err != nil {
			return acc, fmt.Errorf("segment %d: %w", id, err)
		}
	}
	return acc, nil
}

// foldSegment adds one segment image to the accumulator. Only the last
// segment may end with a partial record or a partial header.
func foldSegment(acc recovery, img segmentImage, expected segment.Header, last bool) (recovery, error) {
	if len(img.data) < segment.HeaderSize {
		if !last {
			return acc, errors.CorruptedData("sealed segment has a truncated header", nil)
		}
		acc.segments = append(acc.segments, segmentState{
			id:     img.id,
			header: expected,
			end:    segment.HeaderSize,
			size:   int64(len(img.data)),
			reinit: true,
		})
		return acc, nil
	}

	header, err := segment.DecodeHeader(img.data)
	if err != nil {
		return acc, err
	}
	if err := header.Check(expected); err != nil {
		return acc, err
	}

	result, err := segment.Scan(img.data, func(r segment.Record) error {
		acc.index[r.Entry.Address] = location{
			segment: img.id,
			offset:  r.Offset,
			length:  r.Length,
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, segment.ErrTruncatedHeader) {
			return acc, errors.CorruptedData("segment header is truncated", err)
		}
		return acc, err
	}
	if result.Torn && !last {
		if result.TornErr != nil {
			return acc, result.TornErr
		}
		return acc, errors.CorruptedData(
			fmt.Sprintf("sealed segment has a partial record at offset %d", result.End), nil)
	}

	acc.records += result.Records
	acc.segments = append(acc.segments, segmentState{
		id:      img.id,
		header:  header,
		records: result.Records,
		end:     result.End,
		size:    int64(len(img.data)),
		tornErr: result.TornErr,
	})
	return acc, nil
}
