package segment

import (
	"fmt"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/model"
)

// Record is a decoded entry together with its position in the segment
type Record struct {
	Offset int64
	Length uint32
	Entry  *model.LogEntry
}

// ScanResult summarizes a segment scan
type ScanResult struct {
	Header  Header
	Records int

	// End is the offset just past the last complete record
	End int64

	// Torn is set when bytes after End do not form a complete record
	Torn bool

	// TornErr is why the record after End was rejected; nil when it was
	// simply short
	TornErr error
}

// Scan decodes a whole segment image, calling fn for every complete record in
// file order. A trailing partial record stops the scan and sets Torn, and so
// does a final record that fails to decode with only zeroes after it: a crash
// can persist the length prefix and the first pages of a record but not the
// rest. The caller decides whether that is a crash artifact or corruption.
func Scan(data []byte, fn func(Record) error) (ScanResult, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{Header: header, End: HeaderSize}
	pos := int64(HeaderSize)
	size := int64(len(data))

	for pos < size {
		remaining := data[pos:]
		if len(remaining) < lengthSize || allZero(remaining) {
			result.Torn = true
			break
		}
		length := int64(encoding.Uint32(remaining[0:4]))
		if length > MaxRecordSize {
			return result, errors.CorruptedData(
				fmt.Sprintf("record at offset %d declares %d bytes", pos, length), nil)
		}
		if int64(len(remaining)) < lengthSize+length {
			result.Torn = true
			break
		}

		raw := remaining[:lengthSize+length]
		entry, err := DecodeRecord(raw, header.VerifyChecksums)
		if err != nil {
			if allZero(remaining[len(raw):]) {
				result.Torn = true
				result.TornErr = err
				break
			}
			return result, err
		}
		if fn != nil {
			if err := fn(Record{Offset: pos, Length: uint32(len(raw)), Entry: entry}); err != nil {
				return result, err
			}
		}

		pos += int64(len(raw))
		result.Records++
		result.End = pos
	}
	return result, nil
}

// allZero reports whether b holds only zero bytes, which is what a file
// system leaves behind when a write is lost after the size was extended.
func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
