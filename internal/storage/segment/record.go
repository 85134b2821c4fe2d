package segment

import (
	stderrors "errors"
	"fmt"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/util"
	"github.com/google/uuid"
)

var (
	ErrTruncatedHeader = stderrors.New("segment header is truncated")
	ErrRecordTooBig    = stderrors.New("record exceeds maximum size")
)

const (
	// MaxRecordSize bounds the body of a single record
	MaxRecordSize = 64 << 20

	lengthSize   = 4
	streamIDSize = 16
)

// EncodedSize returns the size of the record EncodeRecord would produce
func EncodedSize(e *model.LogEntry, verify bool) int {
	size := lengthSize +
		8 + // address
		1 + // data type
		4 + len(e.Streams)*streamIDSize +
		4 + len(e.Backpointers)*(streamIDSize+8) +
		1 + // rank present
		1 + // checksum present
		4 + len(e.Payload)
	if e.Rank != nil {
		size += 16
	}
	if verify {
		size += 4
	}
	return size
}

// EncodeRecord serializes an entry as a length-prefixed record. When verify
// is set, a CRC-32C over the record body (the checksum field excluded) is
// embedded and also stored back on the entry.
func EncodeRecord(e *model.LogEntry, verify bool) ([]byte, error) {
	size := EncodedSize(e, verify)
	if size-lengthSize > MaxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooBig, size-lengthSize)
	}

	buf := make([]byte, size)
	encoding.PutUint32(buf[0:4], uint32(size-lengthSize))
	pos := lengthSize

	encoding.PutUint64(buf[pos:], e.Address)
	pos += 8
	buf[pos] = byte(e.DataType)
	pos++

	encoding.PutUint32(buf[pos:], uint32(len(e.Streams)))
	pos += 4
	for _, id := range e.Streams {
		pos += copy(buf[pos:], id[:])
	}

	encoding.PutUint32(buf[pos:], uint32(len(e.Backpointers)))
	pos += 4
	for _, id := range e.SortedBackpointers() {
		pos += copy(buf[pos:], id[:])
		encoding.PutUint64(buf[pos:], e.Backpointers[id])
		pos += 8
	}

	if e.Rank != nil {
		buf[pos] = 1
		pos++
		encoding.PutUint64(buf[pos:], uint64(e.Rank.Epoch))
		encoding.PutUint64(buf[pos+8:], uint64(e.Rank.UniqueID))
		pos += 16
	} else {
		buf[pos] = 0
		pos++
	}

	checksumPos := -1
	if verify {
		buf[pos] = 1
		pos++
		checksumPos = pos
		pos += 4
	} else {
		buf[pos] = 0
		pos++
	}

	encoding.PutUint32(buf[pos:], uint32(len(e.Payload)))
	pos += 4
	copy(buf[pos:], e.Payload)

	if checksumPos >= 0 {
		sum := util.ComputeChecksum(buf[lengthSize:checksumPos], buf[checksumPos+4:])
		encoding.PutUint32(buf[checksumPos:], sum)
		e.Checksum = sum
		e.HasChecksum = true
	}
	return buf, nil
}

// recordReader walks a record body with bounds checking
type recordReader struct {
	buf []byte
	pos int
	err error
}

func (r *recordReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("record body truncated at byte %d (need %d more)", r.pos, n)
		return nil
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *recordReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *recordReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return encoding.Uint32(b)
	}
	return 0
}

func (r *recordReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return encoding.Uint64(b)
	}
	return 0
}

func (r *recordReader) streamID() uuid.UUID {
	var id uuid.UUID
	if b := r.take(streamIDSize); b != nil {
		copy(id[:], b)
	}
	return id
}

// DecodeRecord parses a complete record, length prefix included. When
// verify is set, a missing or mismatching checksum is a corruption error.
func DecodeRecord(buf []byte, verify bool) (*model.LogEntry, error) {
	if len(buf) < lengthSize {
		return nil, errors.CorruptedData("record shorter than its length prefix", nil)
	}
	length := encoding.Uint32(buf[0:4])
	if int(length) != len(buf)-lengthSize {
		return nil, errors.CorruptedData(
			fmt.Sprintf("record length %d does not match buffer size %d", length, len(buf)-lengthSize), nil)
	}

	r := &recordReader{buf: buf[lengthSize:]}
	e := &model.LogEntry{}
	e.Address = r.u64()
	e.DataType = model.DataType(r.u8())

	if n := r.u32(); n > 0 && r.err == nil {
		if int(n) > len(r.buf)/streamIDSize {
			return nil, errors.CorruptedData(fmt.Sprintf("stream count %d exceeds record size", n), nil)
		}
		e.Streams = make([]model.StreamID, n)
		for i := range e.Streams {
			e.Streams[i] = r.streamID()
		}
	}

	if n := r.u32(); n > 0 && r.err == nil {
		if int(n) > len(r.buf)/(streamIDSize+8) {
			return nil, errors.CorruptedData(fmt.Sprintf("backpointer count %d exceeds record size", n), nil)
		}
		e.Backpointers = make(map[model.StreamID]uint64, n)
		for i := uint32(0); i < n; i++ {
			id := r.streamID()
			e.Backpointers[id] = r.u64()
		}
	}

	if r.u8() == 1 {
		e.Rank = &model.Rank{
			Epoch:    int64(r.u64()),
			UniqueID: int64(r.u64()),
		}
	}

	checksumPos := -1
	if r.u8() == 1 {
		checksumPos = r.pos
		e.Checksum = r.u32()
		e.HasChecksum = true
	}

	payloadLen := r.u32()
	payload := r.take(int(payloadLen))
	if r.err != nil {
		return nil, errors.CorruptedData("malformed record", r.err)
	}
	if r.pos != len(r.buf) {
		return nil, errors.CorruptedData(
			fmt.Sprintf("record has %d trailing bytes", len(r.buf)-r.pos), nil)
	}
	if !e.DataType.Valid() {
		return nil, errors.CorruptedData(fmt.Sprintf("unknown data type %d", e.DataType), nil)
	}
	if payloadLen > 0 {
		e.Payload = append([]byte(nil), payload...)
	}

	if verify {
		if !e.HasChecksum {
			return nil, errors.CorruptedData(
				fmt.Sprintf("record at address %d has no checksum in a verified segment", e.Address), nil)
		}
		covered := [][]byte{r.buf[:checksumPos], r.buf[checksumPos+4:]}
		if !util.ValidateChecksum(e.Checksum, covered...) {
			return nil, errors.ChecksumFailed(e.Address, e.Checksum, util.ComputeChecksum(covered...))
		}
	}
	return e, nil
}
