// Package segment implements the on-disk layout of a log unit segment file:
// a fixed header followed by length-prefixed entry records.
package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/util"
)

var encoding = binary.BigEndian

const (
	// Magic marks a log unit segment ("PLUS")
	Magic uint32 = 0x504C5553

	// Version is the only on-disk format this build reads and writes
	Version uint32 = 1

	// HeaderSize is the encoded size of a segment header
	HeaderSize = 24

	flagVerifyChecksums uint32 = 1 << 0
)

// Header is written once at the start of every segment file
type Header struct {
	Version         uint32
	VerifyChecksums bool
	SegmentSize     uint64
}

// NewHeader returns a header for the current format version
func NewHeader(verify bool, segmentSize uint64) Header {
	return Header{
		Version:         Version,
		VerifyChecksums: verify,
		SegmentSize:     segmentSize,
	}
}

// Encode serializes the header
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	encoding.PutUint32(buf[0:4], Magic)
	encoding.PutUint32(buf[4:8], h.Version)
	var flags uint32
	if h.VerifyChecksums {
		flags |= flagVerifyChecksums
	}
	encoding.PutUint32(buf[8:12], flags)
	encoding.PutUint64(buf[12:20], h.SegmentSize)
	encoding.PutUint32(buf[20:24], util.ComputeChecksum(buf[0:20]))
	return buf
}

// DecodeHeader parses a header. It does not compare the version against
// Version; use Check for that.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTruncatedHeader
	}
	if magic := encoding.Uint32(buf[0:4]); magic != Magic {
		return Header{}, errors.CorruptedData(fmt.Sprintf("bad segment magic %#x", magic), nil)
	}
	expected := encoding.Uint32(buf[20:24])
	if !util.ValidateChecksum(expected, buf[0:20]) {
		return Header{}, errors.CorruptedData(
			fmt.Sprintf("segment header checksum mismatch: expected %d, got %d", expected, util.ComputeChecksum(buf[0:20])), nil)
	}
	return Header{
		Version:         encoding.Uint32(buf[4:8]),
		VerifyChecksums: encoding.Uint32(buf[8:12])&flagVerifyChecksums != 0,
		SegmentSize:     encoding.Uint64(buf[12:20]),
	}, nil
}

// Check verifies that an on-disk header can be served by a store configured
// with the expected header. Every mismatch is an incompatible format.
func (h Header) Check(expected Header) error {
	if h.Version != expected.Version {
		return errors.IncompatibleFormat(
			fmt.Sprintf("segment format version %d is not supported (expected %d)", h.Version, expected.Version), nil).
			WithDetail("version", h.Version)
	}
	if h.VerifyChecksums != expected.VerifyChecksums {
		return errors.IncompatibleFormat(
			fmt.Sprintf("segment checksum verification is %t but the store requires %t", h.VerifyChecksums, expected.VerifyChecksums), nil)
	}
	if h.SegmentSize != expected.SegmentSize {
		return errors.IncompatibleFormat(
			fmt.Sprintf("segment size %d does not match configured size %d", h.SegmentSize, expected.SegmentSize), nil)
	}
	return nil
}
