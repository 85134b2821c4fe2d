package model

import (
	"bytes"
	"cmp"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// StreamID identifies a logical sub-sequence of the log
type StreamID = uuid.UUID

// DataType describes what an address holds
type DataType uint8

const (
	DataTypeData     DataType = 0
	DataTypeEmpty    DataType = 1
	DataTypeTrimmed  DataType = 2
	DataTypeRankOnly DataType = 3
)

func (t DataType) String() string {
	switch t {
	case DataTypeData:
		return "DATA"
	case DataTypeEmpty:
		return "EMPTY"
	case DataTypeTrimmed:
		return "TRIMMED"
	case DataTypeRankOnly:
		return "RANK_ONLY"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(t))
	}
}

// Valid reports whether t is a known data type
func (t DataType) Valid() bool {
	return t <= DataTypeRankOnly
}

// Rank grants override authority over a prior write at the same address.
// A missing rank is represented by a nil *Rank, never by a zero value.
type Rank struct {
	Epoch    int64
	UniqueID int64
}

// Compare orders ranks lexicographically on (Epoch, UniqueID)
func (r Rank) Compare(o Rank) int {
	if c := cmp.Compare(r.Epoch, o.Epoch); c != 0 {
		return c
	}
	return cmp.Compare(r.UniqueID, o.UniqueID)
}

func (r Rank) String() string {
	return fmt.Sprintf("(%d,%d)", r.Epoch, r.UniqueID)
}

// CompareRanks orders optional ranks. An absent rank sorts below every
// present rank and ties with another absent rank.
func CompareRanks(a, b *Rank) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

// LogEntry is the unit of storage at a global address
type LogEntry struct {
	Address      uint64
	Payload      []byte
	DataType     DataType
	Streams      []StreamID
	Backpointers map[StreamID]uint64
	Rank         *Rank

	// Checksum is only meaningful when HasChecksum is set; it is filled in
	// by the segment codec when verification is enabled.
	Checksum    uint32
	HasChecksum bool
}

// NewDataEntry builds a DATA entry
func NewDataEntry(address uint64, payload []byte) *LogEntry {
	return &LogEntry{
		Address:  address,
		Payload:  payload,
		DataType: DataTypeData,
	}
}

// NewTrimmedEntry builds the marker stored when an address is trimmed
func NewTrimmedEntry(address uint64) *LogEntry {
	return &LogEntry{
		Address:  address,
		DataType: DataTypeTrimmed,
	}
}

// IsTrimmed reports whether the entry is a trim marker
func (e *LogEntry) IsTrimmed() bool {
	return e.DataType == DataTypeTrimmed
}

// SortedStreams returns the stream ids in a deterministic order
func (e *LogEntry) SortedStreams() []StreamID {
	out := make([]StreamID, len(e.Streams))
	copy(out, e.Streams)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// SortedBackpointers returns the backpointer stream ids in a deterministic order
func (e *LogEntry) SortedBackpointers() []StreamID {
	out := make([]StreamID, 0, len(e.Backpointers))
	for id := range e.Backpointers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// SizeBytes approximates the in-memory footprint of the entry
func (e *LogEntry) SizeBytes() int64 {
	return int64(len(e.Payload)+len(e.Streams)*16+len(e.Backpointers)*24) + 64
}

// Clone returns a deep copy so callers cannot mutate cached state
func (e *LogEntry) Clone() *LogEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	if e.Streams != nil {
		c.Streams = append([]StreamID(nil), e.Streams...)
	}
	if e.Backpointers != nil {
		c.Backpointers = make(map[StreamID]uint64, len(e.Backpointers))
		for k, v := range e.Backpointers {
			c.Backpointers[k] = v
		}
	}
	if e.Rank != nil {
		r := *e.Rank
		c.Rank = &r
	}
	return &c
}

// ReadResult is what a read at an address resolves to
type ReadResult struct {
	Address  uint64
	DataType DataType
	Entry    *LogEntry // nil for EMPTY and TRIMMED markers; owned by the caller
	Source   string
}

// WriteStatus is the per-request outcome of a write
type WriteStatus int

const (
	WriteOK WriteStatus = iota
	WriteErrorOverwrite
)

func (s WriteStatus) String() string {
	if s == WriteOK {
		return "WRITE_OK"
	}
	return "ERROR_OVERWRITE"
}
