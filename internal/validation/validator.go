package validation

import (
	"fmt"

	"github.com/devrev/pairdb/logunit/internal/errors"
	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/segment"
	"github.com/google/uuid"
)

const (
	// Size limits
	MaxPayloadSize = 32 * 1024 * 1024 // 32 MB
	MaxStreams     = 1024

	// MaxRangeAddresses bounds a single batched read
	MaxRangeAddresses = 4096
)

// Validator validates log unit requests
type Validator struct {
	maxPayloadSize int
	maxStreams     int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxPayloadSize: MaxPayloadSize,
		maxStreams:     MaxStreams,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxPayloadSize, maxStreams int) *Validator {
	return &Validator{
		maxPayloadSize: maxPayloadSize,
		maxStreams:     maxStreams,
	}
}

// ValidateWrite validates an entry submitted for writing
func (v *Validator) ValidateWrite(entry *model.LogEntry) error {
	if entry == nil {
		return errors.InvalidArgument("entry is required", nil)
	}

	if err := v.ValidateDataType(entry); err != nil {
		return err
	}

	if err := v.ValidatePayload(entry.Payload); err != nil {
		return err
	}

	return v.ValidateStreams(entry.Streams, entry.Backpointers)
}

// ValidateDataType checks that the entry's type can be written directly.
// Trim markers are only produced by Trim.
func (v *Validator) ValidateDataType(entry *model.LogEntry) error {
	if !entry.DataType.Valid() {
		return errors.InvalidArgument(fmt.Sprintf("unknown data type %d", uint8(entry.DataType)), nil)
	}
	if entry.DataType == model.DataTypeTrimmed {
		return errors.InvalidArgument("TRIMMED entries cannot be written, use Trim", nil).
			WithDetail("address", entry.Address)
	}
	if entry.DataType == model.DataTypeEmpty && len(entry.Payload) > 0 {
		return errors.InvalidArgument("EMPTY entries cannot carry a payload", nil).
			WithDetail("address", entry.Address)
	}
	return nil
}

// ValidatePayload validates a payload
func (v *Validator) ValidatePayload(payload []byte) error {
	if len(payload) > v.maxPayloadSize {
		return errors.InvalidArgument(
			fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), v.maxPayloadSize), nil)
	}
	return nil
}

// ValidateStreams validates stream membership and backpointers
func (v *Validator) ValidateStreams(streams []model.StreamID, backpointers map[model.StreamID]uint64) error {
	if len(streams) > v.maxStreams {
		return errors.InvalidArgument(
			fmt.Sprintf("entry belongs to %d streams, maximum is %d", len(streams), v.maxStreams), nil)
	}
	if len(backpointers) > v.maxStreams {
		return errors.InvalidArgument(
			fmt.Sprintf("entry has %d backpointers, maximum is %d", len(backpointers), v.maxStreams), nil)
	}

	seen := make(map[model.StreamID]struct{}, len(streams))
	for i, id := range streams {
		if id == uuid.Nil {
			return errors.InvalidArgument(fmt.Sprintf("stream %d has a nil id", i), nil)
		}
		if _, dup := seen[id]; dup {
			return errors.InvalidArgument(fmt.Sprintf("stream %s is listed twice", id), nil)
		}
		seen[id] = struct{}{}
	}
	for id := range backpointers {
		if id == uuid.Nil {
			return errors.InvalidArgument("backpointer has a nil stream id", nil)
		}
	}
	return nil
}

// ValidateAddresses validates the address list of a batched read
func (v *Validator) ValidateAddresses(addresses []uint64) error {
	if len(addresses) == 0 {
		return errors.InvalidArgument("at least one address is required", nil)
	}
	if len(addresses) > MaxRangeAddresses {
		return errors.InvalidArgument(
			fmt.Sprintf("%d addresses requested, maximum is %d", len(addresses), MaxRangeAddresses), nil)
	}
	return nil
}

// EstimateWriteSize estimates the disk space needed to append an entry.
// This is used by the disk manager to check available space.
func EstimateWriteSize(entry *model.LogEntry) uint64 {
	// Worst case pays for a fresh segment header too.
	return uint64(segment.EncodedSize(entry, true) + segment.HeaderSize)
}
