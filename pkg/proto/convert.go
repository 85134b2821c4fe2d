package proto

import (
	"fmt"

	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/google/uuid"
)

// FromEntry converts a stored entry to its wire form
func FromEntry(e *model.LogEntry) *LogEntry {
	if e == nil {
		return nil
	}
	out := &LogEntry{
		Address:  e.Address,
		DataType: DataType(e.DataType),
		Payload:  e.Payload,
	}
	for _, s := range e.Streams {
		id := s
		out.Streams = append(out.Streams, id[:])
	}
	for _, s := range e.SortedBackpointers() {
		id := s
		out.Backpointers = append(out.Backpointers, &Backpointer{Stream: id[:], Address: e.Backpointers[s]})
	}
	if e.Rank != nil {
		out.Rank = &Rank{Epoch: e.Rank.Epoch, UniqueId: e.Rank.UniqueID}
	}
	return out
}

// ToEntry converts the wire form back into a model entry
func (m *LogEntry) ToEntry() (*model.LogEntry, error) {
	if m == nil {
		return nil, fmt.Errorf("missing entry")
	}
	if m.DataType < 0 || m.DataType > DataType_RANK_ONLY {
		return nil, fmt.Errorf("unknown data type %d", m.DataType)
	}
	e := &model.LogEntry{
		Address:  m.Address,
		DataType: model.DataType(m.DataType),
		Payload:  m.Payload,
	}
	for i, s := range m.Streams {
		id, err := uuid.FromBytes(s)
		if err != nil {
			return nil, fmt.Errorf("stream %d: %w", i, err)
		}
		e.Streams = append(e.Streams, id)
	}
	if len(m.Backpointers) > 0 {
		e.Backpointers = make(map[model.StreamID]uint64, len(m.Backpointers))
		for _, bp := range m.Backpointers {
			id, err := uuid.FromBytes(bp.Stream)
			if err != nil {
				return nil, fmt.Errorf("backpointer stream: %w", err)
			}
			if _, dup := e.Backpointers[id]; dup {
				return nil, fmt.Errorf("duplicate backpointer for stream %s", id)
			}
			e.Backpointers[id] = bp.Address
		}
	}
	if m.Rank != nil {
		e.Rank = &model.Rank{Epoch: m.Rank.Epoch, UniqueID: m.Rank.UniqueId}
	}
	return e, nil
}

// FromReadResult converts a read outcome to its wire form
func FromReadResult(r *model.ReadResult) *ReadResponse {
	return &ReadResponse{
		Address:  r.Address,
		DataType: DataType(r.DataType),
		Entry:    FromEntry(r.Entry),
	}
}

// ToReadResult converts a read response back into a model result
func (m *ReadResponse) ToReadResult() (*model.ReadResult, error) {
	r := &model.ReadResult{
		Address:  m.Address,
		DataType: model.DataType(m.DataType),
	}
	if m.Entry != nil {
		e, err := m.Entry.ToEntry()
		if err != nil {
			return nil, err
		}
		r.Entry = e
	}
	return r, nil
}

// FromWriteStatus converts a write outcome to its wire form
func FromWriteStatus(s model.WriteStatus) WriteStatus {
	if s == model.WriteOK {
		return WriteStatus_WRITE_OK
	}
	return WriteStatus_ERROR_OVERWRITE
}

// ToWriteStatus converts a wire status back into a model status
func (s WriteStatus) ToWriteStatus() model.WriteStatus {
	if s == WriteStatus_WRITE_OK {
		return model.WriteOK
	}
	return model.WriteErrorOverwrite
}
