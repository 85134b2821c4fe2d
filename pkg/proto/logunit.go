// Package proto holds the wire messages and gRPC bindings of the log unit
// service. Messages use the protobuf binary encoding and are carried by the
// "logunit" codec.
package proto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DataType mirrors the stored data type of an address
type DataType int32

const (
	DataType_DATA      DataType = 0
	DataType_EMPTY     DataType = 1
	DataType_TRIMMED   DataType = 2
	DataType_RANK_ONLY DataType = 3
)

func (t DataType) String() string {
	switch t {
	case DataType_DATA:
		return "DATA"
	case DataType_EMPTY:
		return "EMPTY"
	case DataType_TRIMMED:
		return "TRIMMED"
	case DataType_RANK_ONLY:
		return "RANK_ONLY"
	default:
		return fmt.Sprintf("DataType(%d)", int32(t))
	}
}

// WriteStatus is the outcome of a write that reached the log unit
type WriteStatus int32

const (
	WriteStatus_WRITE_OK        WriteStatus = 0
	WriteStatus_ERROR_OVERWRITE WriteStatus = 1
)

func (s WriteStatus) String() string {
	switch s {
	case WriteStatus_WRITE_OK:
		return "WRITE_OK"
	case WriteStatus_ERROR_OVERWRITE:
		return "ERROR_OVERWRITE"
	default:
		return fmt.Sprintf("WriteStatus(%d)", int32(s))
	}
}

// Rank is present on the wire only when the entry carries one
type Rank struct {
	Epoch    int64
	UniqueId int64
}

func (m *Rank) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Epoch))
	b = appendVarint(b, 2, uint64(m.UniqueId))
	return b, nil
}

func (m *Rank) Unmarshal(data []byte) error {
	*m = Rank{}
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Epoch = int64(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.UniqueId = int64(v)
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
}

// Backpointer links an entry to the previous address of one of its streams
type Backpointer struct {
	Stream  []byte
	Address uint64
}

func (m *Backpointer) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 1, m.Stream)
	b = appendVarint(b, 2, m.Address)
	return b, nil
}

func (m *Backpointer) Unmarshal(data []byte) error {
	*m = Backpointer{}
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			m.Stream = v
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.Address = v
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
}

// LogEntry is the wire form of a stored entry. Streams are 16-byte UUIDs.
type LogEntry struct {
	Address      uint64
	DataType     DataType
	Payload      []byte
	Streams      [][]byte
	Backpointers []*Backpointer
	Rank         *Rank
}

func (m *LogEntry) Marshal() ([]byte, error) {
	var b []byte
	var err error
	b = appendVarint(b, 1, m.Address)
	b = appendVarint(b, 2, uint64(m.DataType))
	b = appendBytes(b, 3, m.Payload)
	for _, s := range m.Streams {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	for _, bp := range m.Backpointers {
		if b, err = appendMessage(b, 5, bp); err != nil {
			return nil, err
		}
	}
	if m.Rank != nil {
		if b, err = appendMessage(b, 6, m.Rank); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *LogEntry) Unmarshal(data []byte) error {
	*m = LogEntry{}
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Address = v
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.DataType = DataType(v)
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			m.Payload = v
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, b)
			m.Streams = append(m.Streams, v)
			return n, err
		case 5:
			bp := &Backpointer{}
			n, err := consumeMessage(typ, b, bp)
			m.Backpointers = append(m.Backpointers, bp)
			return n, err
		case 6:
			m.Rank = &Rank{}
			return consumeMessage(typ, b, m.Rank)
		default:
			return skipField(num, typ, b)
		}
	})
}

type WriteRequest struct {
	Entry *LogEntry
}

func (m *WriteRequest) Marshal() ([]byte, error) {
	if m.Entry == nil {
		return nil, nil
	}
	return appendMessage(nil, 1, m.Entry)
}

func (m *WriteRequest) Unmarshal(data []byte) error {
	*m = WriteRequest{}
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			m.Entry = &LogEntry{}
			return consumeMessage(typ, b, m.Entry)
		}
		return skipField(num, typ, b)
	})
}

type WriteResponse struct {
	Status WriteStatus
}

func (m *WriteResponse) Marshal() ([]byte, error) {
	return appendVarint(nil, 1, uint64(m.Status)), nil
}

func (m *WriteResponse) Unmarshal(data []byte) error {
	*m = WriteResponse{}
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(typ, b)
			m.Status = WriteStatus(v)
			return n, err
		}
		return skipField(num, typ, b)
	})
}

// addressMessage backs every request that names a single address
type addressMessage struct {
	Address uint64
}

func (m *addressMessage) marshal() []byte {
	return appendVarint(nil, 1, m.Address)
}

func (m *addressMessage) unmarshal(data []byte) error {
	m.Address = 0
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(typ, b)
			m.Address = v
			return n, err
		}
		return skipField(num, typ, b)
	})
}

type ReadRequest struct {
	Address uint64
}

func (m *ReadRequest) Marshal() ([]byte, error) {
	return (&addressMessage{Address: m.Address}).marshal(), nil
}

func (m *ReadRequest) Unmarshal(data []byte) error {
	var a addressMessage
	err := a.unmarshal(data)
	m.Address = a.Address
	return err
}

// ReadResponse carries the resolved data type of an address. Entry is only
// set for DATA and RANK_ONLY.
type ReadResponse struct {
	Address  uint64
	DataType DataType
	Entry    *LogEntry
}

func (m *ReadResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, m.Address)
	b = appendVarint(b, 2, uint64(m.DataType))
	if m.Entry != nil {
		return appendMessage(b, 3, m.Entry)
	}
	return b, nil
}

func (m *ReadResponse) Unmarshal(data []byte) error {
	*m = ReadResponse{}
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Address = v
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.DataType = DataType(v)
			return n, err
		case 3:
			m.Entry = &LogEntry{}
			return consumeMessage(typ, b, m.Entry)
		default:
			return skipField(num, typ, b)
		}
	})
}

type TrimRequest struct {
	Address uint64
}

func (m *TrimRequest) Marshal() ([]byte, error) {
	return (&addressMessage{Address: m.Address}).marshal(), nil
}

func (m *TrimRequest) Unmarshal(data []byte) error {
	var a addressMessage
	err := a.unmarshal(data)
	m.Address = a.Address
	return err
}

type TrimResponse struct{}

func (m *TrimResponse) Marshal() ([]byte, error) { return nil, nil }

func (m *TrimResponse) Unmarshal(data []byte) error {
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		return skipField(num, typ, b)
	})
}

type ReadRangeRequest struct {
	Addresses []uint64
}

func (m *ReadRangeRequest) Marshal() ([]byte, error) {
	return appendPackedUint64s(nil, 1, m.Addresses), nil
}

func (m *ReadRangeRequest) Unmarshal(data []byte) error {
	*m = ReadRangeRequest{}
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			var n int
			var err error
			m.Addresses, n, err = consumeUint64s(typ, b, m.Addresses)
			return n, err
		}
		return skipField(num, typ, b)
	})
}

// ReadRangeResponse holds one result per requested address, in request order
type ReadRangeResponse struct {
	Results []*ReadResponse
}

func (m *ReadRangeResponse) Marshal() ([]byte, error) {
	var b []byte
	var err error
	for _, r := range m.Results {
		if b, err = appendMessage(b, 1, r); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *ReadRangeResponse) Unmarshal(data []byte) error {
	*m = ReadRangeResponse{}
	return decodeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			r := &ReadResponse{}
			n, err := consumeMessage(typ, b, r)
			m.Results = append(m.Results, r)
			return n, err
		}
		return skipField(num, typ, b)
	})
}
