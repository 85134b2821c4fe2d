package service

import (
	"github.com/devrev/pairdb/logunit/internal/model"
)

// Disposition is the arbiter's verdict on a write
type Disposition int

const (
	// Accept writes to a free address
	Accept Disposition = iota
	// Replace supersedes the existing entry
	Replace
	// Reject leaves the existing entry in place
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Accept:
		return "accept"
	case Replace:
		return "replace"
	default:
		return "reject"
	}
}

// Arbitrate decides what happens to incoming when existing already occupies
// its address. existing is nil when the address is free.
//
// A write only ever supersedes an entry when it carries a strictly higher
// rank; an absent rank loses to any present one and ties with another
// absent rank. Trimmed addresses accept nothing.
func Arbitrate(existing, incoming *model.LogEntry) Disposition {
	if existing == nil {
		return Accept
	}
	if existing.IsTrimmed() {
		return Reject
	}
	if model.CompareRanks(incoming.Rank, existing.Rank) > 0 {
		return Replace
	}
	return Reject
}
