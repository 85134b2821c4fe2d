package util

import (
	"hash/crc32"
)

// Checksum utilities for data integrity validation.
// Uses CRC-32C (Castagnoli), which has hardware support on amd64 and arm64.

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum computes a CRC-32C checksum over the concatenation of parts
func ComputeChecksum(parts ...[]byte) uint32 {
	var sum uint32
	for _, p := range parts {
		sum = crc32.Update(sum, crc32Table, p)
	}
	return sum
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(expected uint32, parts ...[]byte) bool {
	return ComputeChecksum(parts...) == expected
}
