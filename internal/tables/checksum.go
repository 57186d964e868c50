package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrChecksumMismatch is returned when bytes no longer match their recorded checksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

const checksumPrefix = "sha256:"

// ComputeChecksum returns the "sha256:<hex>" digest of data.
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(sum[:])
}

// VerifyChecksum checks data against expected, which must use the
// "sha256:" form written by ComputeChecksum.
func VerifyChecksum(name string, data []byte, expected string) error {
	if !strings.HasPrefix(expected, checksumPrefix) {
		return fmt.Errorf("%w: %s: unsupported checksum %q", ErrChecksumMismatch, name, expected)
	}
	if got := ComputeChecksum(data); got != expected {
		return fmt.Errorf("%w: %s: have %s, want %s", ErrChecksumMismatch, name, got, expected)
	}
	return nil
}
