// Package change decides whether a fetched payload differs from the last one
// that was published.
package change

import (
	"crypto/sha256"
	"encoding/hex"
)

// Decision is the outcome of comparing a payload against the last fingerprint.
type Decision struct {
	Changed     bool
	Fingerprint string
}

// Fingerprint computes the content hash of raw source bytes.
func Fingerprint(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Detect fingerprints data and compares it to lastFingerprint.
// An empty lastFingerprint (first run) always reports a change.
func Detect(data []byte, lastFingerprint string) Decision {
	fp := Fingerprint(data)
	return Decision{
		Changed:     lastFingerprint == "" || fp != lastFingerprint,
		Fingerprint: fp,
	}
}
