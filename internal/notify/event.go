package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	eventVersion = "1.0"
	eventType    = "artifacts_published"
)

// Event announces a newly published generation to downstream consumers.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Destination       string               `json:"destination"`
	Generation        string               `json:"generation"`
	StorageURI        string               `json:"storage_uri"`
	SourceFingerprint string               `json:"source_fingerprint"`
	Tables            map[string]TableInfo `json:"tables"`
	Producer          ProducerInfo         `json:"producer"`
	Chain             ChainInfo            `json:"chain"`
}

// TableInfo contains checksum and size for a single published file.
type TableInfo struct {
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links each event to the previous one for the same destination,
// making the log tamper-evident.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the key of the chain this event belongs to.
func (e *Event) ChainKey() string {
	return e.Destination
}

// SetChainHashes links the event to prevHash and computes its own hash.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}

// ComputeEventHash computes the SHA256 hash of an event over its JSON
// encoding with event_hash cleared. Map keys are encoded sorted.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""

	canonical, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}
