package redis

import (
	"encoding/json"
	"fmt"
	"time"
)

// Keys builds every Redis key and channel name from one prefix
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

// PageIndex is the hash of cache key to IndexedEntry
func (k Keys) PageIndex() string {
	return k.prefix + "pagecache:index"
}

// InvalidationChannel carries InvalidationEvent messages
func (k Keys) InvalidationChannel() string {
	return k.prefix + "pagecache:invalidate"
}

func (k Keys) Lock(name string) string {
	return k.prefix + "lock:" + name
}

// IndexedEntry describes one cached page in the shared index
type IndexedEntry struct {
	Key       string    `json:"-"`
	URI       string    `json:"uri"`
	Size      int64     `json:"size"`
	Instance  string    `json:"instance"`
	CreatedAt time.Time `json:"created_at"`
}

func (e IndexedEntry) marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode index entry: %w", err)
	}
	return string(b), nil
}

func unmarshalEntry(payload string) (IndexedEntry, error) {
	var e IndexedEntry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return e, fmt.Errorf("decode index entry: %w", err)
	}
	return e, nil
}
