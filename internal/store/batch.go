package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Put is a single key replacement inside a Batch
type Put struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Batch is a write-ahead entry describing one compound change. Backends
// persist the entry together with its puts in a single atomic write.
type Batch struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
	Puts      []Put     `json:"puts"`
}

// NewBatch creates an empty batch
func NewBatch(reason string) *Batch {
	return &Batch{
		ID:        uuid.New().String(),
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

// Put stages raw JSON under key, replacing an earlier put of the same key
func (b *Batch) Put(key string, value []byte) {
	for i := range b.Puts {
		if b.Puts[i].Key == key {
			b.Puts[i].Value = value
			return
		}
	}
	b.Puts = append(b.Puts, Put{Key: key, Value: value})
}

// PutCollection stages the JSON encoding of v under key
func (b *Batch) PutCollection(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	b.Put(key, data)
	return nil
}

// Keys lists the staged keys in insertion order
func (b *Batch) Keys() []string {
	keys := make([]string, len(b.Puts))
	for i, p := range b.Puts {
		keys[i] = p.Key
	}
	return keys
}

// Len returns the number of staged puts
func (b *Batch) Len() int {
	return len(b.Puts)
}

// Encode serializes the batch as its write-ahead record
func (b *Batch) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBatch parses a write-ahead record
func DecodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return &b, nil
}
