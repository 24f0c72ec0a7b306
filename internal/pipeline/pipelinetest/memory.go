// Package pipelinetest provides an in-memory CheckpointStore for adapter tests.
package pipelinetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jonathan/iety/internal/pipeline"
)

// MemoryStore keeps checkpoints in a map. Saved checkpoints are round-tripped
// through JSON so metadata types match what the database returns.
type MemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string][]byte
	Saves       []pipeline.StateUpdate
	Records     map[string]int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string][]byte),
		Records:     make(map[string]int64),
	}
}

// LoadCheckpoint implements pipeline.CheckpointStore.
func (m *MemoryStore) LoadCheckpoint(_ context.Context, name string) (*pipeline.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.checkpoints[name]
	if !ok {
		return nil, nil
	}
	var cp pipeline.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// SaveCheckpoint implements pipeline.CheckpointStore.
func (m *MemoryStore) SaveCheckpoint(_ context.Context, name string, cp pipeline.Checkpoint, update pipeline.StateUpdate) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[name] = raw
	m.Records[name] += int64(update.RecordsDelta)
	m.Saves = append(m.Saves, update)
	return nil
}

// Checkpoint returns the last saved checkpoint for name.
func (m *MemoryStore) Checkpoint(name string) (pipeline.Checkpoint, bool) {
	cp, err := m.LoadCheckpoint(context.Background(), name)
	if err != nil || cp == nil {
		return pipeline.Checkpoint{}, false
	}
	return *cp, true
}
