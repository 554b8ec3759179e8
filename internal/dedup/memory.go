package dedup

import (
	"context"
	"sync"
)

type checkpointKey struct {
	consumer  string
	partition string
}

// Memory keeps consumer checkpoints in process memory. Same contract as Postgres.
type Memory struct {
	mu   sync.Mutex
	last map[checkpointKey]int64
}

func NewMemory() *Memory {
	return &Memory{last: make(map[checkpointKey]int64)}
}

func (m *Memory) Last(ctx context.Context, consumerName, partitionKey string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.last[checkpointKey{consumerName, partitionKey}]
	return seq, ok, nil
}

func (m *Memory) Advance(ctx context.Context, consumerName, partitionKey string, newSeq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := checkpointKey{consumerName, partitionKey}
	if cur, ok := m.last[k]; !ok || newSeq > cur {
		m.last[k] = newSeq
	}
	return nil
}
