package decisionlog

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLog keeps decisions in process memory.
type MemoryLog struct {
	mu        sync.RWMutex
	decisions map[string]Decision
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{decisions: make(map[string]Decision)}
}

func (m *MemoryLog) Record(ctx context.Context, d Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.decisions[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.ID)
	}
	m.decisions[d.ID] = clone(d)
	return nil
}

func (m *MemoryLog) Get(ctx context.Context, id string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[id]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(d), nil
}

func (m *MemoryLog) RecordOutcome(ctx context.Context, id string, o Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if d.Outcome != nil {
		return fmt.Errorf("%w: %s", ErrOutcomeRecorded, id)
	}
	d.Outcome = &o
	m.decisions[id] = d
	return nil
}

func (m *MemoryLog) ClearOutcome(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d.Outcome = nil
	m.decisions[id] = d
	return nil
}

func (m *MemoryLog) Close() error { return nil }

func clone(d Decision) Decision {
	out := d
	out.CandidateIDs = append([]string(nil), d.CandidateIDs...)
	out.Task.SkillsRequired = append([]string(nil), d.Task.SkillsRequired...)
	out.Vectors = make([][]float64, len(d.Vectors))
	for i, v := range d.Vectors {
		out.Vectors[i] = append([]float64(nil), v...)
	}
	if d.Outcome != nil {
		o := *d.Outcome
		out.Outcome = &o
	}
	return out
}
