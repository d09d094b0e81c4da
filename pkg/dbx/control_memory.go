package dbx

import (
	"context"
	"sync"
	"time"
)

// InMemoryControlRepository is a test double for ControlRepository (design
// note §9): no database required, same semantics as the Postgres repo.
type InMemoryControlRepository struct {
	mu      sync.Mutex
	records map[string]*ControlRecord
	logs    []SystemLog
}

// NewInMemoryControlRepository returns an empty in-memory repository.
func NewInMemoryControlRepository() *InMemoryControlRepository {
	return &InMemoryControlRepository{records: make(map[string]*ControlRecord)}
}

func (r *InMemoryControlRepository) Load(_ context.Context, scriptName string) (*ControlRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[scriptName]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *InMemoryControlRepository) EnsureExists(_ context.Context, scriptName, scriptType string, defaultConfig map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[scriptName]; ok {
		return nil
	}
	r.records[scriptName] = &ControlRecord{
		ScriptName: scriptName,
		ScriptType: scriptType,
		Enabled:    false,
		Status:     "stopped",
		Config:     defaultConfig,
		UpdatedAt:  time.Now(),
		UpdatedBy:  "system",
	}
	return nil
}

func (r *InMemoryControlRepository) Update(_ context.Context, scriptName string, patch ControlPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[scriptName]
	if !ok {
		return ErrNotFound
	}
	if patch.Enabled != nil {
		rec.Enabled = *patch.Enabled
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.ClearPID {
		rec.PID = nil
	} else if patch.PID != nil {
		rec.PID = patch.PID
	}
	if patch.StartedAt != nil {
		rec.StartedAt = patch.StartedAt
	}
	if patch.StoppedAt != nil {
		rec.StoppedAt = patch.StoppedAt
	}
	if patch.Heartbeat != nil {
		rec.LastHeartbeat = patch.Heartbeat
	}
	if patch.LastError != nil {
		rec.LastError = *patch.LastError
	}
	if patch.LastErrorAt != nil {
		rec.LastErrorAt = patch.LastErrorAt
	}
	if patch.Config != nil {
		rec.Config = patch.Config
	}
	if patch.UpdatedBy != "" {
		rec.UpdatedBy = patch.UpdatedBy
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *InMemoryControlRepository) InsertLog(_ context.Context, entry SystemLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

// Logs returns a copy of all logged entries, for test assertions.
func (r *InMemoryControlRepository) Logs() []SystemLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SystemLog, len(r.logs))
	copy(out, r.logs)
	return out
}
