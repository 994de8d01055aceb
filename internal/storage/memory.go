package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// Memory is a thread-safe in-memory Repository, used when no database is configured.
type Memory struct {
	mu      sync.RWMutex
	records map[string]ActionRecord
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]ActionRecord)}
}

func (m *Memory) Create(_ context.Context, rec ActionRecord) (ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if _, exists := m.records[rec.ID]; exists {
		return ActionRecord{}, apperrors.Newf(apperrors.CodeInvalidInput, "action %s already exists", rec.ID)
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *Memory) Update(_ context.Context, rec ActionRecord) (ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[rec.ID]
	if !ok {
		return ActionRecord{}, notFound(rec.ID)
	}
	rec.UserID = existing.UserID
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *Memory) Get(_ context.Context, id string) (ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return ActionRecord{}, notFound(id)
	}
	return rec, nil
}

// ListByUser returns the user's records, newest first.
func (m *Memory) ListByUser(_ context.Context, userID string, limit int) ([]ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ActionRecord
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
