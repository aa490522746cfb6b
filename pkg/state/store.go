package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for a chat
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpointer persists the final state of each run per chat
type Checkpointer interface {
	Save(ctx context.Context, state *WorkflowState) error
	Load(ctx context.Context, chatID string) (*Snapshot, error)
	Delete(ctx context.Context, chatID string) error
	List(ctx context.Context, filter Filter) ([]*Snapshot, error)
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	ChatIDs   []string
	Modes     []domain.Mode
	StartTime *time.Time
	EndTime   *time.Time
}

// MemoryStore is an in-memory Checkpointer keyed by chat id. Saving a chat
// again replaces its previous checkpoint.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]Snapshot
}

// NewMemoryStore creates a new in-memory state store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]Snapshot),
	}
}

// Save stores a snapshot of the state
func (m *MemoryStore) Save(ctx context.Context, state *WorkflowState) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}
	snapshot := state.GetSnapshot()
	if snapshot.ChatID == "" {
		return fmt.Errorf("chat ID is required")
	}
	snapshot.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[snapshot.ChatID] = snapshot
	return nil
}

// Load returns the checkpoint of a chat
func (m *MemoryStore) Load(ctx context.Context, chatID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, exists := m.states[chatID]
	if !exists {
		return nil, fmt.Errorf("%w for chat ID: %s", ErrCheckpointNotFound, chatID)
	}
	return cloneSnapshot(snapshot), nil
}

// Delete removes a checkpoint
func (m *MemoryStore) Delete(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, chatID)
	return nil
}

// List returns matching checkpoints, most recently updated first
func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Snapshot
	for _, snapshot := range m.states {
		if len(filter.ChatIDs) > 0 && !contains(filter.ChatIDs, snapshot.ChatID) {
			continue
		}
		if len(filter.Modes) > 0 && !contains(filter.Modes, snapshot.Mode) {
			continue
		}
		if filter.StartTime != nil && snapshot.CreatedAt.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && snapshot.CreatedAt.After(*filter.EndTime) {
			continue
		}
		results = append(results, cloneSnapshot(snapshot))
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})
	return results, nil
}

func cloneSnapshot(s Snapshot) *Snapshot {
	c := s
	c.Messages = copyMessages(s.Messages)
	c.Tasks = copyTasks(s.Tasks)
	return &c
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
