package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/songzhibin97/workflow-fsm/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Values are copied on the way in and out, so callers never share slices with the store.
type MemoryStorage struct {
	definitions map[string]types.WorkflowDefinition
	instances   map[string]types.WorkflowInstance
	mu          sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		definitions: make(map[string]types.WorkflowDefinition),
		instances:   make(map[string]types.WorkflowInstance),
	}
}

// getItem is a standalone generic helper function.
func getItem[T any](ctx context.Context, mu *sync.RWMutex, m map[string]T, id string, errNotFound error, clone func(T) T) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%s", errNotFound, id)
		}
		return clone(item), nil
	})
}

// SaveDefinition saves a workflow definition to memory.
func (s *MemoryStorage) SaveDefinition(ctx context.Context, def types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.definitions[def.ID] = def.Clone()
		return nil
	})
}

// GetDefinition retrieves a workflow definition from memory.
func (s *MemoryStorage) GetDefinition(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return getItem(ctx, &s.mu, s.definitions, id, ErrDefinitionNotFound, types.WorkflowDefinition.Clone)
}

// ListDefinitions returns all definitions held in memory.
func (s *MemoryStorage) ListDefinitions(ctx context.Context) ([]types.WorkflowDefinition, error) {
	return withContext(ctx, func() ([]types.WorkflowDefinition, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.WorkflowDefinition, 0, len(s.definitions))
		for _, def := range s.definitions {
			out = append(out, def.Clone())
		}
		sortDefinitions(out)
		return out, nil
	})
}

// SaveInstance saves a workflow instance to memory.
func (s *MemoryStorage) SaveInstance(ctx context.Context, inst types.WorkflowInstance) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.instances[inst.ID] = inst.Clone()
		return nil
	})
}

// UpdateInstance swaps in a new instance snapshot if the stored version matches.
func (s *MemoryStorage) UpdateInstance(ctx context.Context, inst types.WorkflowInstance, expectedVersion uint64) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		current, ok := s.instances[inst.ID]
		if !ok {
			return fmt.Errorf("%w: id=%s", ErrInstanceNotFound, inst.ID)
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: id=%s stored=%d expected=%d", ErrVersionConflict, inst.ID, current.Version, expectedVersion)
		}
		s.instances[inst.ID] = inst.Clone()
		return nil
	})
}

// GetInstance retrieves a workflow instance from memory.
func (s *MemoryStorage) GetInstance(ctx context.Context, id string) (types.WorkflowInstance, error) {
	return getItem(ctx, &s.mu, s.instances, id, ErrInstanceNotFound, types.WorkflowInstance.Clone)
}

// ListInstances returns all instances held in memory.
func (s *MemoryStorage) ListInstances(ctx context.Context) ([]types.WorkflowInstance, error) {
	return withContext(ctx, func() ([]types.WorkflowInstance, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.WorkflowInstance, 0, len(s.instances))
		for _, inst := range s.instances {
			out = append(out, inst.Clone())
		}
		sortInstances(out)
		return out, nil
	})
}

// Close is a no-op for the in-memory store.
func (s *MemoryStorage) Close() error {
	return nil
}
