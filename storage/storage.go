package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/songzhibin97/workflow-fsm/types"
)

// Errors
var (
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrInstanceNotFound   = errors.New("workflow instance not found")
	// ErrVersionConflict is returned by UpdateInstance when the stored version
	// no longer matches the version the caller read.
	ErrVersionConflict = errors.New("workflow instance version conflict")
)

// Storage defines the interface for persisting and retrieving workflow definitions and instances.
type Storage interface {
	// SaveDefinition upserts a workflow definition by ID.
	SaveDefinition(ctx context.Context, def types.WorkflowDefinition) error

	// GetDefinition retrieves a workflow definition by ID.
	GetDefinition(ctx context.Context, id string) (types.WorkflowDefinition, error)

	// ListDefinitions returns every stored definition ordered by ID.
	ListDefinitions(ctx context.Context) ([]types.WorkflowDefinition, error)

	// SaveInstance upserts a workflow instance by ID.
	SaveInstance(ctx context.Context, inst types.WorkflowInstance) error

	// UpdateInstance replaces an existing instance only if its stored version
	// equals expectedVersion.
	UpdateInstance(ctx context.Context, inst types.WorkflowInstance, expectedVersion uint64) error

	// GetInstance retrieves a workflow instance by ID.
	GetInstance(ctx context.Context, id string) (types.WorkflowInstance, error)

	// ListInstances returns every stored instance ordered by ID.
	ListInstances(ctx context.Context) ([]types.WorkflowInstance, error)

	// Close releases any resources held by the store.
	Close() error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

func sortDefinitions(defs []types.WorkflowDefinition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
}

func sortInstances(insts []types.WorkflowInstance) {
	sort.Slice(insts, func(i, j int) bool { return insts[i].ID < insts[j].ID })
}
