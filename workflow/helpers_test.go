package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/songzhibin97/workflow-fsm/storage"
	"github.com/songzhibin97/workflow-fsm/types"
)

// MockGenerator hands out sequential ids.
type MockGenerator struct {
	mu sync.Mutex
	id uint64
}

func (g *MockGenerator) NextID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.id++
	return fmt.Sprintf("inst-%d", g.id), nil
}

// failingGenerator always errors.
type failingGenerator struct{ err error }

func (g failingGenerator) NextID() (string, error) { return "", g.err }

// stepClock advances one second per reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// MockStorage wraps MemoryStorage and lets tests inject failures.
type MockStorage struct {
	*storage.MemoryStorage
	updateErr error
	saveErr   error
	onGet     func()
}

func NewMockStorage() *MockStorage {
	return &MockStorage{MemoryStorage: storage.NewMemoryStorage()}
}

func (s *MockStorage) SaveDefinition(ctx context.Context, def types.WorkflowDefinition) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStorage.SaveDefinition(ctx, def)
}

func (s *MockStorage) GetInstance(ctx context.Context, id string) (types.WorkflowInstance, error) {
	if s.onGet != nil {
		s.onGet()
	}
	return s.MemoryStorage.GetInstance(ctx, id)
}

func (s *MockStorage) UpdateInstance(ctx context.Context, inst types.WorkflowInstance, expectedVersion uint64) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemoryStorage.UpdateInstance(ctx, inst, expectedVersion)
}

// approvalDefinition is Draft(initial) -> Approved | Rejected(final).
func approvalDefinition() types.WorkflowDefinition {
	return types.WorkflowDefinition{
		ID:   "doc-approval",
		Name: "Document approval",
		States: []types.State{
			{ID: "draft", Name: "Draft", IsInitial: true, Enabled: true},
			{ID: "approved", Name: "Approved", Enabled: true},
			{ID: "rejected", Name: "Rejected", IsFinal: true, Enabled: true},
		},
		Actions: []types.Action{
			{ID: "submit", Name: "Submit", Enabled: true, FromStates: []string{"draft"}, ToState: "approved"},
			{ID: "decline", Name: "Decline", Enabled: true, FromStates: []string{"draft"}, ToState: "rejected"},
		},
	}
}

// reviewDefinition has a loop so the same action can run twice.
func reviewDefinition() types.WorkflowDefinition {
	return types.WorkflowDefinition{
		ID:   "review-loop",
		Name: "Review loop",
		States: []types.State{
			{ID: "open", Name: "Open", IsInitial: true, Enabled: true},
			{ID: "closed", Name: "Closed", IsFinal: true, Enabled: true},
			{ID: "archived", Name: "Archived", IsFinal: true, Enabled: false},
		},
		Actions: []types.Action{
			{ID: "comment", Name: "Comment", Enabled: true, FromStates: []string{"open"}, ToState: "open"},
			{ID: "close", Name: "Close", Enabled: true, FromStates: []string{"open"}, ToState: "closed"},
			{ID: "reopen", Name: "Reopen", Enabled: true, FromStates: []string{"closed"}, ToState: "open"},
			{ID: "escalate", Name: "Escalate", Enabled: false, FromStates: []string{"open"}, ToState: "closed"},
			{ID: "archive", Name: "Archive", Enabled: true, FromStates: []string{"open"}, ToState: "archived"},
		},
	}
}
