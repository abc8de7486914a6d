package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleDefinition() WorkflowDefinition {
	return WorkflowDefinition{
		ID:   "doc",
		Name: "Document approval",
		States: []State{
			{ID: "draft", Name: "Draft", IsInitial: true, Enabled: true},
			{ID: "approved", Name: "Approved", Enabled: true},
			{ID: "rejected", Name: "Rejected", IsFinal: true, Enabled: true},
		},
		Actions: []Action{
			{ID: "submit", Name: "Submit", Enabled: true, FromStates: []string{"draft"}, ToState: "approved"},
			{ID: "decline", Name: "Decline", Enabled: true, FromStates: []string{"draft"}, ToState: "rejected"},
		},
	}
}

func TestDefinitionLookups(t *testing.T) {
	def := sampleDefinition()

	s, ok := def.FindState("approved")
	assert.True(t, ok)
	assert.Equal(t, "Approved", s.Name)

	_, ok = def.FindState("missing")
	assert.False(t, ok)

	a, ok := def.FindAction("decline")
	assert.True(t, ok)
	assert.Equal(t, "rejected", a.ToState)

	_, ok = def.FindAction("missing")
	assert.False(t, ok)

	initial, ok := def.InitialState()
	assert.True(t, ok)
	assert.Equal(t, "draft", initial.ID)

	_, ok = WorkflowDefinition{}.InitialState()
	assert.False(t, ok)
}

func TestActionAllows(t *testing.T) {
	a := Action{FromStates: []string{"draft", "review"}}
	assert.True(t, a.Allows("review"))
	assert.False(t, a.Allows("rev"))
	assert.False(t, Action{}.Allows("draft"))
}

func TestDefinitionClone(t *testing.T) {
	def := sampleDefinition()
	cp := def.Clone()

	cp.States[0].Name = "changed"
	cp.Actions[0].FromStates[0] = "changed"

	assert.Equal(t, "Draft", def.States[0].Name)
	assert.Equal(t, "draft", def.Actions[0].FromStates[0])
}

func TestInstanceCloneAndLastAction(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inst := WorkflowInstance{
		ID:      "i-1",
		History: []ActionHistory{{ActionID: "submit", Timestamp: ts}},
	}

	cp := inst.Clone()
	cp.History[0].ActionID = "other"
	cp.History = append(cp.History, ActionHistory{ActionID: "more"})

	assert.Equal(t, "submit", inst.History[0].ActionID)
	assert.Len(t, inst.History, 1)

	last, ok := inst.LastAction()
	assert.True(t, ok)
	assert.Equal(t, "submit", last.ActionID)

	_, ok = WorkflowInstance{}.LastAction()
	assert.False(t, ok)
}
