package types

import "time"

// State is a node in a workflow graph.
type State struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	IsInitial   bool   `json:"is_initial" yaml:"is_initial" mapstructure:"is_initial"`
	IsFinal     bool   `json:"is_final" yaml:"is_final" mapstructure:"is_final"`
	Enabled     bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// Action is a named transition from one or more source states to a single target state.
type Action struct {
	ID         string   `json:"id" yaml:"id" mapstructure:"id"`
	Name       string   `json:"name" yaml:"name" mapstructure:"name"`
	Enabled    bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	FromStates []string `json:"from_states" yaml:"from_states" mapstructure:"from_states"`
	ToState    string   `json:"to_state" yaml:"to_state" mapstructure:"to_state"`
}

// WorkflowDefinition is the blueprint of states and actions for a workflow.
type WorkflowDefinition struct {
	ID      string   `json:"id" yaml:"id" mapstructure:"id"`
	Name    string   `json:"name" yaml:"name" mapstructure:"name"`
	States  []State  `json:"states" yaml:"states" mapstructure:"states"`
	Actions []Action `json:"actions" yaml:"actions" mapstructure:"actions"`
}

// ActionHistory records one executed action.
type ActionHistory struct {
	ActionID  string    `json:"action_id"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowInstance represents a running instance of a workflow definition.
type WorkflowInstance struct {
	ID                   string          `json:"id"`
	WorkflowDefinitionID string          `json:"workflow_definition_id"`
	CurrentStateID       string          `json:"current_state_id"`
	History              []ActionHistory `json:"history"`
	Version              uint64          `json:"version"`
	CreatedAt            int64           `json:"created_at"`
	UpdatedAt            int64           `json:"updated_at"`
}

// FindState returns the state with the given id.
func (d WorkflowDefinition) FindState(id string) (State, bool) {
	for _, s := range d.States {
		if s.ID == id {
			return s, true
		}
	}
	return State{}, false
}

// FindAction returns the action with the given id.
func (d WorkflowDefinition) FindAction(id string) (Action, bool) {
	for _, a := range d.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// InitialState returns the first state flagged as initial.
func (d WorkflowDefinition) InitialState() (State, bool) {
	for _, s := range d.States {
		if s.IsInitial {
			return s, true
		}
	}
	return State{}, false
}

// Clone returns a deep copy of the definition.
func (d WorkflowDefinition) Clone() WorkflowDefinition {
	out := d
	if d.States != nil {
		out.States = make([]State, len(d.States))
		copy(out.States, d.States)
	}
	if d.Actions != nil {
		out.Actions = make([]Action, len(d.Actions))
		for i, a := range d.Actions {
			if a.FromStates != nil {
				from := make([]string, len(a.FromStates))
				copy(from, a.FromStates)
				a.FromStates = from
			}
			out.Actions[i] = a
		}
	}
	return out
}

// Allows reports whether the action lists stateID among its source states.
func (a Action) Allows(stateID string) bool {
	for _, from := range a.FromStates {
		if from == stateID {
			return true
		}
	}
	return false
}

// Clone returns a copy of the instance that shares no history storage with the receiver.
func (i WorkflowInstance) Clone() WorkflowInstance {
	out := i
	if i.History != nil {
		out.History = make([]ActionHistory, len(i.History))
		copy(out.History, i.History)
	}
	return out
}

// LastAction returns the most recently executed action, if any.
func (i WorkflowInstance) LastAction() (ActionHistory, bool) {
	if len(i.History) == 0 {
		return ActionHistory{}, false
	}
	return i.History[len(i.History)-1], true
}
