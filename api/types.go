package api

import "github.com/songzhibin97/workflow-fsm/types"

// StateRequest is a state in a CreateDefinitionRequest.
type StateRequest struct {
	ID          string `json:"id"          validate:"max=128"`
	Name        string `json:"name"        validate:"max=256"`
	IsInitial   bool   `json:"is_initial"`
	IsFinal     bool   `json:"is_final"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description" validate:"max=2048"`
}

// ActionRequest is an action in a CreateDefinitionRequest.
type ActionRequest struct {
	ID         string   `json:"id"          validate:"max=128"`
	Name       string   `json:"name"        validate:"max=256"`
	Enabled    bool     `json:"enabled"`
	FromStates []string `json:"from_states" validate:"dive,max=128"`
	ToState    string   `json:"to_state"    validate:"max=128"`
}

// CreateDefinitionRequest is the body of POST /api/workflow-definitions.
// Structural rules are enforced by the engine; this only bounds field sizes.
type CreateDefinitionRequest struct {
	ID      string          `json:"id"      validate:"required,max=128"`
	Name    string          `json:"name"    validate:"max=256"`
	States  []StateRequest  `json:"states"  validate:"dive"`
	Actions []ActionRequest `json:"actions" validate:"dive"`
}

// ExecuteActionRequest is the body of POST /api/workflow-instances/{id}/actions.
type ExecuteActionRequest struct {
	ActionID string `json:"action_id" validate:"required"`
}

func (r CreateDefinitionRequest) toDefinition() types.WorkflowDefinition {
	def := types.WorkflowDefinition{
		ID:      r.ID,
		Name:    r.Name,
		States:  make([]types.State, len(r.States)),
		Actions: make([]types.Action, len(r.Actions)),
	}
	for i, s := range r.States {
		def.States[i] = types.State{
			ID:          s.ID,
			Name:        s.Name,
			IsInitial:   s.IsInitial,
			IsFinal:     s.IsFinal,
			Enabled:     s.Enabled,
			Description: s.Description,
		}
	}
	for i, a := range r.Actions {
		from := a.FromStates
		if from == nil {
			from = []string{}
		}
		def.Actions[i] = types.Action{
			ID:         a.ID,
			Name:       a.Name,
			Enabled:    a.Enabled,
			FromStates: from,
			ToState:    a.ToState,
		}
	}
	return def
}
