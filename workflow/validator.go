package workflow

import (
	"github.com/songzhibin97/workflow-fsm/types"
)

// Validate checks a definition for structural soundness. Checks run in a fixed
// order and the first failure is returned as a *RejectedError:
//
//  1. at least one state
//  2. exactly one initial state
//  3. unique state ids
//  4. unique action ids
//  5. every action's from/to states exist
//
// Enabled flags and reachability are not inspected.
func Validate(def types.WorkflowDefinition) error {
	if len(def.States) == 0 {
		return rejectf(CodeNoStates, "workflow must have at least one state")
	}

	initial := 0
	for _, s := range def.States {
		if s.IsInitial {
			initial++
		}
	}
	if initial != 1 {
		return rejectf(CodeInitialStateCount, "workflow must have exactly one initial state, found %d", initial)
	}

	stateIDs := make(map[string]struct{}, len(def.States))
	for _, s := range def.States {
		if _, dup := stateIDs[s.ID]; dup {
			return rejectf(CodeDuplicateStateID, "state IDs must be unique: %q is duplicated", s.ID)
		}
		stateIDs[s.ID] = struct{}{}
	}

	actionIDs := make(map[string]struct{}, len(def.Actions))
	for _, a := range def.Actions {
		if _, dup := actionIDs[a.ID]; dup {
			return rejectf(CodeDuplicateActionID, "action IDs must be unique: %q is duplicated", a.ID)
		}
		actionIDs[a.ID] = struct{}{}
	}

	for _, a := range def.Actions {
		if !referencesKnownStates(a, stateIDs) {
			return rejectf(CodeUnknownStateRef, "action %q references unknown state(s)", actionLabel(a))
		}
	}

	return nil
}

func referencesKnownStates(a types.Action, states map[string]struct{}) bool {
	if _, ok := states[a.ToState]; !ok {
		return false
	}
	for _, from := range a.FromStates {
		if _, ok := states[from]; !ok {
			return false
		}
	}
	return true
}

// actionLabel prefers the display name and falls back to the id.
func actionLabel(a types.Action) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
