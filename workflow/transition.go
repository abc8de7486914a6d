package workflow

import (
	"fmt"
	"time"

	"github.com/songzhibin97/workflow-fsm/types"
)

// Execute applies actionID to inst under def and returns the advanced snapshot.
// inst is never modified. Preconditions, in order:
//
//  1. the current state exists in def (IntegrityError otherwise)
//  2. the current state is not final
//  3. the action exists
//  4. the action is enabled
//  5. the current state is one of the action's source states
//  6. the action's target state exists in def (IntegrityError otherwise)
//
// The target state's enabled flag is not consulted.
func Execute(def types.WorkflowDefinition, inst types.WorkflowInstance, actionID string, now time.Time) (types.WorkflowInstance, error) {
	current, ok := def.FindState(inst.CurrentStateID)
	if !ok {
		return types.WorkflowInstance{}, &IntegrityError{
			InstanceID: inst.ID,
			Detail:     fmt.Sprintf("current state %q not found in definition %q", inst.CurrentStateID, def.ID),
		}
	}
	if current.IsFinal {
		return types.WorkflowInstance{}, rejectf(CodeFinalState, "cannot execute actions on final state %q", stateLabel(current))
	}

	action, ok := def.FindAction(actionID)
	if !ok {
		return types.WorkflowInstance{}, rejectf(CodeActionNotFound, "action %q not found in workflow definition", actionID)
	}
	if !action.Enabled {
		return types.WorkflowInstance{}, rejectf(CodeActionDisabled, "action %q is not enabled", actionLabel(action))
	}
	if !action.Allows(current.ID) {
		return types.WorkflowInstance{}, rejectf(CodeActionNotAllowed,
			"action %q cannot be executed from the current state %q", actionLabel(action), stateLabel(current))
	}

	target, ok := def.FindState(action.ToState)
	if !ok {
		return types.WorkflowInstance{}, &IntegrityError{
			InstanceID: inst.ID,
			Detail:     fmt.Sprintf("target state %q of action %q not found", action.ToState, action.ID),
		}
	}

	next := inst.Clone()
	next.CurrentStateID = target.ID
	next.History = append(next.History, types.ActionHistory{
		ActionID:  action.ID,
		Timestamp: now,
	})
	return next, nil
}

// AvailableActions lists the actions Execute would accept from inst's current
// state, in definition order. Final or unresolvable states yield none.
func AvailableActions(def types.WorkflowDefinition, inst types.WorkflowInstance) []types.Action {
	current, ok := def.FindState(inst.CurrentStateID)
	if !ok || current.IsFinal {
		return []types.Action{}
	}

	out := make([]types.Action, 0)
	for _, a := range def.Actions {
		if !a.Enabled || !a.Allows(current.ID) {
			continue
		}
		if _, ok := def.FindState(a.ToState); !ok {
			continue
		}
		out = append(out, a)
	}
	return out
}

func stateLabel(s types.State) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
