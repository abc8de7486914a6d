package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/songzhibin97/workflow-fsm/events"
	"github.com/songzhibin97/workflow-fsm/logging"
	"github.com/songzhibin97/workflow-fsm/metrics"
	"github.com/songzhibin97/workflow-fsm/rules"
	"github.com/songzhibin97/workflow-fsm/storage"
	"github.com/songzhibin97/workflow-fsm/types"
)

// WorkflowEngine creates definitions, starts instances and advances them one
// action at a time. It owns no workflow state itself; everything lives in the
// injected Storage.
type WorkflowEngine struct {
	ids       IDGenerator
	storage   storage.Storage
	evaluator rules.Evaluator
	eventBus  *events.EventBus
	ownsBus   bool
	logger    *slog.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
	locks     *instanceLocks
}

// Option configures a WorkflowEngine.
type Option func(*WorkflowEngine)

// WithEvaluator replaces the expression evaluator used by ListInstances filters.
func WithEvaluator(evaluator rules.Evaluator) Option {
	return func(e *WorkflowEngine) {
		if evaluator != nil {
			e.evaluator = evaluator
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *WorkflowEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(e *WorkflowEngine) {
		e.metrics = recorder
	}
}

// WithClock sets the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *WorkflowEngine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEventBus publishes lifecycle events to bus. The caller keeps ownership
// and must stop it.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *WorkflowEngine) {
		if bus != nil {
			e.eventBus = bus
		}
	}
}

// NewWorkflowEngine creates a new WorkflowEngine. A nil store selects MemoryStorage.
func NewWorkflowEngine(ids IDGenerator, store storage.Storage, opts ...Option) (*WorkflowEngine, error) {
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &WorkflowEngine{
		ids:     ids,
		storage: store,
		logger:  logging.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		locks:   newInstanceLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.evaluator == nil {
		evaluator := rules.NewExprEvaluator()
		evaluator.AddOptionFunc("performed", performedFunc)
		e.evaluator = evaluator
	}
	if e.eventBus == nil {
		e.eventBus = events.NewEventBus(events.WithLogger(e.logger))
		e.ownsBus = true
	}
	return e, nil
}

// SubscribeEvent subscribes an event handler to a lifecycle event type.
func (e *WorkflowEngine) SubscribeEvent(eventType events.Type, handler events.EventHandler) {
	e.eventBus.Subscribe(eventType, handler)
}

// Stop stops the engine's own event bus, delivering queued events first.
func (e *WorkflowEngine) Stop() {
	if e.ownsBus {
		e.eventBus.Stop()
	}
}

// CreateDefinition validates def and stores it, replacing any definition with
// the same id.
func (e *WorkflowEngine) CreateDefinition(ctx context.Context, def types.WorkflowDefinition) (types.WorkflowDefinition, error) {
	defer e.metrics.ObserveDuration("create_definition", time.Now())

	var err error
	if def.ID == "" {
		err = rejectf(CodeMissingDefinitionID, "workflow definition id is required")
	} else {
		err = Validate(def)
	}
	if err != nil {
		e.metrics.DefinitionCreated(metrics.OutcomeRejected)
		e.logger.Info("definition rejected", "definition_id", def.ID, "code", string(RejectionCodeOf(err)), "err", err)
		e.publish(events.Event{
			Type:         events.DefinitionRejected,
			DefinitionID: def.ID,
			Data:         map[string]interface{}{"code": string(RejectionCodeOf(err))},
		})
		return types.WorkflowDefinition{}, err
	}

	if err := e.storage.SaveDefinition(ctx, def); err != nil {
		e.metrics.DefinitionCreated(metrics.OutcomeError)
		e.logger.Error("failed to save definition", "definition_id", def.ID, "err", err)
		return types.WorkflowDefinition{}, fmt.Errorf("save definition %s: %w", def.ID, err)
	}

	e.metrics.DefinitionCreated(metrics.OutcomeOK)
	e.logger.Debug("definition created", "definition_id", def.ID, "states", len(def.States), "actions", len(def.Actions))
	e.publish(events.Event{
		Type:         events.DefinitionCreated,
		DefinitionID: def.ID,
		Data:         map[string]interface{}{"name": def.Name},
	})
	return def.Clone(), nil
}

// GetDefinition looks up a definition by id.
func (e *WorkflowEngine) GetDefinition(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	def, err := e.storage.GetDefinition(ctx, id)
	if err != nil {
		return types.WorkflowDefinition{}, notFound(err, KindDefinition, id, "get definition")
	}
	return def, nil
}

// ListDefinitions returns all definitions ordered by id.
func (e *WorkflowEngine) ListDefinitions(ctx context.Context) ([]types.WorkflowDefinition, error) {
	defs, err := e.storage.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	return defs, nil
}

// StartInstance creates an instance of the definition positioned at its
// initial state with an empty history.
func (e *WorkflowEngine) StartInstance(ctx context.Context, definitionID string) (types.WorkflowInstance, error) {
	defer e.metrics.ObserveDuration("start_instance", time.Now())

	inst, err := e.startInstance(ctx, definitionID)
	if err != nil {
		e.metrics.InstanceStarted(outcomeOf(err))
		e.logFailure("start instance failed", err, "definition_id", definitionID)
		return types.WorkflowInstance{}, err
	}

	e.metrics.InstanceStarted(metrics.OutcomeOK)
	e.logger.Debug("instance started", "instance_id", inst.ID, "definition_id", definitionID, "state", inst.CurrentStateID)
	e.publish(events.Event{
		Type:         events.InstanceStarted,
		DefinitionID: definitionID,
		InstanceID:   inst.ID,
		Data:         map[string]interface{}{"state": inst.CurrentStateID},
	})
	return inst, nil
}

func (e *WorkflowEngine) startInstance(ctx context.Context, definitionID string) (types.WorkflowInstance, error) {
	def, err := e.storage.GetDefinition(ctx, definitionID)
	if err != nil {
		return types.WorkflowInstance{}, notFound(err, KindDefinition, definitionID, "get definition")
	}

	initial, ok := def.InitialState()
	if !ok {
		return types.WorkflowInstance{}, rejectf(CodeNoInitialState, "workflow definition %q has no initial state", def.ID)
	}

	id, err := e.ids.NextID()
	if err != nil {
		return types.WorkflowInstance{}, err
	}

	now := e.now().UnixMilli()
	inst := types.WorkflowInstance{
		ID:                   id,
		WorkflowDefinitionID: def.ID,
		CurrentStateID:       initial.ID,
		History:              []types.ActionHistory{},
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := e.storage.SaveInstance(ctx, inst); err != nil {
		return types.WorkflowInstance{}, fmt.Errorf("save instance %s: %w", id, err)
	}
	return inst, nil
}

// GetInstance looks up an instance by id.
func (e *WorkflowEngine) GetInstance(ctx context.Context, id string) (types.WorkflowInstance, error) {
	inst, err := e.storage.GetInstance(ctx, id)
	if err != nil {
		return types.WorkflowInstance{}, notFound(err, KindInstance, id, "get instance")
	}
	return inst, nil
}

// ExecuteAction applies actionID to the instance and commits the new snapshot.
// Work on one instance id is serialized in-process and the store rejects
// stale writes, which surface as ErrConcurrentUpdate.
func (e *WorkflowEngine) ExecuteAction(ctx context.Context, instanceID, actionID string) (types.WorkflowInstance, error) {
	defer e.metrics.ObserveDuration("execute_action", time.Now())

	var (
		result  types.WorkflowInstance
		from    string
		reached types.State
		defID   string
	)
	err := e.locks.withLock(ctx, instanceID, func(ctx context.Context) error {
		inst, err := e.storage.GetInstance(ctx, instanceID)
		if err != nil {
			return notFound(err, KindInstance, instanceID, "get instance")
		}
		defID = inst.WorkflowDefinitionID

		def, err := e.storage.GetDefinition(ctx, inst.WorkflowDefinitionID)
		if err != nil {
			return notFound(err, KindDefinition, inst.WorkflowDefinitionID, "get definition")
		}

		now := e.now()
		next, err := Execute(def, inst, actionID, now)
		if err != nil {
			return err
		}
		next.Version = inst.Version + 1
		next.UpdatedAt = now.UnixMilli()

		if err := e.storage.UpdateInstance(ctx, next, inst.Version); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				return fmt.Errorf("%w: id=%s", ErrConcurrentUpdate, instanceID)
			}
			return notFound(err, KindInstance, instanceID, "update instance")
		}

		from = inst.CurrentStateID
		reached, _ = def.FindState(next.CurrentStateID)
		result = next
		return nil
	})

	if err != nil {
		e.metrics.ActionExecuted(outcomeOf(err), string(RejectionCodeOf(err)))
		e.logFailure("execute action failed", err, "instance_id", instanceID, "action_id", actionID)
		if IsRejected(err) {
			e.publish(events.Event{
				Type:         events.ActionRejected,
				DefinitionID: defID,
				InstanceID:   instanceID,
				Data: map[string]interface{}{
					"action_id": actionID,
					"code":      string(RejectionCodeOf(err)),
				},
			})
		}
		return types.WorkflowInstance{}, err
	}

	e.metrics.ActionExecuted(metrics.OutcomeOK, "")
	e.logger.Debug("action executed",
		"instance_id", instanceID,
		"action_id", actionID,
		"from", from,
		"to", result.CurrentStateID,
		"version", result.Version,
	)
	e.publish(events.Event{
		Type:         events.ActionExecuted,
		DefinitionID: defID,
		InstanceID:   instanceID,
		Data: map[string]interface{}{
			"action_id": actionID,
			"from":      from,
			"to":        result.CurrentStateID,
		},
	})
	if reached.IsFinal {
		e.metrics.InstanceCompleted()
		e.publish(events.Event{
			Type:         events.InstanceCompleted,
			DefinitionID: defID,
			InstanceID:   instanceID,
			Data:         map[string]interface{}{"state": reached.ID},
		})
	}
	return result, nil
}

// AvailableActions lists the actions the instance can currently execute.
func (e *WorkflowEngine) AvailableActions(ctx context.Context, instanceID string) ([]types.Action, error) {
	inst, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	def, err := e.GetDefinition(ctx, inst.WorkflowDefinitionID)
	if err != nil {
		return nil, err
	}
	return AvailableActions(def, inst), nil
}

// ListInstances returns instances ordered by id. A non-empty filter is an expr
// expression evaluated against each instance; see instanceEnv for its variables.
func (e *WorkflowEngine) ListInstances(ctx context.Context, filter string) ([]types.WorkflowInstance, error) {
	if c, ok := e.evaluator.(compiler); ok && filter != "" {
		if err := c.Compile(filter, instanceEnv(types.WorkflowInstance{}, nil)); err != nil {
			return nil, rejectf(CodeInvalidFilter, "invalid filter: %v", err)
		}
	}

	insts, err := e.storage.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	if filter == "" {
		return insts, nil
	}

	defs, err := e.storage.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	byID := make(map[string]*types.WorkflowDefinition, len(defs))
	for i := range defs {
		byID[defs[i].ID] = &defs[i]
	}

	out := make([]types.WorkflowInstance, 0, len(insts))
	for _, inst := range insts {
		ok, err := e.evaluator.Evaluate(filter, instanceEnv(inst, byID[inst.WorkflowDefinitionID]))
		if err != nil {
			return nil, rejectf(CodeInvalidFilter, "invalid filter: %v", err)
		}
		if ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

type compiler interface {
	Compile(expression string, env map[string]interface{}) error
}

// instanceEnv is the variable set visible to list filters. def may be nil
// when the instance's definition is missing.
func instanceEnv(inst types.WorkflowInstance, def *types.WorkflowDefinition) map[string]interface{} {
	actions := make([]string, len(inst.History))
	for i, h := range inst.History {
		actions[i] = h.ActionID
	}
	var lastAction string
	if last, ok := inst.LastAction(); ok {
		lastAction = last.ActionID
	}

	var (
		stateName string
		isFinal   bool
	)
	if def != nil {
		if s, ok := def.FindState(inst.CurrentStateID); ok {
			stateName = s.Name
			isFinal = s.IsFinal
		}
	}

	return map[string]interface{}{
		"id":                 inst.ID,
		"definition_id":      inst.WorkflowDefinitionID,
		"current_state":      inst.CurrentStateID,
		"current_state_name": stateName,
		"is_final":           isFinal,
		"history_len":        len(inst.History),
		"last_action":        lastAction,
		"actions":            actions,
	}
}

// performedFunc backs the filter function performed(actionID).
func performedFunc(env map[string]interface{}) interface{} {
	actions, _ := env["actions"].([]string)
	return func(actionID string) bool {
		for _, a := range actions {
			if a == actionID {
				return true
			}
		}
		return false
	}
}

func (e *WorkflowEngine) publish(event events.Event) {
	if !e.eventBus.HasSubscribers(event.Type) {
		return
	}
	event.OccurredAt = e.now()
	if err := e.eventBus.Publish(context.Background(), event); err != nil {
		e.logger.Warn("failed to publish event", "event", string(event.Type), "err", err)
	}
}

func (e *WorkflowEngine) logFailure(msg string, err error, attrs ...interface{}) {
	attrs = append(attrs, "err", err)
	switch {
	case IsRejected(err):
		attrs = append(attrs, "code", string(RejectionCodeOf(err)))
		e.logger.Info(msg, attrs...)
	case IsNotFound(err), errors.Is(err, ErrConcurrentUpdate):
		e.logger.Info(msg, attrs...)
	default:
		e.logger.Error(msg, attrs...)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case IsRejected(err):
		return metrics.OutcomeRejected
	case IsNotFound(err):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrConcurrentUpdate):
		return metrics.OutcomeConflict
	case IsIntegrity(err):
		return metrics.OutcomeIntegrity
	default:
		return metrics.OutcomeError
	}
}
