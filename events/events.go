package events

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Type identifies what happened to a definition or instance.
type Type string

const (
	DefinitionCreated  Type = "definition_created"
	DefinitionRejected Type = "definition_rejected"
	InstanceStarted    Type = "instance_started"
	ActionExecuted     Type = "action_executed"
	ActionRejected     Type = "action_rejected"
	InstanceCompleted  Type = "instance_completed"
)

// Event represents a workflow lifecycle event.
type Event struct {
	Type         Type
	DefinitionID string
	InstanceID   string
	OccurredAt   time.Time
	Data         map[string]interface{}
}

// EventHandler defines the interface for handling events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements the EventHandler interface.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// EventBus manages event subscriptions and dispatches published events on a
// single background goroutine.
type EventBus struct {
	handlers     map[Type][]EventHandler
	mu           sync.RWMutex
	eventCh      chan Event
	errHandler   func(event Event, err error)
	errHandlerMu sync.RWMutex
	logger       *slog.Logger
	wg           sync.WaitGroup
	closed       bool
	closeMu      sync.RWMutex
	syncTimeout  time.Duration
}

// EventBusOption defines functional options for configuring EventBus.
type EventBusOption func(*EventBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		eb.eventCh = make(chan Event, size)
	}
}

// WithErrorHandler sets a custom error handler function.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) {
		eb.errHandler = handler
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *slog.Logger) EventBusOption {
	return func(eb *EventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// WithSyncTimeout bounds how long PublishSync waits for handlers.
func WithSyncTimeout(d time.Duration) EventBusOption {
	return func(eb *EventBus) {
		eb.syncTimeout = d
	}
}

// NewEventBus creates a new EventBus instance with async processing.
// The default buffer size is 100 and handler errors are logged.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		handlers:    make(map[Type][]EventHandler),
		eventCh:     make(chan Event, 100),
		logger:      slog.New(slog.NewTextHandler(discard{}, nil)),
		syncTimeout: 5 * time.Second,
	}
	eb.errHandler = eb.logError

	for _, option := range options {
		option(eb)
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe subscribes a handler to an event type.
func (eb *EventBus) Subscribe(eventType Type, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeFunc subscribes a function as a handler to an event type.
func (eb *EventBus) SubscribeFunc(eventType Type, handlerFunc func(ctx context.Context, event Event) error) {
	eb.Subscribe(eventType, EventHandlerFunc(handlerFunc))
}

// Unsubscribe removes a specific handler from an event type.
// Returns true if the handler was found and removed.
func (eb *EventBus) Unsubscribe(eventType Type, handler EventHandler) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return false
	}

	for i, h := range handlers {
		if sameHandler(h, handler) {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			if len(eb.handlers[eventType]) == 0 {
				delete(eb.handlers, eventType)
			}
			return true
		}
	}
	return false
}

// sameHandler compares handlers by identity; func adapters compare by code pointer.
func sameHandler(a, b EventHandler) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan:
		return va.Pointer() == vb.Pointer()
	}
	return va.Type().Comparable() && a == b
}

// HasSubscribers checks if there are any subscribers for a given event type.
func (eb *EventBus) HasSubscribers(eventType Type) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) > 0
}

// Publish queues an event for asynchronous delivery.
// Returns an error if the context is canceled, the bus is closed, nobody is
// subscribed, or the buffer is full.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()
	if eb.closed {
		return ErrBusClosed
	}

	if !eb.HasSubscribers(event.Type) {
		return ErrNoHandler
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case eb.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync delivers an event to all handlers and waits for them.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) []error {
	eb.closeMu.RLock()
	closed := eb.closed
	eb.closeMu.RUnlock()
	if closed {
		return []error{ErrBusClosed}
	}

	eb.mu.RLock()
	handlers := append([]EventHandler(nil), eb.handlers[event.Type]...)
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return []error{ErrNoHandler}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, eb.syncTimeout)
	defer cancel()

	return eb.executeHandlers(timeoutCtx, handlers, event)
}

// Stop stops the event processing goroutine and waits for completion.
// Queued events are still delivered before Stop returns.
func (eb *EventBus) Stop() {
	eb.closeMu.Lock()
	if !eb.closed {
		eb.closed = true
		close(eb.eventCh)
	}
	eb.closeMu.Unlock()

	eb.wg.Wait()
}

// processEvents handles events asynchronously in a separate goroutine.
func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for event := range eb.eventCh {
		eb.mu.RLock()
		handlers := append([]EventHandler(nil), eb.handlers[event.Type]...)
		eb.mu.RUnlock()

		if len(handlers) == 0 {
			continue
		}

		errs := eb.executeHandlers(context.Background(), handlers, event)

		eb.errHandlerMu.RLock()
		handler := eb.errHandler
		eb.errHandlerMu.RUnlock()

		for _, err := range errs {
			handler(event, err)
		}
	}
}

// executeHandlers runs all handlers concurrently and collects their errors.
func (eb *EventBus) executeHandlers(ctx context.Context, handlers []EventHandler, event Event) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h EventHandler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	return errs
}

func (eb *EventBus) logError(event Event, err error) {
	eb.logger.Error("event handler failed",
		"event", string(event.Type),
		"definition_id", event.DefinitionID,
		"instance_id", event.InstanceID,
		"err", err,
	)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
