package events

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an outbound domain event.
type Type string

const (
	// ConversationCreated fires when a customer's message opens a conversation.
	ConversationCreated Type = "conversation.created"
	// CustomerReplied fires when a customer's message lands on an existing conversation.
	CustomerReplied Type = "conversation.customer_replied"
	// MessageReceived fires for every committed inbound message.
	MessageReceived Type = "message.received"
)

// Event is the payload handed to registered sinks, exactly once per
// successfully committed message.
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	MailboxID      int       `json:"mailbox_id"`
	ConversationID int       `json:"conversation_id"`
	ThreadID       int       `json:"thread_id"`
	CustomerID     int       `json:"customer_id,omitempty"`
	UserID         int       `json:"user_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Sink consumes dispatched events. Sink failures are isolated per sink.
type Sink interface {
	Deliver(event Event) error
}

// Dispatcher fans events out to registered sinks.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *log.Logger
	now    func() time.Time
}

// DispatcherOption customizes dispatcher behavior.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the logger used for sink failures.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherClock overrides the wall clock, primarily for tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher returns a dispatcher with no sinks registered.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger: log.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a sink. Registration order is delivery order.
func (d *Dispatcher) Register(sink Sink) {
	if sink == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Dispatch stamps and delivers the event to every sink. A failing sink is
// logged and skipped; it never affects other sinks or the caller.
func (d *Dispatcher) Dispatch(event Event) {
	event.ID = uuid.NewString()
	event.OccurredAt = d.now()
	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()
	for _, sink := range sinks {
		if err := sink.Deliver(event); err != nil {
			d.logger.Printf("events: sink delivery failed for %s: %v", event.Type, err)
		}
	}
}

// LogSink writes one line per event, used as the always-on default sink.
type LogSink struct {
	Logger *log.Logger
}

// Deliver implements Sink.
func (s LogSink) Deliver(event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("events: %s conversation=%d thread=%d mailbox=%d",
		event.Type, event.ConversationID, event.ThreadID, event.MailboxID)
	return nil
}
