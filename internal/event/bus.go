package event

import (
	"sync"

	"go.uber.org/zap"

	"MediVault/internal/model"
)

// Emitter is what core components publish lifecycle facts to.
type Emitter interface {
	Emit(evt model.Event)
}

// Sink consumes published events. Sinks must not call back into the emitting component.
type Sink interface {
	Name() string
	Handle(evt model.Event) error
}

// Bus fans each event out to every attached sink, in attach order.
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger.Named("event")}
}

// Attach adds a sink. Attaching is a wiring step done before traffic starts.
func (b *Bus) Attach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Emit delivers evt synchronously. A failing sink is logged and does not stop delivery.
func (b *Bus) Emit(evt model.Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	b.logger.Debug("event",
		zap.String("type", string(evt.Type)),
		zap.String("id", evt.ID.String()),
		zap.Uint64("vault_id", evt.VaultID),
		zap.Uint64("round_id", evt.RoundID))

	for _, s := range sinks {
		if err := s.Handle(evt); err != nil {
			b.logger.Error("sink failed",
				zap.String("sink", s.Name()),
				zap.String("type", string(evt.Type)),
				zap.Error(err))
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(model.Event) {}

// Collector keeps emitted events in memory, mostly for tests and the status command.
type Collector struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *Collector) Name() string { return "collector" }

func (c *Collector) Handle(evt model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

// Emit lets a Collector stand in for a Bus.
func (c *Collector) Emit(evt model.Event) { _ = c.Handle(evt) }

// Events returns a copy of everything collected so far.
func (c *Collector) Events() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

// Count returns how many events of type t were collected.
func (c *Collector) Count(t model.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
