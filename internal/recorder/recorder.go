package recorder

import (
	"MediVault/internal/event"
	"MediVault/internal/model"
)

// Recorder persists the lifecycle event stream and the tables it projects onto.
// It is attached to the event bus as a sink; the core never queries it.
type Recorder interface {
	event.Sink
	Recent(limit int) ([]model.Event, error)
	Close() error
}
