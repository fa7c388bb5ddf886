package notifier

import (
	"context"

	"go.uber.org/zap"

	"MediVault/internal/model"
)

// Sender delivers one formatted message.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// EventSink announces notable lifecycle events. Handle only queues the message,
// so a slow chat never holds up the component that emitted the event.
type EventSink struct {
	sender Sender
	format Formatter
	queue  chan string
	logger *zap.Logger
}

// NewEventSink creates a sink with room for size pending messages.
func NewEventSink(sender Sender, format Formatter, size int, logger *zap.Logger) *EventSink {
	if size <= 0 {
		size = 64
	}
	return &EventSink{
		sender: sender,
		format: format,
		queue:  make(chan string, size),
		logger: logger.Named("notifier"),
	}
}

func (s *EventSink) Name() string { return "telegram" }

func (s *EventSink) Handle(evt model.Event) error {
	text := s.format.Event(evt)
	if text == "" {
		return nil
	}
	select {
	case s.queue <- text:
	default:
		s.logger.Warn("notification queue full, dropping", zap.String("event", string(evt.Type)))
	}
	return nil
}

// Run delivers queued messages until ctx is cancelled.
func (s *EventSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.queue:
			if err := s.sender.SendWithRetry(ctx, text, 3); err != nil {
				s.logger.Error("send notification", zap.Error(err))
			}
		}
	}
}
