package recorder

import "MediVault/internal/model"

// NoopRecorder discards everything. Used when no database path is configured.
type NoopRecorder struct{}

func (NoopRecorder) Name() string                      { return "recorder" }
func (NoopRecorder) Handle(model.Event) error          { return nil }
func (NoopRecorder) Recent(int) ([]model.Event, error) { return nil, nil }
func (NoopRecorder) Close() error                      { return nil }
