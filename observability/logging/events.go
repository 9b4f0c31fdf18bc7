package logging

import (
	"log/slog"

	"loanledger/core/events"
)

// EventSink logs every committed event at info level with its attributes.
type EventSink struct {
	logger *slog.Logger
}

func NewEventSink(logger *slog.Logger) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{logger: logger.With(slog.String("component", "events"))}
}

// Emit implements events.Emitter.
func (s *EventSink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	args := []any{slog.String("type", evt.EventType())}
	if payload, ok := evt.(events.Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			keys := rendered.Keys()
			attrs := make([]any, 0, len(keys))
			for _, key := range keys {
				attrs = append(attrs, slog.String(key, rendered.Attributes[key]))
			}
			args = append(args, slog.Group("attributes", attrs...))
		}
	}
	s.logger.Info("event committed", args...)
}
