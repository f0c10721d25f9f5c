package events

import (
	"log/slog"
	"sort"

	"greenledger/core/types"
)

// Flattener is implemented by events that can render themselves in the
// flattened attribute form published to downstream consumers.
type Flattener interface {
	Event() *types.Event
}

// LogEmitter publishes events to a structured logger in their flattened
// attribute form. The daemon wires it into the engines and the registry so
// every state change lands in the log stream.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter constructs an emitter writing to the supplied logger, falling
// back to the default logger when none is given.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements the Emitter interface. Attribute keys are sorted so log
// lines for the same event type are stable across emissions.
func (l *LogEmitter) Emit(event Event) {
	if l == nil || event == nil {
		return
	}
	flattener, ok := event.(Flattener)
	if !ok {
		l.logger.Info("event", "type", event.EventType())
		return
	}
	published := flattener.Event()
	args := make([]any, 0, 2+2*len(published.Attributes))
	args = append(args, "type", published.Type)
	keys := make([]string, 0, len(published.Attributes))
	for key := range published.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, key, published.Attributes[key])
	}
	l.logger.Info("event", args...)
}
