package emit

import (
	"context"

	"go.uber.org/zap"
)

// LogEmitter writes every event as a structured zap log line. This is the
// default Emitter an App runs with when no other backend is configured.
type LogEmitter struct {
	log *zap.Logger
}

// NewLogEmitter wraps log (a nil logger falls back to zap.NewNop()).
func NewLogEmitter(log *zap.Logger) *LogEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(ev Event) {
	fields := make([]zap.Field, 0, len(ev.Meta)+3)
	if ev.AppURI != "" {
		fields = append(fields, zap.String("app", ev.AppURI))
	}
	if ev.GraphID != "" {
		fields = append(fields, zap.String("graph_id", ev.GraphID))
	}
	if ev.Loc != "" {
		fields = append(fields, zap.String("loc", ev.Loc))
	}
	for k, v := range ev.Meta {
		fields = append(fields, zap.Any(k, v))
	}
	e.log.Info(ev.Msg, fields...)
}

func (e *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, ev := range events {
		e.Emit(ev)
	}
	return nil
}

func (e *LogEmitter) Flush(_ context.Context) error {
	return e.log.Sync()
}
