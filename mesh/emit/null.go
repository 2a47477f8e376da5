package emit

import "context"

// NullEmitter discards every event. The zero value is ready to use.
type NullEmitter struct{}

func (NullEmitter) Emit(Event)                                 {}
func (NullEmitter) EmitBatch(context.Context, []Event) error    { return nil }
func (NullEmitter) Flush(context.Context) error                 { return nil }
