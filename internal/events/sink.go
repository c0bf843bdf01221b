package events

import "context"

// Sink consumes batches of records. Implementations must be safe for repeated
// calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Record) error
	Close(ctx context.Context) error
}

// Emitter publishes individual records.
type Emitter interface {
	Emit(rec Record)
}

// Discard is an Emitter that drops every record.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Record) {}
