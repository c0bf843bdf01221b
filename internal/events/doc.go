// Package events defines the structured records collectors and workers emit about
// their work, and the non-blocking hub that batches those records to sinks such as
// the zap logger or a Redis stream. Emitting never blocks the caller; when the
// buffer is full records are dropped and counted.
package events
