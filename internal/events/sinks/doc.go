// Package sinks implements event consumers: a zap log sink and a Redis stream sink.
// Each satisfies events.Sink.
package sinks
