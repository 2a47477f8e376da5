package emit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return zap.New(core), logs
}

func TestLogEmitterEmitWritesStructuredFields(t *testing.T) {
	log, logs := newObservedLogger()
	e := NewLogEmitter(log)

	e.Emit(Event{
		AppURI:  "app-1",
		GraphID: "graph-1",
		Loc:     "ext-1",
		Msg:     "extension group running",
		Meta:    map[string]interface{}{"cmd_id": "cmd-1"},
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != "extension group running" {
		t.Errorf("Message = %q, want %q", entry.Message, "extension group running")
	}
	ctx := entry.ContextMap()
	if ctx["app"] != "app-1" {
		t.Errorf("app field = %v, want app-1", ctx["app"])
	}
	if ctx["graph_id"] != "graph-1" {
		t.Errorf("graph_id field = %v, want graph-1", ctx["graph_id"])
	}
	if ctx["loc"] != "ext-1" {
		t.Errorf("loc field = %v, want ext-1", ctx["loc"])
	}
	if ctx["cmd_id"] != "cmd-1" {
		t.Errorf("cmd_id field = %v, want cmd-1", ctx["cmd_id"])
	}
}

func TestLogEmitterOmitsEmptyIdentifyingFields(t *testing.T) {
	log, logs := newObservedLogger()
	e := NewLogEmitter(log)

	e.Emit(Event{Msg: "app-level event"})

	ctx := logs.All()[0].ContextMap()
	if _, ok := ctx["app"]; ok {
		t.Error("expected no 'app' field for an event with empty AppURI")
	}
	if _, ok := ctx["graph_id"]; ok {
		t.Error("expected no 'graph_id' field for an event with empty GraphID")
	}
}

func TestLogEmitterEmitBatchPreservesOrder(t *testing.T) {
	log, logs := newObservedLogger()
	e := NewLogEmitter(log)

	if err := e.EmitBatch(context.Background(), []Event{{Msg: "first"}, {Msg: "second"}}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	entries := logs.All()
	if len(entries) != 2 || entries[0].Message != "first" || entries[1].Message != "second" {
		t.Errorf("entries = %v, want [first second] in order", entries)
	}
}

func TestNewLogEmitterNilLoggerFallsBackToNop(t *testing.T) {
	e := NewLogEmitter(nil)
	// Must not panic.
	e.Emit(Event{Msg: "anything"})
}

func TestNullEmitterDiscardsEverything(t *testing.T) {
	var n NullEmitter
	n.Emit(Event{Msg: "ignored"})
	if err := n.EmitBatch(context.Background(), []Event{{Msg: "ignored"}}); err != nil {
		t.Errorf("EmitBatch: %v", err)
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Errorf("Flush: %v", err)
	}
}
