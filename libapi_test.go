package procflow

import (
	"context"
	"errors"
	"testing"
)

func greeterDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewDefinitionBuilder("greeter", "Greeter").
		Start("start").
		Task("hello", "Hello", "demo.hello").
		End("end").
		Flow("start", "hello").
		Flow("hello", "end").
		Build()
	if err != nil {
		t.Fatalf("building definition: %v", err)
	}
	return def
}

func TestEngineExportEndToEnd(t *testing.T) {
	registry := NewHandlerRegistry()
	err := registry.RegisterFunc("demo.hello", func(ctx context.Context, view ContextView, meta TaskMeta) (map[string]any, error) {
		name, _ := view.GetString("name")
		return map[string]any{"greeting": "hello " + name}, nil
	})
	if err != nil {
		t.Fatalf("registering handler: %v", err)
	}

	eng := NewEngine(nil, NewNopLogger(), Dependencies{Registry: registry})
	if err := eng.RegisterDefinition(greeterDefinition(t)); err != nil {
		t.Fatalf("registering definition: %v", err)
	}

	inst, err := eng.Execute(context.Background(), "greeter", map[string]any{"name": "world"})
	if err != nil {
		t.Fatalf("executing instance: %v", err)
	}
	if inst.Status() != InstanceCompleted {
		t.Fatalf("expected completed instance, got %s", inst.Status())
	}
	if got := inst.DataContext()["greeting"]; got != "hello world" {
		t.Fatalf("expected merged greeting, got %#v", got)
	}
}

func TestRegistryExportsPropagateErrors(t *testing.T) {
	registry := NewHandlerRegistry()

	if err := registry.Register("", nil); !errors.Is(err, ErrHandlerRefRequired) {
		t.Fatalf("expected handler ref required error, got %v", err)
	}
	if err := registry.Register("demo.noop", nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected nil handler error, got %v", err)
	}

	if _, err := TryNewEngine(nil, nil, Dependencies{}); !errors.Is(err, ErrRegistryRequired) {
		t.Fatalf("expected registry required error, got %v", err)
	}
}

func TestConditionExports(t *testing.T) {
	data := map[string]any{"order": map[string]any{"paid": true, "total": 250.0}}

	ok, err := ConditionPath("$.order.paid").Evaluate(data)
	if err != nil || !ok {
		t.Fatalf("path condition: ok=%v err=%v", ok, err)
	}

	ok, err = ConditionPathEquals("$.order.total", 250).Evaluate(data)
	if err != nil || !ok {
		t.Fatalf("path equals condition: ok=%v err=%v", ok, err)
	}

	ok, err = ConditionScript("$.order.total > 100").Evaluate(data)
	if err != nil || !ok {
		t.Fatalf("script condition: ok=%v err=%v", ok, err)
	}

	var fn Predicate = ConditionFunc(func(data map[string]any) (bool, error) { return false, nil })
	ok, err = fn.Evaluate(data)
	if err != nil || ok {
		t.Fatalf("func condition: ok=%v err=%v", ok, err)
	}
}

func TestParseDefinitionExport(t *testing.T) {
	def, err := ParseDefinition([]byte(`
id: demo
nodes:
  - id: start
    kind: start
  - id: work
    kind: task
    handler: demo.work
  - id: end
    kind: end
flows:
  - from: start
    to: work
  - from: work
    to: end
`))
	if err != nil {
		t.Fatalf("parsing definition: %v", err)
	}
	if def.ID != "demo" {
		t.Fatalf("expected definition demo, got %q", def.ID)
	}

	_, err = ParseDefinition([]byte("id: broken\n"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}

	copied, err := DeepCopyMap(map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("deep copy alias failed: %v", err)
	}
	if copied["n"] != float64(1) {
		t.Fatalf("expected json-decoded number, got %#v", copied["n"])
	}
}

func TestIDExports(t *testing.T) {
	if NewInstanceID() == "" || NewEventID() == "" || NewFlowID() == "" {
		t.Fatal("expected non-empty generated IDs")
	}
	if NewInstanceID() == NewInstanceID() {
		t.Fatal("expected unique instance IDs")
	}
}

func TestStateConstants(t *testing.T) {
	if KindStart != "start" || KindGateway != "gateway" {
		t.Fatalf("unexpected node kind values: %q %q", KindStart, KindGateway)
	}
	if GatewayExclusive != "exclusive" || GatewayParallelJoin != "parallel_join" {
		t.Fatalf("unexpected gateway kind values: %q %q", GatewayExclusive, GatewayParallelJoin)
	}
	if TaskCompleted != "completed" || InstanceFailed != "failed" {
		t.Fatalf("unexpected state values: %q %q", TaskCompleted, InstanceFailed)
	}
	if StatusOK != "ok" || SpanTask != "procflow.task" {
		t.Fatalf("unexpected telemetry values: %q %q", StatusOK, SpanTask)
	}
}
