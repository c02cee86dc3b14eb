package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"

	procflow "github.com/drblury/procflow"
)

// demoDescriptions maps the built-in handler refs to one-line descriptions
// for the handlers command.
var demoDescriptions = map[string]string{
	"demo.echo":  "print the node and the data context keys",
	"demo.set":   "write <node_id>_done=true into the data context",
	"demo.sleep": "sleep for sleep_ms milliseconds (default 100)",
	"demo.fail":  "fail with fail_message from the data context",
}

// demoRegistry returns the built-in handlers, enough to run the bundled
// example definitions without writing any Go.
func demoRegistry() *procflow.HandlerRegistry {
	reg := procflow.NewHandlerRegistry()
	reg.MustRegister("demo.echo", procflow.HandlerFunc(demoEcho))
	reg.MustRegister("demo.set", procflow.HandlerFunc(demoSet))
	reg.MustRegister("demo.sleep", procflow.HandlerFunc(demoSleep))
	reg.MustRegister("demo.fail", procflow.HandlerFunc(demoFail))
	return reg
}

func demoEcho(ctx context.Context, view procflow.ContextView, meta procflow.TaskMeta) (map[string]any, error) {
	fmt.Printf("%s %s: context keys %v\n", color.CyanString("echo"), meta.NodeID, view.Keys())
	return nil, nil
}

func demoSet(ctx context.Context, view procflow.ContextView, meta procflow.TaskMeta) (map[string]any, error) {
	return map[string]any{meta.NodeID + "_done": true}, nil
}

func demoSleep(ctx context.Context, view procflow.ContextView, meta procflow.TaskMeta) (map[string]any, error) {
	delay := 100 * time.Millisecond
	if raw, ok := view.Get("sleep_ms"); ok {
		if ms, valid := toMillis(raw); valid {
			delay = ms
		}
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{meta.NodeID + "_slept_ms": delay.Milliseconds()}, nil
}

func demoFail(ctx context.Context, view procflow.ContextView, meta procflow.TaskMeta) (map[string]any, error) {
	msg := "demo failure"
	if custom, ok := view.GetString("fail_message"); ok && custom != "" {
		msg = custom
	}
	return nil, errors.New(msg)
}

// toMillis accepts the numeric types a JSON or YAML data context can carry.
func toMillis(raw any) (time.Duration, bool) {
	switch v := raw.(type) {
	case float64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case int64:
		return time.Duration(v) * time.Millisecond, true
	default:
		return 0, false
	}
}
