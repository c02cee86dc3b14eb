package errors

import (
	sterrors "errors"
	"strings"
	"testing"
	"time"
)

func TestHandlerExecutionErrorUnwrap(t *testing.T) {
	cause := sterrors.New("boom")
	err := &HandlerExecutionError{NodeID: "charge", HandlerRef: "billing.charge", Err: cause}

	if !sterrors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if !strings.Contains(err.Error(), "billing.charge") {
		t.Errorf("message should name the handler ref, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "charge") {
		t.Errorf("message should name the node, got %q", err.Error())
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{NodeID: "slow", Timeout: 250 * time.Millisecond}
	if !strings.Contains(err.Error(), "250ms") {
		t.Errorf("message should include the timeout, got %q", err.Error())
	}
}

func TestStuckErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     *StuckError
		wantSub string
	}{
		{
			name:    "no waiting tasks",
			err:     &StuckError{InstanceID: "01ABC"},
			wantSub: "cannot make progress",
		},
		{
			name:    "waiting tasks listed",
			err:     &StuckError{InstanceID: "01ABC", Waiting: []string{"join", "late"}},
			wantSub: "join, late",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.err.Error(), tt.wantSub) {
				t.Errorf("got %q, want substring %q", tt.err.Error(), tt.wantSub)
			}
		})
	}
}

func TestConditionErrorUnwrap(t *testing.T) {
	cause := sterrors.New("bad path")
	err := &ConditionError{FlowID: "f1", Err: cause}
	if !sterrors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}
