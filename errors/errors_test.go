package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{
			name: "phase and kind only",
			err:  &Error{Phase: PhaseWorker, Kind: KindQueueRejected},
			want: []string{"[worker]", "queue_rejected"},
		},
		{
			name: "with detail",
			err:  InvalidState(PhaseLifecycle, "Created", "Initialized"),
			want: []string{"[lifecycle]", "invalid_state", "state is Created"},
		},
		{
			name: "with guest text",
			err:  GuestException(PhaseCall, "update", "Null access", nil),
			want: []string{"guest_exception", `"update"`, "guest: Null access"},
		},
		{
			name: "with cause",
			err:  Load("parse bytecode", fmt.Errorf("truncated")),
			want: []string{"[load]", "caused by: truncated"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Error() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := WorkerNotRunning(PhaseCall)

	if !stderrors.Is(err, &Error{Phase: PhaseCall, Kind: KindWorkerNotRunning}) {
		t.Error("expected Is to match on phase+kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseCall, Kind: KindQueueRejected}) {
		t.Error("expected Is to reject different kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseWorker, Kind: KindWorkerNotRunning}) {
		t.Error("expected Is to reject different phase")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := New(PhasePump, KindGuestException).Cause(cause).Detail("poll %s", "timers").Build()

	if !stderrors.Is(err, cause) {
		t.Error("expected Unwrap chain to reach cause")
	}
	if err.Detail != "poll timers" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestIsKind(t *testing.T) {
	if !IsKind(QueueRejected("full"), KindQueueRejected) {
		t.Error("expected IsKind true for matching kind")
	}
	if IsKind(fmt.Errorf("plain"), KindQueueRejected) {
		t.Error("expected IsKind false for non-structured error")
	}
	if IsKind(nil, KindQueueRejected) {
		t.Error("expected IsKind false for nil")
	}
}
