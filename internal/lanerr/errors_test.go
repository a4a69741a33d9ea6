package lanerr

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTimeout, "timeout"},
		{KindIO, "io error"},
		{KindProtocolMismatch, "protocol mismatch"},
		{KindOutOfRange, "out of range"},
		{KindDeviceUnreachable, "device unreachable"},
		{KindBusy, "busy"},
		{KindStopped, "stopped"},
		{Kind(99), "Kind(99)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestIs_MatchesSentinelThroughWrapping(t *testing.T) {
	timeout := Timeout("request", "10.0.0.7:56700")
	wrapped := fmt.Errorf("label fetch: %w", timeout)

	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("wrapped timeout should match ErrTimeout")
	}
	if errors.Is(wrapped, ErrIO) {
		t.Error("timeout should not match ErrIO")
	}
	if !IsTimeout(wrapped) {
		t.Error("IsTimeout() = false")
	}
}

func TestUnreachable_KeepsCause(t *testing.T) {
	cause := Timeout("set-color", "10.0.0.7:56700")
	err := Unreachable("set-color-and-power", "d073d5001337", cause)

	if !IsDeviceUnreachable(err) {
		t.Error("IsDeviceUnreachable() = false")
	}
	if !IsTimeout(err) {
		t.Error("composite should still expose the timeout cause")
	}
	if !IsRetryable(err) {
		t.Error("composite of a retryable cause should be retryable")
	}
	if KindOf(err) != KindDeviceUnreachable {
		t.Errorf("KindOf() = %v", KindOf(err))
	}
	if !strings.Contains(err.Error(), "d073d5001337") {
		t.Errorf("Error() = %q, want device id", err.Error())
	}
}

func TestUnreachable_MismatchNotRetryable(t *testing.T) {
	err := Unreachable("set-power", "d073d5001337", Mismatch("request", "", "Acknowledgement", "StateLabel"))
	if IsRetryable(err) {
		t.Error("mismatch composite should not be retryable")
	}
}

func TestOutOfRange(t *testing.T) {
	err := OutOfRange(5, 3)
	if !IsOutOfRange(err) {
		t.Error("IsOutOfRange() = false")
	}
	if IsRetryable(err) {
		t.Error("out of range should not be retryable")
	}
	if !strings.Contains(err.Error(), "index 5") {
		t.Errorf("Error() = %q", err.Error())
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyIOError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retryable bool
	}{
		{"nil", nil, KindUnknown, false},
		{"timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindTimeout, true},
		{"deadline", os.ErrDeadlineExceeded, KindTimeout, true},
		{"closed", fmt.Errorf("read: %w", net.ErrClosed), KindStopped, false},
		{"unreachable", &net.OpError{Op: "write", Err: syscall.EHOSTUNREACH}, KindIO, true},
		{"permission", &net.OpError{Op: "write", Err: syscall.EACCES}, KindIO, false},
		{"generic", errors.New("boom"), KindIO, true},
		{"already classified", OutOfRange(1, 0), KindOutOfRange, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyIOError("send", "10.0.0.1:56700", tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("ClassifyIOError(nil) = %v", got)
				}
				return
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
		})
	}
}

func TestIsRetryable_Unclassified(t *testing.T) {
	if IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors should not be retryable")
	}
}
