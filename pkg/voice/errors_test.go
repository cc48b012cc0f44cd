package voice

import (
	"errors"
	"testing"
)

func TestError_WrapsAndClassifies(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewFatalError("session.start", "remote dial", cause)

	if !errors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	if !err.Fatal() {
		t.Error("fatal error not fatal")
	}
	if got := err.Error(); got != "session.start: remote dial: connection refused" {
		t.Errorf("Error() = %q", got)
	}

	degraded := NewDegradedError("capture", "stream lost", nil)
	if degraded.Fatal() {
		t.Error("degraded error reported fatal")
	}
	if got := degraded.Error(); got != "capture: stream lost" {
		t.Errorf("Error() without cause = %q", got)
	}

	if NewBestEffortError("persist", "upload", nil).Kind != KindBestEffort {
		t.Error("wrong kind")
	}
}
