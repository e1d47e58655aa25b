package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestControlErrorCodeRoundTrip(t *testing.T) {
	err := NewControlError("play.redirect", ErrorControlRedirect, nil)
	if Code(err) != ErrorControlRedirect {
		t.Fatalf("expected code %d, got %d", ErrorControlRedirect, Code(err))
	}
	var ce *ControlError
	if !stdErrors.As(err, &ce) {
		t.Fatalf("expected errors.As to *ControlError")
	}
}

func TestResourceErrorWrapsCause(t *testing.T) {
	cause := stdErrors.New("token held")
	err := NewResourceError("publish.acquire", ErrorSystemStreamBusy, cause)
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach cause")
	}
	if Code(err) != ErrorSystemStreamBusy {
		t.Fatalf("unexpected code: %d", Code(err))
	}
}

func TestPSErrorCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("demux: %w", NewPSError("ps.header", ErrorGBPSHeader, nil))
	if Code(err) != ErrorGBPSHeader {
		t.Fatalf("expected code to survive fmt.Errorf wrapping, got %d", Code(err))
	}
}

func TestCodeReturnsZeroForUncoded(t *testing.T) {
	if Code(nil) != 0 {
		t.Fatalf("expected 0 for nil error")
	}
	if Code(stdErrors.New("plain")) != 0 {
		t.Fatalf("expected 0 for a plain error")
	}
	if Code(NewChunkError("op", nil)) != 0 {
		t.Fatalf("expected 0 for a ChunkError (no Code method)")
	}
}
