package httplive

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/packet"
)

func TestParseLivePath(t *testing.T) {
	cases := []struct {
		path      string
		streamKey string
		ext       string
		ok        bool
	}{
		{"/live/teststream.flv", "live/teststream", ".flv", true},
		{"/live/teststream.ts", "live/teststream", ".ts", true},
		{"/a/b/c.aac", "a/b/c", ".aac", true},
		{"/live/teststream.mp4", "", "", false},
		{"/.flv", "", "", false},
	}
	for _, tc := range cases {
		key, ext, ok := parseLivePath(tc.path)
		if ok != tc.ok || key != tc.streamKey || ext != tc.ext {
			t.Errorf("parseLivePath(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.path, key, ext, ok, tc.streamKey, tc.ext, tc.ok)
		}
	}
}

func TestServeHTTPFLVHeaderAudioOnly(t *testing.T) {
	registry := livesource.NewRegistry()
	h := NewHandler(registry, nil, Config{GuessHasAV: true, MWSleep: 5 * time.Millisecond}, nil, nil)

	src, _ := registry.FetchOrCreate("live/s")
	src.OnPublish()
	src.Publish(packet.Wrap([]byte{0xAF, 0x00, 0x12, 0x34}, "live/s", packet.KindAudio, 0, true, false))
	src.Publish(packet.Wrap([]byte{0xAF, 0x01, 0xDE, 0xAD}, "live/s", packet.KindAudio, 10, false, false))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/live/s.flv", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()
	// No new packets arrive after the initial GOP dump; cancel the request
	// context shortly after to simulate the viewer disconnecting, same as
	// ServeHTTP would observe from a real client closing its connection.
	time.AfterFunc(50*time.Millisecond, cancel)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP did not return")
	}

	body := rec.Body.Bytes()
	if len(body) < 13 {
		t.Fatalf("expected at least a 13-byte FLV header, got %d bytes", len(body))
	}
	if string(body[:3]) != "FLV" {
		t.Fatalf("bad FLV signature: %q", body[:3])
	}
	if body[4] != 0x04 {
		t.Fatalf("expected audio-only flags 0x04, got 0x%02x", body[4])
	}
	tagStart := 13
	if body[tagStart] != 8 {
		t.Fatalf("expected first tag to be an audio tag, got type %d", body[tagStart])
	}
	payloadStart := tagStart + 11
	if body[payloadStart] != 0xAF || body[payloadStart+1] != 0x00 {
		t.Fatalf("expected AAC sequence header bytes AF 00, got %02x %02x", body[payloadStart], body[payloadStart+1])
	}
}

func TestAttachRefusesDisposingEntry(t *testing.T) {
	registry := livesource.NewRegistry()
	h := NewHandler(registry, nil, Config{}, nil, nil)

	e, err := h.attach("live/s", "/live/s.flv")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	e.mu.Lock()
	e.disposing = true
	e.mu.Unlock()

	if _, err := h.attach("live/s", "/live/s.flv"); err == nil {
		t.Fatal("expected attach to refuse a disposing entry")
	}
}

func TestDestroyEntryExpiresViewers(t *testing.T) {
	registry := livesource.NewRegistry()
	h := NewHandler(registry, nil, Config{}, nil, nil)

	e, _ := h.attach("live/s", "/live/s.flv")
	v := newViewer()
	e.addViewer(v)

	// A real ServeHTTP loop removes its viewer as soon as it observes
	// expire(); simulate that here so destroyEntry's drain wait returns
	// immediately instead of blocking for its full 3s timeout.
	go func() {
		<-v.expireCh
		e.removeViewer(v)
	}()

	h.destroyEntry("live/s")

	select {
	case <-v.expireCh:
	default:
		t.Fatal("expected viewer to be expired by destroyEntry")
	}
	if e.Enabled() {
		t.Fatal("expected entry to be disabled after destroy")
	}
	h.mu.Lock()
	_, exists := h.entries["live/s"]
	h.mu.Unlock()
	if exists {
		t.Fatal("expected entry to be removed from the handler's map")
	}
}
