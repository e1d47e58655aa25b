package server

import (
	"testing"

	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/posthook"
	"github.com/brightwing/streamcore/internal/rtmp/amf"
	"github.com/brightwing/streamcore/internal/rtmp/chunk"
	"github.com/brightwing/streamcore/internal/rtmp/rpc"
)

// stubConn captures the last message sent; it mimics the subset of the
// connection we need (SendMessage). SendMessage always succeeds.
type stubConn struct{ last *chunk.Message }

func (s *stubConn) SendMessage(m *chunk.Message) error { s.last = m; return nil }

// buildPublishMessage builds a minimal AMF0 publish command message for tests.
func buildPublishMessage(streamName string) *chunk.Message {
	payload, _ := amf.EncodeAll("publish", float64(0), nil, streamName, "live")
	return &chunk.Message{TypeID: rpc.CommandMessageAMF0TypeIDForTest(), Payload: payload, MessageLength: uint32(len(payload)), MessageStreamID: 1}
}

func TestHandlePublishSuccess(t *testing.T) {
	reg := livesource.NewRegistry()
	tokens := livesource.NewPublishTokens()
	sc := &stubConn{}
	msg := buildPublishMessage("testStream")

	onStatus, source, err := HandlePublish(reg, tokens, nil, "c1", sc, "app", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if onStatus == nil || sc.last == nil {
		t.Fatalf("expected onStatus message to be sent")
	}
	if source == nil || !source.IsPublishing() {
		t.Fatalf("expected source to be marked publishing")
	}
	if got := reg.Get("app/testStream"); got != source {
		t.Fatalf("expected registry to hold the same source")
	}

	vals, err := amf.DecodeAll(onStatus.Payload)
	if err != nil {
		t.Fatalf("decode onStatus: %v", err)
	}
	if len(vals) < 4 {
		t.Fatalf("expected >=4 AMF values, got %d", len(vals))
	}
	if vals[0] != "onStatus" {
		t.Fatalf("expected command name onStatus, got %v", vals[0])
	}
	info, _ := vals[3].(map[string]interface{})
	if info["code"] != "NetStream.Publish.Start" {
		t.Fatalf("unexpected status code: %v", info["code"])
	}
}

func TestHandlePublishDuplicate(t *testing.T) {
	reg := livesource.NewRegistry()
	tokens := livesource.NewPublishTokens()
	first := &stubConn{}
	second := &stubConn{}
	msg := buildPublishMessage("dup")
	if _, _, err := HandlePublish(reg, tokens, nil, "c1", first, "app", msg); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if _, _, err := HandlePublish(reg, tokens, nil, "c2", second, "app", msg); err == nil {
		t.Fatalf("expected duplicate publish error")
	}
}

func TestPublisherDisconnected(t *testing.T) {
	reg := livesource.NewRegistry()
	tokens := livesource.NewPublishTokens()
	sc := &stubConn{}
	msg := buildPublishMessage("gone")
	if _, _, err := HandlePublish(reg, tokens, nil, "c1", sc, "app", msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	PublisherDisconnected(reg, tokens, nil, "c1", "app/gone")
	if source := reg.Get("app/gone"); source == nil || source.IsPublishing() {
		t.Fatalf("expected publisher cleared on disconnect")
	}
	if tokens.Held("app/gone") {
		t.Fatalf("expected publish token released")
	}
}

func TestPublisherDisconnectedFiresPosthook(t *testing.T) {
	reg := livesource.NewRegistry()
	tokens := livesource.NewPublishTokens()
	hooks := posthook.NewManager(posthook.DefaultConfig(), nil)
	defer hooks.Close()

	sc := &stubConn{}
	msg := buildPublishMessage("hooked")
	if _, _, err := HandlePublish(reg, tokens, hooks, "c1", sc, "app", msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	PublisherDisconnected(reg, tokens, hooks, "c1", "app/hooked")
}
