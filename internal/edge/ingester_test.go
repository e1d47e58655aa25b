package edge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/rtmp/amf"
)

type fakeUpstreamClient struct {
	messages []*UpstreamMessage
	pos      int
	closed   bool
}

func (f *fakeUpstreamClient) Connect() error { return nil }
func (f *fakeUpstreamClient) Play() error    { return nil }
func (f *fakeUpstreamClient) Close() error   { f.closed = true; return nil }
func (f *fakeUpstreamClient) ReadMessage() (*UpstreamMessage, error) {
	if f.pos >= len(f.messages) {
		return nil, errors.New("eof")
	}
	m := f.messages[f.pos]
	f.pos++
	return m, nil
}

func TestIngesterForwardsVideoAndAudio(t *testing.T) {
	fake := &fakeUpstreamClient{
		messages: []*UpstreamMessage{
			{TypeID: 9, Timestamp: 0, Payload: []byte{0x17, 0x00, 0, 0, 0, 0x67, 0x42, 0x00, 0x1E}}, // AVC seq header
			{TypeID: 9, Timestamp: 33, Payload: []byte{0x17, 0x01, 0, 0, 0, 0x65, 0xAA}},             // keyframe NALU
			{TypeID: 8, Timestamp: 0, Payload: []byte{0xAF, 0x00, 0x12, 0x10}},                       // AAC seq header
		},
	}

	var received []*packet.Packet
	sink := func(p *packet.Packet) { received = append(received, p) }

	in := NewIngester("live/stream1", []string{"origin1:1935"}, ProtocolRTMP, func(tcURL string) (UpstreamClient, error) {
		return fake, nil
	}, sink, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = in.pullOnce(ctx, "origin1:1935")

	if len(received) != 3 {
		t.Fatalf("expected 3 forwarded packets, got %d", len(received))
	}
	if !received[0].SequenceHeader {
		t.Fatalf("expected first video packet to be marked as sequence header")
	}
	if !received[1].Keyframe {
		t.Fatalf("expected second video packet to be marked keyframe")
	}
	if !received[2].SequenceHeader || received[2].Kind != packet.KindAudio {
		t.Fatalf("expected third packet to be the AAC sequence header")
	}
}

func TestIngesterSkipsUnparseableMessages(t *testing.T) {
	fake := &fakeUpstreamClient{
		messages: []*UpstreamMessage{
			{TypeID: 9, Timestamp: 0, Payload: nil}, // empty, unparseable
			{TypeID: 18, Timestamp: 0, Payload: []byte{1, 2, 3}}, // script/control, not media
		},
	}
	var received []*packet.Packet
	sink := func(p *packet.Packet) { received = append(received, p) }

	in := NewIngester("live/stream1", []string{"origin1:1935"}, ProtocolRTMP, func(tcURL string) (UpstreamClient, error) {
		return fake, nil
	}, sink, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = in.pullOnce(ctx, "origin1:1935")

	if len(received) != 0 {
		t.Fatalf("expected no packets forwarded, got %d", len(received))
	}
}

func TestIngesterSetsRedirectFromOnStatusCommand(t *testing.T) {
	redirectPayload, err := amf.EncodeAll("onStatus", float64(0), nil, map[string]interface{}{
		"level": "error",
		"code":  "NetConnection.Connect.Rejected",
		"ex": map[string]interface{}{
			"redirect": "backup.example.com:1935",
		},
	})
	if err != nil {
		t.Fatalf("encode redirect command: %v", err)
	}

	fake := &fakeUpstreamClient{
		messages: []*UpstreamMessage{
			{TypeID: commandMessageTypeID, Payload: redirectPayload},
		},
	}

	var dialed []string
	in := NewIngester("live/stream1", []string{"origin1:1935"}, ProtocolRTMP, func(tcURL string) (UpstreamClient, error) {
		dialed = append(dialed, tcURL)
		return fake, nil
	}, func(p *packet.Packet) {}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := in.pullOnce(ctx, "origin1:1935"); !errors.Is(err, errUpstreamRedirect) {
		t.Fatalf("expected errUpstreamRedirect, got %v", err)
	}
	if in.redirect != "backup.example.com:1935" {
		t.Fatalf("expected redirect to be recorded, got %q", in.redirect)
	}

	// A second pull against the same round-robin origin dials the redirect host.
	_ = in.pullOnce(ctx, "origin1:1935")
	target := dialed[len(dialed)-1]
	if target != "rtmp://backup.example.com:1935/live/stream1" {
		t.Fatalf("expected subsequent pulls to target the redirect host, got %q", target)
	}
}

func TestIngesterURLForHTTPFLVProtocol(t *testing.T) {
	in := NewIngester("live/stream1", []string{"origin1:8080"}, ProtocolHTTPFLV, nil, nil, discardLogger())
	got := in.urlFor("origin1:8080")
	want := "http://origin1:8080/live/stream1.flv"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
