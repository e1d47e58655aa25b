package edge

import (
	"io"
	"log/slog"
	"testing"

	"github.com/brightwing/streamcore/internal/packet"
)

type fakeRTMPClient struct {
	audioSent [][]byte
	videoSent [][]byte
	failSend  bool
}

func (f *fakeRTMPClient) Connect() error { return nil }
func (f *fakeRTMPClient) Publish() error { return nil }
func (f *fakeRTMPClient) Close() error   { return nil }
func (f *fakeRTMPClient) SendAudio(ts uint32, data []byte) error {
	if f.failSend {
		return errFakeSend
	}
	f.audioSent = append(f.audioSent, data)
	return nil
}
func (f *fakeRTMPClient) SendVideo(ts uint32, data []byte) error {
	if f.failSend {
		return errFakeSend
	}
	f.videoSent = append(f.videoSent, data)
	return nil
}

type fakeSendError struct{ s string }

func (e *fakeSendError) Error() string { return e.s }

var errFakeSend = &fakeSendError{"send failed"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestForwarderFansOutToDestinations(t *testing.T) {
	fake := &fakeRTMPClient{}
	f := NewForwarder(discardLogger(), func(url string) (RTMPClient, error) { return fake, nil })
	if err := f.AddDestination("rtmp://origin1/live/stream1"); err != nil {
		t.Fatalf("add destination: %v", err)
	}

	p := packet.Wrap([]byte{1, 2, 3}, "live/stream1", packet.KindVideo, 0, false, false)
	f.TrySend(p)
	f.FlushAll()

	if len(fake.videoSent) != 1 {
		t.Fatalf("expected one video send, got %d", len(fake.videoSent))
	}
}

func TestForwarderDropsScriptPackets(t *testing.T) {
	fake := &fakeRTMPClient{}
	f := NewForwarder(discardLogger(), func(url string) (RTMPClient, error) { return fake, nil })
	_ = f.AddDestination("rtmp://origin1/live/stream1")

	p := packet.Wrap([]byte{1}, "live/stream1", packet.KindScript, 0, false, false)
	f.TrySend(p)
	f.FlushAll()

	if len(fake.videoSent) != 0 || len(fake.audioSent) != 0 {
		t.Fatalf("expected script packets to be dropped")
	}
}

func TestForwarderBatchFlushesAtThreshold(t *testing.T) {
	fake := &fakeRTMPClient{}
	f := NewForwarder(discardLogger(), func(url string) (RTMPClient, error) { return fake, nil })
	_ = f.AddDestination("rtmp://origin1/live/stream1")

	for i := 0; i < forwardBatchSize; i++ {
		f.TrySend(packet.Wrap([]byte{byte(i)}, "live/stream1", packet.KindAudio, uint32(i), false, false))
	}
	// No explicit FlushAll: the batch threshold itself should have flushed.
	if len(fake.audioSent) != forwardBatchSize {
		t.Fatalf("expected automatic flush at batch size %d, got %d sent", forwardBatchSize, len(fake.audioSent))
	}
}

func TestForwarderRejectsNonRTMPScheme(t *testing.T) {
	_, err := NewDestination("http://origin1/live/stream1", discardLogger(), func(url string) (RTMPClient, error) { return nil, nil })
	if err == nil {
		t.Fatalf("expected an error for a non-rtmp destination URL")
	}
}
