package packet

import (
	"bytes"
	"testing"
)

func TestWrapCopiesPayload(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	p := Wrap(data, "live/test", KindVideo, 1000, false, false)
	data[0] = 0xFF

	if !bytes.Equal(p.Payload, []byte{1, 2, 3, 4}) {
		t.Fatalf("wrap did not copy: got %v", p.Payload)
	}
}

func TestCloneIndependence(t *testing.T) {
	p := Wrap([]byte{9, 9, 9}, "live/test", KindAudio, 0, true, false)
	c := p.Clone()
	c.Payload[0] = 0

	if p.Payload[0] != 9 {
		t.Fatalf("clone mutation leaked into original")
	}
	if !c.SequenceHeader {
		t.Fatalf("clone should preserve SequenceHeader flag")
	}
}

func TestRetainRelease(t *testing.T) {
	p := Wrap([]byte{1}, "s", KindVideo, 0, false, false)
	p.Retain()
	if p.Release() {
		t.Fatalf("first release should not report last reference")
	}
	if !p.Release() {
		t.Fatalf("second release should report last reference")
	}
}
