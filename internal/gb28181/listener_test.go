package gb28181

import (
	"net"
	"testing"
	"time"

	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/rtp"
)

func TestListenerAcceptsAndDispatchesToSession(t *testing.T) {
	registry := NewRegistry()
	var received []*packet.Packet
	sink := func(p *packet.Packet) { received = append(received, p) }
	session := NewSession("gb/device1", rtp.CodecH264, sink, discardLogger())
	registry.Register(7, session)

	ln := NewListener("127.0.0.1:0", registry, discardLogger())
	if err := ln.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ln.Stop()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data := append(buildPackHeader(), buildPES(0xC0, []byte{0xFF, 0xF1, 0x4C, 0x80, 0x00, 0x1F, 0xFC})...)
	rtpPkt := rtpPacket(1, 1000, 7, data)
	if _, err := conn.Write(rfc4571Frame(rtpPkt)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if session.Stats().TotalPacks == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected the session to receive one pack, stats=%+v", session.Stats())
}
