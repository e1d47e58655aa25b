// Package gb28181 implements the GB28181 PS-over-RTP media ingest session
// (spec.md §4.8): an SSRC-bound Session that demuxes the PS stream into
// FLV-tag-shaped packets and publishes them into a live source, and the
// RFC 4571-framed TCP connection that feeds it. Grounded on
// original_source/srs_app_gb28181.cpp (SrsGbSession, SrsGbMediaTcpConn).
package gb28181

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/brightwing/streamcore/internal/framebuilder"
	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/ps"
	"github.com/brightwing/streamcore/internal/rtp"
)

// SessionState mirrors SrsGbSessionState.
type SessionState int

const (
	StateInit SessionState = iota
	StateConnecting
	StateEstablished
)

func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	default:
		return "invalid"
	}
}

// Stats mirrors the periodic trace counters SrsPsRtpListener logs
// (total_packs_, media_recovered_) — exposed for a caller to poll, not
// pushed to any exporter (spec.md excludes metrics exporters).
type Stats struct {
	TotalPacks     uint64
	MediaRecovered uint64
	RTCPDropped    uint64
}

// Sink receives a demuxed media packet. Normally
// internal/livesource.Source.Publish, kept as a function type to avoid an
// import cycle with internal/livesource.
type Sink func(p *packet.Packet)

// Session is one GB28181 device's media session, bound to its SSRC once
// the first RTP packet arrives on a MediaConn. One Session maps 1:1 to one
// stream key's live source.
type Session struct {
	StreamKey  string
	VideoCodec rtp.Codec

	mu      sync.Mutex
	state   SessionState
	ssrc    uint32
	builder *framebuilder.TSBuilder
	sink    Sink
	logger  *slog.Logger

	totalPacks     atomic.Uint64
	mediaRecovered atomic.Uint64
	rtcpDropped    atomic.Uint64
}

func NewSession(streamKey string, videoCodec rtp.Codec, sink Sink, logger *slog.Logger) *Session {
	return &Session{
		StreamKey:  streamKey,
		VideoCodec: videoCodec,
		state:      StateInit,
		builder:    framebuilder.NewTSBuilder(videoCodec),
		sink:       sink,
		logger:     logger.With("component", "gb28181_session", "stream_key", streamKey),
	}
}

// BindSSRC associates this session with the SSRC observed on its media
// transport. Only the first bind takes effect; mirrors SrsGbSession's
// one-media-transport-per-session design.
func (s *Session) BindSSRC(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInit {
		s.ssrc = ssrc
		s.state = StateConnecting
	}
}

func (s *Session) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnPackMessages implements ps.Handler: a demuxed pack's PES messages are
// run through the TSBuilder and the resulting FLV-shaped packets are
// published to the sink. The session transitions to Established on the
// first successfully handled pack.
//
// Video PES messages within the pack are merged into a single access unit
// before being built: internal/ps.Context caps each PES payload at 16 bits
// (the PES packet_length field), which GB28181 H.264 keyframes routinely
// exceed, so a single video frame commonly arrives as several consecutive
// PES messages inside one pack rather than one. Audio frames are small
// enough to stay within a PES payload, so they're built one message at a
// time as before.
func (s *Session) OnPackMessages(pack ps.Pack, msgs []*ps.Message) error {
	s.totalPacks.Add(1)
	s.mu.Lock()
	if s.state != StateEstablished {
		s.state = StateEstablished
		s.logger.Info("gb28181 session established", "ssrc", s.ssrc)
	}
	s.mu.Unlock()

	if video := mergeVideoMessages(msgs); video != nil {
		pkts, err := s.builder.BuildVideoTag(video, s.StreamKey)
		if err != nil {
			s.logger.Debug("gb28181 dropped unbuildable PES message", "kind", ps.KindVideo, "error", err)
		} else {
			for _, p := range pkts {
				s.sink(p)
			}
		}
	}

	for _, msg := range msgs {
		if msg.Kind != ps.KindAudio {
			continue
		}
		pkts, err := s.builder.BuildAudioTag(msg, s.StreamKey)
		if err != nil {
			s.logger.Debug("gb28181 dropped unbuildable PES message", "kind", ps.KindAudio, "error", err)
			continue
		}
		for _, p := range pkts {
			s.sink(p)
		}
	}
	return nil
}

// mergeVideoMessages concatenates every video PES payload in a pack, in
// order, into one Annex-B buffer carrying the first video message's
// timestamps (PTS/DTS are sticky within a pack per internal/ps's decode
// rule, so every video PES in the pack shares the same access unit's
// timing). Returns nil if the pack carried no video.
func mergeVideoMessages(msgs []*ps.Message) *ps.Message {
	var merged *ps.Message
	for _, m := range msgs {
		if m.Kind != ps.KindVideo {
			continue
		}
		if merged == nil {
			merged = &ps.Message{
				Kind:     ps.KindVideo,
				StreamID: m.StreamID,
				DTS:      m.DTS,
				PTS:      m.PTS,
				Payload:  append([]byte(nil), m.Payload...),
			}
			continue
		}
		merged.Payload = append(merged.Payload, m.Payload...)
	}
	return merged
}

// OnRecoverMode implements ps.Handler.
func (s *Session) OnRecoverMode(attempt int) {
	s.mediaRecovered.Add(1)
	s.logger.Warn("gb28181 PS resync", "attempt", attempt)
}

func (s *Session) Stats() Stats {
	return Stats{
		TotalPacks:     s.totalPacks.Load(),
		MediaRecovered: s.mediaRecovered.Load(),
		RTCPDropped:    s.rtcpDropped.Load(),
	}
}

func (s *Session) dropRTCP() { s.rtcpDropped.Add(1) }
