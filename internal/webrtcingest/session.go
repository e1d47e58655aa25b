package webrtcingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/posthook"
	"github.com/brightwing/streamcore/internal/rtp"
)

// session is one WHIP publish: a PeerConnection, the livesource.Source it
// feeds, and the per-track depacketization pipelines. Lifecycle mirrors
// gtfodev-camsRelay's Bridge (ctx/cancel, wg.Wait on Close) but runs in the
// receive direction: tracks arrive via OnTrack instead of being added by
// the caller.
type session struct {
	id        string
	streamKey string

	pc     *webrtc.PeerConnection
	source *livesource.Source
	tokens *livesource.PublishTokens
	hooks  *posthook.Manager
	logger *slog.Logger
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func newSession(id, streamKey string, pc *webrtc.PeerConnection, source *livesource.Source, tokens *livesource.PublishTokens, hooks *posthook.Manager, cfg Config, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        id,
		streamKey: streamKey,
		pc:        pc,
		source:    source,
		tokens:    tokens,
		hooks:     hooks,
		logger:    logger.With("component", "webrtcingest", "session_id", id, "stream_key", streamKey),
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// wire installs the OnTrack/OnConnectionStateChange callbacks. Must be
// called before SetRemoteDescription so no track arrives unobserved.
func (s *session) wire() {
	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.close()
		}
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.handleTrack(track, receiver)
	})
}

func (s *session) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	s.logger.Info("track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType, "ssrc", track.SSRC())

	s.source.OnPublish()
	s.hooks.TriggerEvent(*posthook.NewEvent(posthook.EventPublishStart).
		WithStreamKey(s.streamKey).WithConnID(s.id).
		WithData("codec", track.Codec().MimeType))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drainRTCP(receiver, track.Kind().String())
	}()

	if track.Kind() == webrtc.RTPCodecTypeVideo && s.cfg.keyFrameInterval() > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.requestKeyFrames(track.SSRC())
		}()
	}

	switch track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		s.runVideo(track)
	case webrtc.RTPCodecTypeAudio:
		s.runAudio(track)
	}
}

func (s *session) runVideo(track *webrtc.TrackRemote) {
	codec := rtp.CodecH264
	if track.Codec().MimeType == "video/H265" {
		codec = rtp.CodecHEVC
	}
	pipeline := newVideoPipeline(codec, s.streamKey)

	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("video track read error", "error", err)
			}
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		pkts, err := pipeline.handleRTP(raw)
		if err != nil {
			s.logger.Warn("video depacketize error", "error", err)
			continue
		}
		for _, p := range pkts {
			s.source.Publish(p)
		}
	}
}

func (s *session) runAudio(track *webrtc.TrackRemote) {
	pipeline := newAudioPipeline(s.streamKey)

	buf := make([]byte, 1500)
	var hdr pionrtp.Packet
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("audio track read error", "error", err)
			}
			return
		}
		if err := hdr.Unmarshal(buf[:n]); err != nil {
			s.logger.Warn("audio rtp unmarshal error", "error", err)
			continue
		}

		pkts, err := pipeline.handleRTP(rtpHeader{Timestamp: hdr.Timestamp}, hdr.Payload)
		if err != nil {
			s.logger.Warn("audio tag build error", "error", err)
			continue
		}
		for _, p := range pkts {
			s.source.Publish(p)
		}
	}
}

// drainRTCP keeps reading (and discarding, beyond logging) RTCP packets
// off receiver so pion's interceptor chain doesn't stall waiting for a
// reader, the same requirement other_examples' mediamtx incoming_track.go
// documents for its own receiver.Read loop.
func (s *session) drainRTCP(receiver *webrtc.RTPReceiver, trackKind string) {
	for {
		pkts, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			switch v := p.(type) {
			case *rtcp.ReceiverReport:
				s.logger.Debug("rtcp receiver report", "track", trackKind, "ssrc", v.SSRC)
			default:
			}
		}
		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

// requestKeyFrames sends a PictureLossIndication to the publisher on a
// fixed interval so a viewer joining mid-stream isn't stuck waiting for
// whatever keyframe cadence the browser encoder happened to pick.
// Grounded on other_examples' mediamtx incoming_track.go keyFrameInterval
// ticker (reference only — not a teacher); the RTCP type itself is the
// same rtcp.PictureLossIndication gtfodev-camsRelay's readRTCP logs.
func (s *session) requestKeyFrames(ssrc webrtc.SSRC) {
	ticker := time.NewTicker(s.cfg.keyFrameInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.source.OnUnpublish()
		s.tokens.Release(s.streamKey)
		s.hooks.TriggerEvent(*posthook.NewEvent(posthook.EventPublishStop).
			WithStreamKey(s.streamKey).WithConnID(s.id))
		if err := s.pc.Close(); err != nil {
			s.logger.Warn("error closing peer connection", "error", err)
		}
		s.wg.Wait()
	})
}
