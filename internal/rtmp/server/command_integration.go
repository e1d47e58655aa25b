package server

// Command Integration
// --------------------
// Bridges the lower-level connection (handshake + control + chunking
// read/write loops) with RPC command parsing/handlers and media forwarding
// so real RTMP clients (OBS / ffmpeg) can publish and play through this
// server. Media forwarding now goes through internal/livesource.Source
// instead of a per-connection broadcast loop: publish converts each
// incoming audio/video/script message to a packet.Packet (packetconv.go)
// and hands it to the stream's Source; play registers a connConsumer with
// the Source, which itself replays cached sequence headers and the current
// GOP to fast-start the new subscriber.

import (
	"fmt"
	"log/slog"
	"time"

	pkgedge "github.com/brightwing/streamcore/internal/edge"
	rtmperrors "github.com/brightwing/streamcore/internal/errors"
	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/posthook"
	"github.com/brightwing/streamcore/internal/rtmp/chunk"
	iconn "github.com/brightwing/streamcore/internal/rtmp/conn"
	"github.com/brightwing/streamcore/internal/rtmp/control"
	"github.com/brightwing/streamcore/internal/rtmp/media"
	"github.com/brightwing/streamcore/internal/rtmp/rpc"
)

// commandState holds mutable per-connection fields needed by handlers.
type commandState struct {
	app         string
	vhost       string // resolved from the connect command's tcUrl
	pageURL     string // connect command's pageUrl, for referer checks
	streamKey   string // current publish/play stream key, once known
	allocator   *rpc.StreamIDAllocator
	mediaLogger *MediaLogger

	source   *livesource.Source // set once this connection is publishing
	consumer *connConsumer      // set once this connection is playing

	watchdogStop chan struct{} // closed to stop the idle-kickoff watchdog
}

// attachCommandHandling installs a dispatcher-backed message handler on the
// provided connection. Safe to call immediately after Accept returns. It
// returns a cleanup function the caller must invoke once when the
// connection closes (releasing any publish token held and unregistering
// any playback consumer) — wrap it alongside any connection-map bookkeeping
// via Connection.SetCloseHandler.
func attachCommandHandling(c *iconn.Connection, registry *livesource.Registry, tokens *livesource.PublishTokens, recorders *recorderRegistry, hooks *posthook.Manager, forwarder livesource.Consumer, edge *edgeManager, cfg *Config, log *slog.Logger) func() {
	if c == nil || registry == nil || tokens == nil || cfg == nil {
		return func() {}
	}
	st := &commandState{
		allocator:   rpc.NewStreamIDAllocator(),
		mediaLogger: NewMediaLogger(c.ID(), log, 30*time.Second),
	}

	d := rpc.NewDispatcher(func() string { return st.app })

	d.OnConnect = func(cc *rpc.ConnectCommand, msg *chunk.Message) error {
		log.Debug("OnConnect handler invoked", "app", cc.App, "tcUrl", cc.TcURL, "txn_id", cc.TransactionID)
		st.app = cc.App
		st.vhost = vhostFromTcURL(cc.TcURL)
		st.pageURL = cc.PageURL

		if !checkVhostEnabled(cfg.VhostPolicy) {
			log.Warn("rejecting connect - vhost disabled", "vhost", st.vhost)
			_ = c.Close()
			return rtmperrors.NewControlError("connect.handle.vhost", rtmperrors.ErrorRTMPVhostNotFound,
				fmt.Errorf("vhost %q disabled", st.vhost))
		}

		if cfg.EdgeTokenTraverse && len(cfg.EdgeOrigins) > 0 {
			if err := pkgedge.VerifyTokenTraverse(cfg.EdgeOrigins, pkgedge.NewRTMPUpstreamFactory(), cc.TcURL); err != nil {
				log.Warn("rejecting connect - edge token traverse failed", "error", err)
				_ = c.Close()
				return rtmperrors.NewControlError("connect.handle.token_traverse", rtmperrors.ErrorRTMPVhostNotFound, err)
			}
		}

		resp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
		if err != nil {
			log.Error("connect response build failed", "error", err)
			return nil // swallow errors to keep connection alive
		}
		if err := c.SendMessage(resp); err != nil {
			log.Error("connect response send failed", "error", err)
		} else {
			log.Info("connect response sent successfully", "app", cc.App)
		}
		return nil
	}

	d.OnCreateStream = func(cs *rpc.CreateStreamCommand, msg *chunk.Message) error {
		resp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, st.allocator)
		if err != nil {
			log.Error("createStream response build failed", "error", err)
			return nil
		}
		if err := c.SendMessage(resp); err != nil {
			log.Error("createStream response send failed", "error", err)
		} else {
			log.Info("createStream response sent successfully", "stream_id", streamID, "txn_id", cs.TransactionID)
		}

		streamBegin := control.EncodeUserControlStreamBegin(streamID)
		if err := c.SendMessage(streamBegin); err != nil {
			log.Error("StreamBegin send failed", "error", err, "stream_id", streamID)
		} else {
			log.Info("StreamBegin sent", "stream_id", streamID)
		}
		return nil
	}

	d.OnPublish = func(pc *rpc.PublishCommand, msg *chunk.Message) error {
		if !checkReferer(cfg.VhostPolicy, st.pageURL, true) {
			log.Warn("rejecting publish - referer check failed", "stream_key", pc.StreamKey, "page_url", st.pageURL)
			return rtmperrors.NewControlError("publish.handle.referer", rtmperrors.ErrorRTMPVhostNotFound,
				fmt.Errorf("referer %q not allowed to publish", st.pageURL))
		}

		_, source, err := HandlePublish(registry, tokens, hooks, c.ID(), c, st.app, msg)
		if err != nil {
			log.Error("publish handle", "error", err)
			return nil
		}

		st.streamKey = pc.StreamKey
		st.source = source
		if forwarder != nil {
			source.AddConsumer(forwarder)
		}

		if cfg.RecordAll && recorders != nil {
			if _, err := recorders.Start(pc.StreamKey, log); err != nil {
				log.Error("failed to create recorder", "error", err, "stream_key", pc.StreamKey)
			}
		}

		st.watchdogStop = make(chan struct{})
		go runIdleKickoffWatchdog(c, source, cfg, st.watchdogStop, log)
		return nil
	}

	d.OnPlay = func(pl *rpc.PlayCommand, msg *chunk.Message) error {
		if !checkReferer(cfg.VhostPolicy, st.pageURL, false) {
			log.Warn("rejecting play - referer check failed", "stream_key", pl.StreamKey, "page_url", st.pageURL)
			return rtmperrors.NewControlError("play.handle.referer", rtmperrors.ErrorRTMPVhostNotFound,
				fmt.Errorf("referer %q not allowed to play", st.pageURL))
		}

		edge.EnsureIngester(pl.StreamKey)
		_, consumer, err := HandlePlay(registry, hooks, c.ID(), c, st.app, st.vhost, msg, cfg, log)
		if err != nil {
			if rtmperrors.Code(err) == rtmperrors.ErrorControlRedirect {
				_ = c.Close()
			} else {
				log.Error("play handle", "error", err)
			}
			return nil
		}
		st.streamKey = pl.StreamKey
		st.consumer = consumer
		return nil
	}

	d.OnFMLEUnpublish = func(uc *rpc.FMLEUnpublishCommand, msg *chunk.Message) error {
		PublisherDisconnected(registry, tokens, hooks, c.ID(), st.streamKey)
		if recorders != nil {
			recorders.Stop(st.streamKey, log)
		}
		st.source = nil
		return nil
	}

	c.SetMessageHandler(func(m *chunk.Message) {
		if m == nil {
			return
		}

		if m.TypeID == audioMessageTypeID || m.TypeID == videoMessageTypeID {
			st.mediaLogger.ProcessMessage(m)

			if st.streamKey != "" && st.source != nil {
				p, err := packetFromMessage(st.streamKey, m)
				if err != nil {
					log.Debug("packetconv failed", "error", err)
					return
				}
				if rec := recorderFor(recorders, st.streamKey); rec != nil {
					rec.WriteMessage(p)
				}
				st.source.Publish(p)
			}
			return
		}

		if m.TypeID != rpc.CommandMessageAMF0TypeIDForTest() {
			return
		}
		if err := d.Dispatch(m); err != nil {
			log.Error("dispatch error", "error", err)
		}
	})

	return func() {
		if st.watchdogStop != nil {
			close(st.watchdogStop)
		}
		if st.source != nil {
			PublisherDisconnected(registry, tokens, hooks, c.ID(), st.streamKey)
			if recorders != nil {
				recorders.Stop(st.streamKey, log)
			}
		}
		if st.consumer != nil {
			SubscriberDisconnected(registry, hooks, c.ID(), st.streamKey, st.consumer)
		}
	}
}

// runIdleKickoffWatchdog disconnects conn if source's publisher stalls past
// cfg's configured thresholds: Publish1stPktTimeout before the first packet
// ever arrives, PublishNormalTimeout once steady-state publishing has
// started. Grounded on original_source/srs_app_source.cpp's
// publish_1stpkt_timeout/publish_normal_timeout kickoff watchdog. Exits when
// stop is closed (connection torn down) or the source stops publishing.
func runIdleKickoffWatchdog(c *iconn.Connection, source *livesource.Source, cfg *Config, stop <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if !source.IsPublishing() {
				return
			}
			idle := source.PublisherIdleFor(now)
			timeout := cfg.PublishNormalTimeout
			if source.PacketCount() == 0 {
				timeout = cfg.Publish1stPktTimeout
			}
			if timeout > 0 && idle > timeout {
				kickErr := rtmperrors.NewControlError("publish.idle_kickoff", rtmperrors.ErrorKickoffForIdle,
					fmt.Errorf("publisher idle for %s (timeout %s)", idle, timeout))
				log.Warn("kicking off idle publisher", "error", kickErr)
				_ = c.Close()
				return
			}
		}
	}
}

func recorderFor(recorders *recorderRegistry, streamKey string) *media.Recorder {
	if recorders == nil {
		return nil
	}
	return recorders.Get(streamKey)
}
