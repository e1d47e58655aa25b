package main

// Protocol front-end wiring
// -------------------------
// cmd/rtmp-server's RTMP listener (internal/rtmp/server.Server) owns the
// shared internal/livesource.Registry/PublishTokens and internal/posthook
// Manager; this file attaches the other SPEC_FULL.md front ends (HTTP-FLV/
// TS egress, WHIP publish, GB28181 media ingest) to those same instances so
// a stream published over any transport is playable over any other. None
// of this runs unless its listen address flag is set, keeping a plain RTMP
// deployment unchanged.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/brightwing/streamcore/internal/gb28181"
	"github.com/brightwing/streamcore/internal/httplive"
	"github.com/brightwing/streamcore/internal/httproute"
	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/posthook"
	"github.com/brightwing/streamcore/internal/rtp"
	"github.com/brightwing/streamcore/internal/webrtcingest"
)

// frontEnds bundles the optional HTTP and GB28181 listeners started
// alongside the RTMP server. A nil field means that front end is disabled.
type frontEnds struct {
	httpSrv  *http.Server
	gbListen *gb28181.Listener
	log      *slog.Logger
}

// startFrontEnds builds and starts whichever of the HTTP (httplive + WHIP)
// and GB28181 front ends the config enables, binding them to the shared
// registry/tokens/hooks the RTMP server already created.
func startFrontEnds(cfg *cliConfig, registry *livesource.Registry, tokens *livesource.PublishTokens, hooks *posthook.Manager, log *slog.Logger) (*frontEnds, error) {
	fe := &frontEnds{log: log}

	if cfg.httpListenAddr != "" {
		mux := httproute.NewMux()

		liveHandler := httplive.NewHandler(registry, hooks, httplive.Config{
			GopCache:   true,
			MWSleep:    300 * time.Millisecond,
			GuessHasAV: true,
		}, mux, log)
		mux.Handle("/", liveHandler)

		whipGateway, err := webrtcingest.NewGateway(registry, tokens, hooks, webrtcingest.Config{}, log)
		if err != nil {
			return nil, fmt.Errorf("whip gateway: %w", err)
		}
		mux.Handle("/whip/", whipGateway)

		var handler http.Handler = mux
		handler = httproute.CORS(cfg.corsEnabled)(handler)

		ln, err := net.Listen("tcp", cfg.httpListenAddr)
		if err != nil {
			return nil, fmt.Errorf("http-listen %s: %w", cfg.httpListenAddr, err)
		}
		fe.httpSrv = &http.Server{Handler: handler}
		go func() {
			if err := fe.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http front end stopped", "error", err)
			}
		}()
		log.Info("http front end listening", "addr", ln.Addr().String())
	}

	if cfg.gbListenAddr != "" {
		gbRegistry := gb28181.NewRegistry()
		if err := bindStaticGBDevices(gbRegistry, registry, cfg.gbDevices, log); err != nil {
			return nil, err
		}
		fe.gbListen = gb28181.NewListener(cfg.gbListenAddr, gbRegistry, log)
		if err := fe.gbListen.Start(); err != nil {
			return nil, fmt.Errorf("gb-listen %s: %w", cfg.gbListenAddr, err)
		}
	}

	return fe, nil
}

// bindStaticGBDevices pre-registers one gb28181.Session per configured
// "-gb-device ssrc=stream_key" flag, wired to publish into the shared live
// source registry. GB28181 signaling (SIP INVITE/device auth) is outside
// this repo's scope (spec.md excludes HTTP-API business logic beyond the
// post-hook surface), so a static operator-provided mapping stands in for
// it the way a minimal deployment without a SIP stack would configure one.
func bindStaticGBDevices(gbRegistry *gb28181.Registry, liveRegistry *livesource.Registry, devices []string, log *slog.Logger) error {
	for _, dev := range devices {
		ssrc, streamKey, err := parseGBDevice(dev)
		if err != nil {
			return fmt.Errorf("gb-device %q: %w", dev, err)
		}
		session := gb28181.NewSession(streamKey, rtp.CodecH264, gbPublishSink(liveRegistry, streamKey), log)
		gbRegistry.Register(ssrc, session)
		log.Info("gb28181 device bound", "ssrc", ssrc, "stream_key", streamKey)
	}
	return nil
}

// gbPublishSink returns a gb28181.Sink that publishes into the named
// stream's live source. The source is fetched or created (via
// livesource.Registry.FetchOrCreate, like an RTMP publish) and marked
// publishing when gbPublishSink is called, i.e. at bind time, not when the
// first media arrives.
func gbPublishSink(registry *livesource.Registry, streamKey string) gb28181.Sink {
	src, created := registry.FetchOrCreate(streamKey)
	if created {
		src.OnPublish()
	}
	return src.Publish
}

// stop shuts down every started front end. Safe to call on a frontEnds with
// no front ends enabled.
func (fe *frontEnds) stop(ctx context.Context) {
	if fe == nil {
		return
	}
	if fe.httpSrv != nil {
		if err := fe.httpSrv.Shutdown(ctx); err != nil {
			fe.log.Error("http front end shutdown error", "error", err)
		}
	}
	if fe.gbListen != nil {
		if err := fe.gbListen.Stop(); err != nil {
			fe.log.Error("gb28181 listener shutdown error", "error", err)
		}
	}
}
