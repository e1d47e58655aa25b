package server

// Play Handler
// ------------
// Subscribes a connection to an existing internal/livesource.Source. Mirrors
// publish_handler.go's shape: parse the command, touch livesource state, fire
// a posthook event, reply with onStatus. Generalized from the teacher's
// registry-backed HandlePlay: the subscriber list, sequence-header replay and
// GOP cache now live on livesource.Source (AddConsumer already dumps the
// cached sequence headers and GOP to a newly joined consumer), so this
// handler no longer hand-rolls that replay itself.

import (
	"context"
	"fmt"
	"log/slog"

	rtmperrors "github.com/brightwing/streamcore/internal/errors"
	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/posthook"
	"github.com/brightwing/streamcore/internal/rtmp/amf"
	"github.com/brightwing/streamcore/internal/rtmp/chunk"
	"github.com/brightwing/streamcore/internal/rtmp/control"
	"github.com/brightwing/streamcore/internal/rtmp/rpc"
)

// HandlePlay parses the incoming play command and subscribes conn to the
// target Source. It sends, in order:
//  1. onStatus NetStream.Play.StreamNotFound (if no active publisher), or
//  1. User Control Stream Begin (event 0)
//  2. onStatus NetStream.Play.Start
//
// It returns the final onStatus message (already sent) and the connConsumer
// registered with the Source, so the caller can RemoveConsumer it on
// disconnect.
func HandlePlay(registry *livesource.Registry, hooks *posthook.Manager, connID string, conn sender, app, vhost string, msg *chunk.Message, cfg *Config, log *slog.Logger) (*chunk.Message, *connConsumer, error) {
	if registry == nil || conn == nil || msg == nil {
		return nil, nil, rtmperrors.NewProtocolError("play.handle", fmt.Errorf("nil argument"))
	}

	pcmd, err := rpc.ParsePlayCommand(msg, app)
	if err != nil {
		return nil, nil, err
	}

	source := registry.Get(pcmd.StreamKey)
	if source == nil || !source.IsPublishing() {
		if cfg != nil && len(cfg.OriginClusterCoworkers) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), clusterDiscoverTimeout)
			origin, discErr := discoverOrigin(ctx, cfg.OriginClusterCoworkers, nil, vhost, pcmd.App, pcmd.StreamName)
			cancel()
			if discErr == nil && origin != "" {
				log.Info("redirecting play request to origin cluster", "stream_key", pcmd.StreamKey, "origin", origin)
				targetURL := fmt.Sprintf("rtmp://%s/%s", origin, pcmd.StreamKey)
				redirect, buildErr := rpc.BuildOnStatusRedirect(targetURL, fmt.Sprintf("Redirecting to origin cluster for %s.", pcmd.StreamKey))
				if buildErr == nil {
					_ = conn.SendMessage(redirect)
					return redirect, nil, rtmperrors.NewControlError("play.handle.redirect", rtmperrors.ErrorControlRedirect, fmt.Errorf("redirected to %s", origin))
				}
				log.Error("origin cluster redirect build failed", "error", buildErr)
			} else if discErr != nil {
				log.Debug("origin cluster discovery found no active origin", "stream_key", pcmd.StreamKey, "error", discErr)
			}
		}

		log.Warn("play command failed - stream not found or no publisher", "stream_key", pcmd.StreamKey)
		notFound, encErr := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.StreamNotFound", fmt.Sprintf("Stream %s not found.", pcmd.StreamKey))
		if encErr != nil {
			return nil, nil, rtmperrors.NewProtocolError("play.handle.encode", encErr)
		}
		_ = conn.SendMessage(notFound)
		return notFound, nil, nil
	}

	consumer := newConnConsumer(conn, msg.MessageStreamID, log)
	source.AddConsumer(consumer)
	log.Info("subscriber added", "stream_key", pcmd.StreamKey)

	if hooks != nil {
		hooks.TriggerEvent(*posthook.NewEvent(posthook.EventPlayStart).
			WithStreamKey(pcmd.StreamKey).WithConnID(connID))
	}

	uc := control.EncodeUserControlStreamBegin(msg.MessageStreamID)
	_ = conn.SendMessage(uc)

	started, err := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.Start", fmt.Sprintf("Started playing %s.", pcmd.StreamKey))
	if err != nil {
		source.RemoveConsumer(consumer)
		return nil, nil, rtmperrors.NewProtocolError("play.handle.encode", err)
	}
	_ = conn.SendMessage(started)

	return started, consumer, nil
}

// buildOnStatus creates an AMF0 onStatus message consistent with the pattern
// used in publish_handler.go.
func buildOnStatus(streamID uint32, streamKey, code, description string) (*chunk.Message, error) {
	info := map[string]interface{}{
		"level":       "status",
		"code":        code,
		"description": description,
		"details":     streamKey,
	}
	payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
	if err != nil {
		return nil, err
	}
	return &chunk.Message{
		CSID:            5,
		TypeID:          rpc.CommandMessageAMF0TypeIDForTest(),
		MessageStreamID: streamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}, nil
}

// SubscriberDisconnected removes consumer from streamKey's Source, if both
// are present, and fires a posthook play-stop event.
func SubscriberDisconnected(registry *livesource.Registry, hooks *posthook.Manager, connID, streamKey string, consumer *connConsumer) {
	if registry == nil || streamKey == "" || consumer == nil {
		return
	}
	if source := registry.Get(streamKey); source != nil {
		source.RemoveConsumer(consumer)
	}
	if hooks != nil {
		hooks.TriggerEvent(*posthook.NewEvent(posthook.EventPlayStop).
			WithStreamKey(streamKey).WithConnID(connID))
	}
}
