package server

// Publish Handler
// ---------------
// Parses the publish command, claims the stream key's publish token
// (internal/livesource.PublishTokens — the same single-publisher invariant
// internal/webrtcingest enforces for WHIP), marks the stream's
// internal/livesource.Source as publishing, fires a posthook publish-start
// event, and replies with onStatus NetStream.Publish.Start. Generalized
// from the teacher's registry-backed HandlePublish: the old server.Registry/
// Stream pairing duplicated what internal/livesource.Registry/Source now do
// (and do for every transport, not just RTMP), so this handler talks to
// livesource directly instead of a package-local registry.

import (
	"fmt"

	rtmperrors "github.com/brightwing/streamcore/internal/errors"
	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/posthook"
	"github.com/brightwing/streamcore/internal/rtmp/amf"
	"github.com/brightwing/streamcore/internal/rtmp/chunk"
	"github.com/brightwing/streamcore/internal/rtmp/rpc"
)

// sender is the minimal interface required from a connection for this task.
// *conn.Connection satisfies it. We keep it tiny so tests can use a stub.
type sender interface {
	SendMessage(*chunk.Message) error
}

// HandlePublish parses the publish command message, claims the stream
// key's publish token, marks the corresponding Source as publishing, and
// sends an onStatus NetStream.Publish.Start message. It returns the
// generated onStatus message (already sent) and the Source the caller
// should now forward media packets into.
func HandlePublish(registry *livesource.Registry, tokens *livesource.PublishTokens, hooks *posthook.Manager, connID string, conn sender, app string, msg *chunk.Message) (*chunk.Message, *livesource.Source, error) {
	if registry == nil || tokens == nil || conn == nil || msg == nil {
		return nil, nil, rtmperrors.NewProtocolError("publish.handle", fmt.Errorf("nil argument"))
	}

	pcmd, err := rpc.ParsePublishCommand(app, msg)
	if err != nil {
		return nil, nil, err
	}

	if !tokens.Acquire(pcmd.StreamKey) {
		return nil, nil, rtmperrors.NewResourceError("publish.handle", rtmperrors.ErrorSystemStreamBusy,
			fmt.Errorf("stream key %q already has a publisher", pcmd.StreamKey))
	}

	source, _ := registry.FetchOrCreate(pcmd.StreamKey)
	source.OnPublish()

	if hooks != nil {
		hooks.TriggerEvent(*posthook.NewEvent(posthook.EventPublishStart).
			WithStreamKey(pcmd.StreamKey).WithConnID(connID))
	}

	info := map[string]interface{}{
		"level":       "status",
		"code":        "NetStream.Publish.Start",
		"description": fmt.Sprintf("Publishing %s.", pcmd.StreamKey),
		"details":     pcmd.StreamKey,
	}

	payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
	if err != nil {
		tokens.Release(pcmd.StreamKey)
		return nil, nil, rtmperrors.NewProtocolError("publish.handle.encode", err)
	}

	onStatus := &chunk.Message{
		CSID:            5,
		TypeID:          rpc.CommandMessageAMF0TypeIDForTest(),
		MessageStreamID: msg.MessageStreamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}

	_ = conn.SendMessage(onStatus)
	return onStatus, source, nil
}

// PublisherDisconnected releases streamKey's publish token, marks the
// Source unpublished, and fires a posthook publish-stop event. Safe to call
// even if the caller never successfully published (Release/OnUnpublish are
// idempotent no-ops against state that was never acquired/set).
func PublisherDisconnected(registry *livesource.Registry, tokens *livesource.PublishTokens, hooks *posthook.Manager, connID, streamKey string) {
	if streamKey == "" {
		return
	}
	if tokens != nil {
		tokens.Release(streamKey)
	}
	if registry != nil {
		if source := registry.Get(streamKey); source != nil {
			source.OnUnpublish()
		}
	}
	if hooks != nil {
		hooks.TriggerEvent(*posthook.NewEvent(posthook.EventPublishStop).
			WithStreamKey(streamKey).WithConnID(connID))
	}
}
