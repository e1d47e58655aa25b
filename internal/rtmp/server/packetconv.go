package server

// packetFromMessage/messageFromPacket bridge RTMP's wire-level chunk.Message
// to the transport-agnostic internal/packet.Packet that internal/livesource
// fans out to every consumer (RTMP, HTTP-FLV, WHIP). An RTMP audio/video
// message's Payload is already byte-for-byte the FLV tag body
// internal/framebuilder and internal/flv produce, so conversion is a
// reclassification rather than a re-encode: ParseVideoMessage/
// ParseAudioMessage (media/video.go, media/audio.go) tell us whether this
// tag is a sequence header or a keyframe, and packet.Wrap copies the
// untouched bytes.

import (
	"fmt"

	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/rtmp/chunk"
	"github.com/brightwing/streamcore/internal/rtmp/media"
)

// RTMP message type ids this package cares about. audioMessageTypeID/
// videoMessageTypeID mirror the literals media.ParseAudioMessage/
// ParseVideoMessage's callers already use throughout this package;
// scriptMessageTypeID is the AMF0 data message type (onMetaData and
// similar), carried through as packet.KindScript so subscribers can relay
// it verbatim without this package needing to understand AMF0 data events.
const (
	audioMessageTypeID  uint8 = 8
	videoMessageTypeID  uint8 = 9
	scriptMessageTypeID uint8 = 18
)

// packetFromMessage classifies and wraps an incoming audio/video/script
// message as a packet.Packet. Returns an error for any other message type;
// callers should only invoke this for TypeID in {8, 9, 18}.
func packetFromMessage(streamKey string, msg *chunk.Message) (*packet.Packet, error) {
	switch msg.TypeID {
	case videoMessageTypeID:
		vm, err := media.ParseVideoMessage(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("packetconv.video: %w", err)
		}
		return packet.Wrap(msg.Payload, streamKey, packet.KindVideo, msg.Timestamp,
			vm.PacketType == media.AVCPacketTypeSequenceHeader, vm.FrameType == media.VideoFrameTypeKey), nil
	case audioMessageTypeID:
		am, err := media.ParseAudioMessage(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("packetconv.audio: %w", err)
		}
		return packet.Wrap(msg.Payload, streamKey, packet.KindAudio, msg.Timestamp,
			am.PacketType == media.AACPacketTypeSequenceHeader, false), nil
	case scriptMessageTypeID:
		return packet.Wrap(msg.Payload, streamKey, packet.KindScript, msg.Timestamp, false, false), nil
	default:
		return nil, fmt.Errorf("packetconv: unsupported message type %d", msg.TypeID)
	}
}

// messageFromPacket rebuilds a chunk.Message suitable for SendMessage to a
// subscriber connection, targeting the subscriber's own message stream id
// (RTMP multiplexes independent logical streams per connection, so the
// publisher's MSID is meaningless to a different subscriber connection).
func messageFromPacket(p *packet.Packet, msid uint32) (*chunk.Message, error) {
	var typeID uint8
	switch p.Kind {
	case packet.KindVideo:
		typeID = videoMessageTypeID
	case packet.KindAudio:
		typeID = audioMessageTypeID
	case packet.KindScript:
		typeID = scriptMessageTypeID
	default:
		return nil, fmt.Errorf("packetconv: packet kind %s has no RTMP message type", p.Kind)
	}
	return &chunk.Message{
		CSID:            mediaCSID(p.Kind),
		TypeID:          typeID,
		Timestamp:       p.TimestampMs,
		MessageStreamID: msid,
		MessageLength:   uint32(len(p.Payload)),
		Payload:         p.Payload,
	}, nil
}

// mediaCSID picks a conventional chunk stream id: audio and video
// traditionally use separate chunk streams (4 and 6) so interleaving at the
// chunk layer doesn't force one media type to wait behind a large chunk of
// the other.
func mediaCSID(k packet.Kind) uint32 {
	if k == packet.KindAudio {
		return 4
	}
	return 6
}
