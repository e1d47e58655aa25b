package rpc

import (
	"testing"

	"github.com/brightwing/streamcore/internal/rtmp/amf"
)

func TestParseFMLEUnpublishCommand_Valid(t *testing.T) {
	payload, err := amf.EncodeAll(
		"FCUnpublish",
		0.0,
		nil,
		"stream1",
	)
	if err != nil {
		fatalf(t, "encode: %v", err)
	}

	cmd, err := ParseFMLEUnpublishCommand("app", buildPublishMessage(payload))
	if err != nil {
		fatalf(t, "ParseFMLEUnpublishCommand error: %v", err)
	}
	if cmd.StreamKey != "app/stream1" {
		fatalf(t, "unexpected parsed command: %+v", cmd)
	}
}

func TestParseFMLEUnpublishCommand_MissingPublishingName(t *testing.T) {
	payload, err := amf.EncodeAll(
		"FCUnpublish",
		0.0,
		nil,
	)
	if err != nil {
		fatalf(t, "encode: %v", err)
	}

	if _, err := ParseFMLEUnpublishCommand("app", buildPublishMessage(payload)); err == nil {
		fatalf(t, "expected error for missing publishingName")
	}
}

func TestParseFMLEUnpublishCommand_RequiresApp(t *testing.T) {
	payload, err := amf.EncodeAll("FCUnpublish", 0.0, nil, "stream1")
	if err != nil {
		fatalf(t, "encode: %v", err)
	}
	if _, err := ParseFMLEUnpublishCommand("", buildPublishMessage(payload)); err == nil {
		fatalf(t, "expected error for empty app")
	}
}
