package rpc

import (
	"testing"

	rtmperrors "github.com/brightwing/streamcore/internal/errors"
	"github.com/brightwing/streamcore/internal/rtmp/amf"
)

func TestBuildOnStatusRedirect_Valid(t *testing.T) {
	msg, err := BuildOnStatusRedirect("rtmp://origin.example.com/live", "moved to origin")
	if err != nil {
		fatalf(t, "BuildOnStatusRedirect error: %v", err)
	}
	if msg.TypeID != commandMessageAMF0TypeID {
		fatalf(t, "unexpected type id %d", msg.TypeID)
	}

	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil {
		fatalf(t, "decode: %v", err)
	}
	if len(vals) != 4 {
		fatalf(t, "expected 4 AMF values, got %d", len(vals))
	}
	if name, _ := vals[0].(string); name != "onStatus" {
		fatalf(t, "expected onStatus command, got %v", vals[0])
	}
	info, ok := vals[3].(map[string]interface{})
	if !ok {
		fatalf(t, "expected information object, got %T", vals[3])
	}
	ex, ok := info["ex"].(map[string]interface{})
	if !ok || ex["redirect"] != "rtmp://origin.example.com/live" {
		fatalf(t, "expected ex.redirect to carry target url, got %+v", info["ex"])
	}
}

func TestBuildOnStatusRedirect_EmptyTargetIsControlError(t *testing.T) {
	_, err := BuildOnStatusRedirect("", "desc")
	if err == nil {
		fatalf(t, "expected error for empty target url")
	}
	if rtmperrors.Code(err) != rtmperrors.ErrorControlRedirect {
		fatalf(t, "expected ErrorControlRedirect code, got %d", rtmperrors.Code(err))
	}
}
