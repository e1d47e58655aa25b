package rpc

import (
	"fmt"

	"github.com/brightwing/streamcore/internal/errors"
	"github.com/brightwing/streamcore/internal/rtmp/amf"
	"github.com/brightwing/streamcore/internal/rtmp/chunk"
)

// BuildOnStatusRedirect builds the onStatus message a session sends when
// internal/edge or an origin-cluster policy decides this client should
// reconnect elsewhere instead of being served locally. Mirrors SRS's
// redirect handling (ERROR_CONTROL_REDIRECT, original_source's
// srs_app_rtmp_conn.cpp redirect_to_origin_cluster): the information object
// carries an "ex.redirect" field with the target tcUrl, which redirect-aware
// clients (ffmpeg, SRS's own player) read and reconnect to; players that
// ignore "ex" just see a generic connect rejection.
//
// AMF0 sequence: ["onStatus", 0, null, information:Object]
func BuildOnStatusRedirect(targetURL, description string) (*chunk.Message, error) {
	if targetURL == "" {
		return nil, errors.NewControlError("redirect.build", errors.ErrorControlRedirect, fmt.Errorf("empty target url"))
	}

	info := map[string]interface{}{
		"level":       "error",
		"code":        "NetConnection.Connect.Rejected",
		"description": description,
		"ex": map[string]interface{}{
			"redirect": targetURL,
		},
	}

	payload, err := amf.EncodeAll("onStatus", 0.0, nil, info)
	if err != nil {
		return nil, errors.NewControlError("redirect.build.encode", errors.ErrorControlRedirect, fmt.Errorf("amf encode: %w", err))
	}

	return &chunk.Message{
		TypeID:          commandMessageAMF0TypeID,
		MessageStreamID: 0,
		Payload:         payload,
		MessageLength:   uint32(len(payload)),
	}, nil
}
