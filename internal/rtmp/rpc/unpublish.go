package rpc

import (
	"fmt"

	"github.com/brightwing/streamcore/internal/errors"
	"github.com/brightwing/streamcore/internal/rtmp/amf"
	"github.com/brightwing/streamcore/internal/rtmp/chunk"
)

// FMLEUnpublishCommand represents a parsed "FCUnpublish" command, the
// notification FMLE-style encoders (and ffmpeg's rtmp output) send ahead of
// closeStream when ending a publish session.
// Spec form: ["FCUnpublish", 0, null, publishingName]
type FMLEUnpublishCommand struct {
	PublishingName string
	StreamKey      string // app/publishingName
}

// ParseFMLEUnpublishCommand parses an AMF0 command message assumed to
// contain an FCUnpublish invocation. The caller must supply the application
// name negotiated during connect so the full stream key can be reconstructed
// the same way ParsePublishCommand does.
// Expected AMF0 sequence:
// 0: string "FCUnpublish"
// 1: number 0 (transaction id, ignored)
// 2: null
// 3: string publishingName
func ParseFMLEUnpublishCommand(app string, msg *chunk.Message) (*FMLEUnpublishCommand, error) {
	if msg == nil {
		return nil, errors.NewProtocolError("unpublish.parse", fmt.Errorf("nil message"))
	}
	if msg.TypeID != commandMessageAMF0TypeID {
		return nil, errors.NewProtocolError("unpublish.parse", fmt.Errorf("unexpected message type %d", msg.TypeID))
	}
	if app == "" {
		return nil, errors.NewProtocolError("unpublish.parse", fmt.Errorf("app required to build stream key"))
	}

	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil {
		return nil, errors.NewProtocolError("unpublish.parse.decode", err)
	}
	if len(vals) < 4 {
		return nil, errors.NewProtocolError("unpublish.parse", fmt.Errorf("expected >=4 AMF values, got %d", len(vals)))
	}

	name, ok := vals[0].(string)
	if !ok || name != "FCUnpublish" {
		return nil, errors.NewProtocolError("unpublish.parse", fmt.Errorf("first value must be string 'FCUnpublish'"))
	}

	publishingName, ok := vals[3].(string)
	if !ok || publishingName == "" {
		return nil, errors.NewProtocolError("unpublish.parse", fmt.Errorf("publishingName required"))
	}

	return &FMLEUnpublishCommand{
		PublishingName: publishingName,
		StreamKey:      app + "/" + publishingName,
	}, nil
}
