package edge

import "github.com/brightwing/streamcore/internal/rtmp/client"

// rtmpClientAdapter wraps internal/rtmp/client.Client to satisfy
// UpstreamClient, translating its chunk.Message read result into the
// smaller UpstreamMessage shape so this package doesn't need to import
// internal/rtmp/chunk.
type rtmpClientAdapter struct {
	c *client.Client
}

// NewRTMPUpstreamFactory returns an UpstreamClientFactory backed by the
// real internal/rtmp/client.Client, for production wiring (cmd/rtmp-server
// passes this to NewIngester; tests use a fake UpstreamClient instead).
func NewRTMPUpstreamFactory() UpstreamClientFactory {
	return func(tcURL string) (UpstreamClient, error) {
		c, err := client.New(tcURL)
		if err != nil {
			return nil, err
		}
		return &rtmpClientAdapter{c: c}, nil
	}
}

func (a *rtmpClientAdapter) Connect() error { return a.c.Connect() }
func (a *rtmpClientAdapter) Play() error    { return a.c.Play() }
func (a *rtmpClientAdapter) Close() error   { return a.c.Close() }

func (a *rtmpClientAdapter) ReadMessage() (*UpstreamMessage, error) {
	msg, err := a.c.ReadMessage()
	if err != nil {
		return nil, err
	}
	return &UpstreamMessage{TypeID: msg.TypeID, Timestamp: msg.Timestamp, Payload: msg.Payload}, nil
}

// NewRTMPDestinationFactory returns an RTMPClientFactory for Forwarder,
// backed by the same client.Client used for ingest, matching the teacher's
// relay package reusing one client type for both roles.
func NewRTMPDestinationFactory() RTMPClientFactory {
	return func(url string) (RTMPClient, error) {
		return client.New(url)
	}
}
