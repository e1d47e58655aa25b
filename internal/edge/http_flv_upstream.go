package edge

// HTTP-FLV upstream
// -----------------
// spec.md §4.5 step 3's non-RTMP ingest option: pull a stream over
// HTTP-FLV instead of RTMP, following up to maxHTTPFLVRedirects chained
// 302s the way a browser following an HTTP-FLV CDN redirect chain would.
// Demuxing is the FLV tag format internal/httplive's muxer writes, read
// back in the opposite direction. Grounded on
// original_source/srs_app_edge.cpp's ingester being one of several
// pluggable upstream transports behind the same UpstreamClient shape.

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
)

const maxHTTPFLVRedirects = 3

// httpFLVUpstream pulls an HTTP-FLV stream and demuxes its tags into
// UpstreamMessages. Connect issues the GET (following redirects up to the
// cap) and consumes the 9-byte FLV header plus its leading
// PreviousTagSize0; Play is a no-op since HTTP-FLV has no RTMP play
// handshake.
type httpFLVUpstream struct {
	url    string
	client *http.Client
	resp   *http.Response
	r      *bufio.Reader
}

// NewHTTPFLVUpstreamFactory returns an UpstreamClientFactory that pulls
// over HTTP-FLV: the tcURL argument is treated as an http(s):// URL
// (Ingester.urlFor builds it that way when Protocol is ProtocolHTTPFLV)
// rather than an rtmp:// one.
func NewHTTPFLVUpstreamFactory() UpstreamClientFactory {
	return func(url string) (UpstreamClient, error) {
		return &httpFLVUpstream{
			url: url,
			client: &http.Client{
				CheckRedirect: func(req *http.Request, via []*http.Request) error {
					if len(via) >= maxHTTPFLVRedirects {
						return fmt.Errorf("edge: http-flv: exceeded %d redirects", maxHTTPFLVRedirects)
					}
					return nil
				},
			},
		}, nil
	}
}

func (h *httpFLVUpstream) Connect() error {
	resp, err := h.client.Get(h.url)
	if err != nil {
		return fmt.Errorf("edge: http-flv: get %s: %w", h.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("edge: http-flv: unexpected status %d from %s", resp.StatusCode, h.url)
	}
	h.resp = resp
	h.r = bufio.NewReader(resp.Body)

	var header [9]byte
	if _, err := io.ReadFull(h.r, header[:]); err != nil {
		return fmt.Errorf("edge: http-flv: read header: %w", err)
	}
	if header[0] != 'F' || header[1] != 'L' || header[2] != 'V' {
		return fmt.Errorf("edge: http-flv: missing FLV signature")
	}
	var prevTagSize [4]byte
	if _, err := io.ReadFull(h.r, prevTagSize[:]); err != nil {
		return fmt.Errorf("edge: http-flv: read PreviousTagSize0: %w", err)
	}
	return nil
}

func (h *httpFLVUpstream) Play() error { return nil }

func (h *httpFLVUpstream) Close() error {
	if h.resp == nil {
		return nil
	}
	return h.resp.Body.Close()
}

// ReadMessage reads one FLV tag: an 11-byte header (type, 3-byte data
// size, 3-byte timestamp + 1-byte timestamp extension, 3-byte stream id),
// the tag payload, then the trailing 4-byte PreviousTagSize.
func (h *httpFLVUpstream) ReadMessage() (*UpstreamMessage, error) {
	var hdr [11]byte
	if _, err := io.ReadFull(h.r, hdr[:]); err != nil {
		return nil, err
	}
	typeID := hdr[0]
	dataSize := uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
	ts := uint32(hdr[4])<<16 | uint32(hdr[5])<<8 | uint32(hdr[6]) | uint32(hdr[7])<<24

	payload := make([]byte, dataSize)
	if _, err := io.ReadFull(h.r, payload); err != nil {
		return nil, fmt.Errorf("edge: http-flv: read tag payload: %w", err)
	}
	var trailer [4]byte
	if _, err := io.ReadFull(h.r, trailer[:]); err != nil {
		return nil, fmt.Errorf("edge: http-flv: read PreviousTagSize: %w", err)
	}
	return &UpstreamMessage{TypeID: typeID, Timestamp: ts, Payload: payload}, nil
}
