package edge

import (
	"fmt"
)

// tokenTraverseTimeout is SRS's per-origin token-traverse timeout in seconds
// (SRS_EDGE_TOKEN_TRAVERSE_TIMEOUT, 3s). VerifyTokenTraverse does not apply
// it: each origin's Connect runs under whatever timeout the UpstreamClient
// itself uses.
const tokenTraverseTimeout = 3

// VerifyTokenTraverse implements spec.md §4.6's "Token-traverse edge auth":
// when a vhost is configured with edge_token_traverse, a connecting
// client's tcUrl (which carries the auth token as a query parameter) is
// replayed as a throwaway connect against the edge's configured origins
// before the local session is allowed to proceed. The first origin that
// accepts the connect validates the token; if every origin rejects it (or
// none are reachable), the caller should refuse the client's connect.
// Grounded on original_source/srs_app_rtmp_conn.cpp's
// check_edge_token_traverse_auth/do_token_traverse_auth: try each
// configured origin in turn, connect_app with the same tcUrl, and accept
// the first one that doesn't error.
func VerifyTokenTraverse(origins []string, factory UpstreamClientFactory, tcURL string) error {
	if len(origins) == 0 {
		return nil
	}
	var lastErr error
	for _, origin := range origins {
		target := fmt.Sprintf("rtmp://%s%s", origin, tcURLPath(tcURL))
		client, err := factory(target)
		if err != nil {
			lastErr = err
			continue
		}
		err = client.Connect()
		_ = client.Close()
		if err != nil {
			lastErr = fmt.Errorf("token traverse rejected by %s: %w", origin, err)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("token traverse: no origin configured")
	}
	return lastErr
}

// tcURLPath extracts everything after the host[:port] of tcURL (the
// app/vhost/token path+query this connect is replayed against), falling
// back to "/" if tcURL doesn't parse as expected.
func tcURLPath(tcURL string) string {
	const scheme = "rtmp://"
	if len(tcURL) <= len(scheme) || tcURL[:len(scheme)] != scheme {
		return "/"
	}
	rest := tcURL[len(scheme):]
	for i, ch := range rest {
		if ch == '/' {
			return rest[i:]
		}
	}
	return "/"
}
