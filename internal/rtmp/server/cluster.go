package server

// Origin-cluster redirect
// ------------------------
// spec.md §4.6 "Redirect behavior (origin cluster)": when a play request
// arrives for a stream with no local publisher and the server is
// configured with coworker nodes, ask each coworker in turn where the
// active origin is and, on a hit, send the client an RTMP redirect instead
// of a plain stream-not-found. Grounded on
// original_source/srs_app_rtmp_conn.cpp's redirect_to_origin_cluster
// (SrsHttpHooks::discover_co_workers hitting a coworker's /api/v1/clusters
// endpoint). The real discover_co_workers implementation lives in SRS's
// HTTP API server, which isn't part of the retrieval pack — only its own
// unit test mocks are — so the JSON response shape below
// (clustersResponse) is this server's own documented contract rather than
// a byte-for-byte port of SRS's; see DESIGN.md.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const clusterDiscoverTimeout = 3 * time.Second

// clustersResponse is the /api/v1/clusters JSON envelope a coworker
// answers with: code 0 and a non-empty Data.Origin means that coworker
// currently holds the publisher for the requested stream.
type clustersResponse struct {
	Code int `json:"code"`
	Data struct {
		Origin string `json:"origin"` // "host:port" of the node with the live publisher
	} `json:"data"`
}

// discoverOrigin asks each coworker in turn whether it (or a node it knows
// about) is the active origin for vhost/app/stream, returning the first
// affirmative answer. Returns an error if no coworker could be reached or
// none reported an active origin.
func discoverOrigin(ctx context.Context, coworkers []string, client *http.Client, vhost, app, stream string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: clusterDiscoverTimeout}
	}
	var lastErr error
	for _, coworker := range coworkers {
		reqURL := fmt.Sprintf("http://%s/api/v1/clusters?vhost=%s&app=%s&stream=%s",
			coworker, url.QueryEscape(vhost), url.QueryEscape(app), url.QueryEscape(stream))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		var body clustersResponse
		decErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if decErr != nil {
			lastErr = decErr
			continue
		}
		if body.Code != 0 || body.Data.Origin == "" {
			continue
		}
		return body.Data.Origin, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no coworker reported an active origin for %s/%s", app, stream)
	}
	return "", lastErr
}
