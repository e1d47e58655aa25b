package webrtcingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var (
	errGatherTimeout = errors.New("webrtcingest: ice gathering timed out")
	errNoVideoMedia  = errors.New("webrtcingest: offer has no video media description")
)

// publishPrefix/sessionPrefix are the two path shapes ServeHTTP dispatches
// on: POST publishPrefix+<streamKey> starts a publish, DELETE
// sessionPrefix+<id> (the URL handed back in the 201's Location header,
// per the WHIP spec) ends one. Kept as simple prefix parsing in the style
// of internal/httplive's parseLivePath rather than a pattern language,
// since this package only ever serves these two shapes.
const (
	publishPrefix = "/whip/"
	sessionPrefix = "/whip/session/"
)

// ServeHTTP implements the WHIP publish/teardown surface. Intended to be
// mounted on an internal/httproute.Mux at "/whip/" (trailing slash, so
// both shapes above route here).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, publishPrefix) && !strings.HasPrefix(r.URL.Path, sessionPrefix):
		g.handlePublish(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, sessionPrefix):
		g.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handlePublish(w http.ResponseWriter, r *http.Request) {
	streamKey := strings.Trim(strings.TrimPrefix(r.URL.Path, publishPrefix), "/")
	if streamKey == "" {
		http.Error(w, "missing stream key", http.StatusBadRequest)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/sdp" {
		http.Error(w, "expected application/sdp", http.StatusUnsupportedMediaType)
		return
	}

	offerSDP, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read offer", http.StatusBadRequest)
		return
	}

	if err := validateOfferHasVideo(offerSDP); err != nil {
		// RFC draft-ietf-wish-whip: a WHIP endpoint that can't satisfy the
		// offer's media shape rejects with 406, not a generic 400/500.
		http.Error(w, err.Error(), http.StatusNotAcceptable)
		return
	}

	if !g.tokens.Acquire(streamKey) {
		http.Error(w, "stream already has a publisher", http.StatusConflict)
		return
	}

	answer, id, err := g.negotiate(r.Context(), streamKey, string(offerSDP))
	if err != nil {
		g.tokens.Release(streamKey)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", path.Join(sessionPrefix, id))
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(answer))
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, sessionPrefix), "/")

	g.mu.Lock()
	s := g.sessions[id]
	delete(g.sessions, id)
	g.mu.Unlock()

	if s == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.close()
	w.WriteHeader(http.StatusNoContent)
}

// validateOfferHasVideo parses the raw offer with pion/sdp/v3 and rejects
// it up front if it carries no video media description, rather than
// letting the PeerConnection fail negotiation later with a less specific
// error. Grounded on other_examples/83fc82b9_bluenviron-mediamtx's WHIP
// session handler, which unmarshals the offer the same way before calling
// into its own TracksAreValid check.
func validateOfferHasVideo(offerSDP []byte) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(offerSDP); err != nil {
		return err
	}
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "video" {
			return nil
		}
	}
	return errNoVideoMedia
}

// negotiate creates the PeerConnection, wires OnTrack, answers the offer,
// and waits for ICE gathering to settle (so the answer carries host/srflx
// candidates up front — trickle ICE is not exposed over this synchronous
// HTTP exchange). Mirrors gtfodev-camsRelay's Bridge.Negotiate, run in the
// answer direction instead of the offer direction.
func (g *Gateway) negotiate(ctx context.Context, streamKey, offerSDP string) (answerSDP, sessionID string, err error) {
	source, _ := g.registry.FetchOrCreate(streamKey)

	pc, err := g.api.NewPeerConnection(webrtc.Configuration{ICEServers: g.cfg.ICEServers})
	if err != nil {
		return "", "", err
	}

	id := g.nextSessionID()
	sess := newSession(id, streamKey, pc, source, g.tokens, g.hooks, g.cfg, g.logger)
	sess.wire()

	g.mu.Lock()
	g.sessions[id] = sess
	g.mu.Unlock()
	fail := func(err error) (string, string, error) {
		sess.close()
		g.mu.Lock()
		delete(g.sessions, id)
		g.mu.Unlock()
		return "", "", err
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherComplete:
	case <-time.After(g.cfg.iceGatherTimeout()):
		return fail(errGatherTimeout)
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	return pc.LocalDescription().SDP, id, nil
}
