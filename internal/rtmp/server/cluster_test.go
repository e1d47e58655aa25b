package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDiscoverOriginFindsActiveCoworker(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(clustersResponse{Code: 0, Data: struct {
			Origin string `json:"origin"`
		}{Origin: "origin-host:1935"}})
	}))
	defer origin.Close()

	idle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(clustersResponse{Code: 1})
	}))
	defer idle.Close()

	got, err := discoverOrigin(context.Background(), []string{idle.Listener.Addr().String(), origin.Listener.Addr().String()}, origin.Client(), "vhost", "live", "stream1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "origin-host:1935" {
		t.Fatalf("expected origin-host:1935, got %q", got)
	}
}

func TestDiscoverOriginNoneActive(t *testing.T) {
	idle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(clustersResponse{Code: 1})
	}))
	defer idle.Close()

	_, err := discoverOrigin(context.Background(), []string{idle.Listener.Addr().String()}, idle.Client(), "vhost", "live", "stream1")
	if err == nil {
		t.Fatalf("expected error when no coworker reports an active origin")
	}
}
