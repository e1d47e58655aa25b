package edge

import (
	"errors"
	"testing"
)

func TestVerifyTokenTraverseNoOriginsIsOK(t *testing.T) {
	if err := VerifyTokenTraverse(nil, nil, "rtmp://edge.example.com/live/stream1?token=abc"); err != nil {
		t.Fatalf("expected no origins to pass trivially, got %v", err)
	}
}

func TestVerifyTokenTraverseAcceptsFirstOriginThatConnects(t *testing.T) {
	var dialed []string
	factory := func(tcURL string) (UpstreamClient, error) {
		dialed = append(dialed, tcURL)
		return &fakeUpstreamClient{}, nil
	}
	err := VerifyTokenTraverse([]string{"origin1:1935"}, factory, "rtmp://edge.example.com/live/stream1?token=abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dialed) != 1 || dialed[0] != "rtmp://origin1:1935/live/stream1?token=abc" {
		t.Fatalf("unexpected dial target(s): %v", dialed)
	}
}

type rejectingUpstreamClient struct{ fakeUpstreamClient }

func (r *rejectingUpstreamClient) Connect() error { return errors.New("rejected") }

func TestVerifyTokenTraverseFallsThroughToNextOrigin(t *testing.T) {
	factory := func(tcURL string) (UpstreamClient, error) {
		if tcURL == "rtmp://origin1:1935/live/stream1" {
			return &rejectingUpstreamClient{}, nil
		}
		return &fakeUpstreamClient{}, nil
	}
	err := VerifyTokenTraverse([]string{"origin1:1935", "origin2:1935"}, factory, "rtmp://edge.example.com/live/stream1")
	if err != nil {
		t.Fatalf("expected the second origin to validate the token, got %v", err)
	}
}

func TestVerifyTokenTraverseAllRejectFails(t *testing.T) {
	factory := func(tcURL string) (UpstreamClient, error) {
		return &rejectingUpstreamClient{}, nil
	}
	err := VerifyTokenTraverse([]string{"origin1:1935"}, factory, "rtmp://edge.example.com/live/stream1")
	if err == nil {
		t.Fatalf("expected error when every origin rejects the token")
	}
}
