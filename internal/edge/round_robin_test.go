package edge

import "testing"

func TestRoundRobinCyclesThroughServers(t *testing.T) {
	rr := NewRoundRobin([]string{"a:1935", "b:1935", "c:1935"})
	got := []string{rr.Select(), rr.Select(), rr.Select(), rr.Select()}
	want := []string{"a:1935", "b:1935", "c:1935", "a:1935"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRoundRobinEmptyReturnsEmptyString(t *testing.T) {
	rr := NewRoundRobin(nil)
	if rr.Select() != "" {
		t.Fatalf("expected empty string for an empty server list")
	}
}
