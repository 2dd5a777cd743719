package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
)

func TestPublishPositionAccepted(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seedRoute(t, "route-1", "Seeded")

	if _, err := ts.registry.OpenSession(context.Background(), "route-1"); err != nil {
		t.Fatalf("opening session: %v", err)
	}

	resp := doJSON(t, http.MethodPost, ts.url("/api/positions"), map[string]any{
		"routeId":  "route-1",
		"position": map[string]float64{"lat": -15.83, "lng": -47.9},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestPublishPositionWithoutSession(t *testing.T) {
	ts := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, ts.url("/api/positions"), map[string]any{
		"routeId":  "route-1",
		"position": map[string]float64{"lat": -15.83, "lng": -47.9},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPublishPositionAfterFinish(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seedRoute(t, "route-1", "Seeded")

	ctx := context.Background()
	if _, err := ts.registry.OpenSession(ctx, "route-1"); err != nil {
		t.Fatalf("opening session: %v", err)
	}
	if _, err := ts.registry.Attach("route-1", "observer-1"); err != nil {
		t.Fatalf("attaching: %v", err)
	}
	cancel := ts.relay.RegisterObserver("observer-1", func(tracking.Update) {})
	defer cancel()
	if err := ts.relay.Deliver("route-1", tracking.Position{Lat: 1, Lng: 2}, true); err != nil {
		t.Fatalf("finishing: %v", err)
	}

	resp := doJSON(t, http.MethodPost, ts.url("/api/positions"), map[string]any{
		"routeId":  "route-1",
		"position": map[string]float64{"lat": -15.83, "lng": -47.9},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestPublishPositionRejectsMalformed(t *testing.T) {
	ts := newTestServer(t, "")

	cases := []map[string]any{
		{"position": map[string]float64{"lat": 1, "lng": 2}},
		{"routeId": "route-1"},
		{"routeId": "route-1", "position": map[string]float64{"lat": 91, "lng": 2}},
		{"routeId": "route-1", "position": map[string]float64{"lat": 1, "lng": 181}},
	}
	for i, payload := range cases {
		resp := doJSON(t, http.MethodPost, ts.url("/api/positions"), payload)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, resp.StatusCode)
		}
	}

	if got := ts.metrics.MalformedUpdates(); got != int64(len(cases)) {
		t.Errorf("malformed counter = %d, want %d", got, len(cases))
	}
}
