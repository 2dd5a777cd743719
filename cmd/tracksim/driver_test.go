package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu      sync.Mutex
	reports []positionReport
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, report positionReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
	return p.err
}

func (p *recordingPublisher) list() []positionReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]positionReport(nil), p.reports...)
}

func TestDriverReplaysTraceInOrder(t *testing.T) {
	publisher := &recordingPublisher{}
	d := &driver{
		RouteID:  "route-1",
		ClientID: "test",
		Trace: routeTrace{
			RouteID:   "route-1",
			Positions: [][2]float64{{0, 0}, {1, 1}, {2, 2}},
		},
		Interval:  time.Millisecond,
		Publisher: publisher,
	}

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reports := publisher.list()
	if len(reports) != 3 {
		t.Fatalf("reports = %d, want 3", len(reports))
	}
	for i, report := range reports {
		if report.Position != [2]float64{float64(i), float64(i)} {
			t.Errorf("report %d position = %v", i, report.Position)
		}
		wantFinished := i == 2
		if report.Finished != wantFinished {
			t.Errorf("report %d finished = %v, want %v", i, report.Finished, wantFinished)
		}
	}
}

func TestDriverStopsOnContextCancel(t *testing.T) {
	publisher := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &driver{
		RouteID:   "route-1",
		Trace:     routeTrace{Positions: [][2]float64{{0, 0}, {1, 1}}},
		Interval:  time.Hour,
		Publisher: publisher,
	}
	if err := d.Run(ctx); err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestLoadTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	payload := `[
		{"routeId": "1", "positions": [[-15.82, -47.92], [-15.83, -47.9]]},
		{"routeId": "2", "positions": [[0, 0]]}
	]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	trace, err := loadTrace(path, "1")
	if err != nil {
		t.Fatalf("loadTrace: %v", err)
	}
	if len(trace.Positions) != 2 || trace.Positions[0] != [2]float64{-15.82, -47.92} {
		t.Fatalf("unexpected trace: %+v", trace)
	}

	if _, err := loadTrace(path, "missing"); err == nil {
		t.Fatal("expected error for unknown route")
	}
}

func TestHTTPPublisherPostsReports(t *testing.T) {
	var got positionReport
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/positions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding report: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	publisher := newHTTPPublisher(server.URL, "secret")
	report := positionReport{RouteID: "1", ClientID: "sim", Position: [2]float64{1, 2}}
	if err := publisher.Publish(context.Background(), report); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got != report {
		t.Errorf("server received %+v, want %+v", got, report)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestHTTPPublisherToleratesNoSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	publisher := newHTTPPublisher(server.URL, "")
	if err := publisher.Publish(context.Background(), positionReport{RouteID: "1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestHTTPPublisherReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	publisher := newHTTPPublisher(server.URL, "")
	if err := publisher.Publish(context.Background(), positionReport{RouteID: "1"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
