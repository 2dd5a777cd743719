package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/tracking"

	"github.com/gorilla/websocket"
)

func dialObserver(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/observer"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing observer socket: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, action, routeID string) {
	t.Helper()
	payload, err := json.Marshal(observerControl{Action: action, RouteID: routeID})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("sending %s control: %v", action, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) observerFrame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var frame observerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return frame
}

func TestObserverWatchAndReceive(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seedRoute(t, "route-1", "Seeded")

	conn := dialObserver(t, ts)
	sendControl(t, conn, "start", "route-1")

	frame := readFrame(t, conn)
	if frame.Event != "subscribed" || frame.RouteID != "route-1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.StartPosition == nil || frame.EndPosition == nil {
		t.Fatal("subscribed frame missing endpoints")
	}

	if err := ts.relay.Deliver("route-1", tracking.Position{Lat: -15.83, Lng: -47.9}, false); err != nil {
		t.Fatalf("delivering: %v", err)
	}

	frame = readFrame(t, conn)
	if frame.Event != "new-position" || frame.RouteID != "route-1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.Position == nil || frame.Position[0] != -15.83 || frame.Position[1] != -47.9 {
		t.Fatalf("unexpected position: %+v", frame.Position)
	}
}

func TestObserverFinishNotice(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seedRoute(t, "route-1", "Seeded")

	conn := dialObserver(t, ts)
	sendControl(t, conn, "start", "route-1")
	if frame := readFrame(t, conn); frame.Event != "subscribed" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	if err := ts.relay.Deliver("route-1", tracking.Position{Lat: 1, Lng: 2}, true); err != nil {
		t.Fatalf("delivering: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Event != "new-position" || !frame.Finished {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	frame = readFrame(t, conn)
	if frame.Event != "finished" || frame.RouteID != "route-1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	// The finished delivery tears the session down once observers detach.
	deadline := time.Now().Add(time.Second)
	for len(ts.registry.Sessions()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still present: %+v", ts.registry.Sessions())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestObserverStopUnsubscribes(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seedRoute(t, "route-1", "Seeded")

	conn := dialObserver(t, ts)
	sendControl(t, conn, "start", "route-1")
	if frame := readFrame(t, conn); frame.Event != "subscribed" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	sendControl(t, conn, "stop", "route-1")
	if frame := readFrame(t, conn); frame.Event != "unsubscribed" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestObserverUnknownRoute(t *testing.T) {
	ts := newTestServer(t, "")

	conn := dialObserver(t, ts)
	sendControl(t, conn, "start", "missing")

	frame := readFrame(t, conn)
	if frame.Event != "error" || frame.Message != "unknown route" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestObserverDuplicateStart(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seedRoute(t, "route-1", "Seeded")

	conn := dialObserver(t, ts)
	sendControl(t, conn, "start", "route-1")
	if frame := readFrame(t, conn); frame.Event != "subscribed" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	sendControl(t, conn, "start", "route-1")
	frame := readFrame(t, conn)
	if frame.Event != "error" || frame.Message != "already watching route" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestObserverReplayOnLateAttach(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seedRoute(t, "route-1", "Seeded")

	first := dialObserver(t, ts)
	sendControl(t, first, "start", "route-1")
	if frame := readFrame(t, first); frame.Event != "subscribed" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if err := ts.relay.Deliver("route-1", tracking.Position{Lat: -15.83, Lng: -47.9}, false); err != nil {
		t.Fatalf("delivering: %v", err)
	}
	if frame := readFrame(t, first); frame.Event != "new-position" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	second := dialObserver(t, ts)
	sendControl(t, second, "start", "route-1")
	frame := readFrame(t, second)
	if frame.Event != "subscribed" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.LastPosition == nil || frame.LastPosition[0] != -15.83 {
		t.Fatalf("expected last position replay, got %+v", frame.LastPosition)
	}
}

func TestObserverDisconnectReleasesSession(t *testing.T) {
	ts := newTestServer(t, "")
	ts.seedRoute(t, "route-1", "Seeded")

	conn := dialObserver(t, ts)
	sendControl(t, conn, "start", "route-1")
	if frame := readFrame(t, conn); frame.Event != "subscribed" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	_ = conn.Close()

	// Once the read loop notices the closed socket it detaches the observer;
	// another publisher finishing the route must then drain the session.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sessions := ts.registry.Sessions()
		if len(sessions) == 1 && sessions[0].Observers == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observer not detached: %+v", sessions)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
