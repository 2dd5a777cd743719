package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AlveZs/ifc-code-delivery/internal/metrics"
	"github.com/AlveZs/ifc-code-delivery/internal/tracking"
)

type fixedSource struct {
	endpoints map[string]tracking.Endpoints
}

func (s *fixedSource) Endpoints(_ context.Context, routeID string) (tracking.Endpoints, error) {
	endpoints, ok := s.endpoints[routeID]
	if !ok {
		return tracking.Endpoints{}, errors.New("not found")
	}
	return endpoints, nil
}

type recordingReceiver struct {
	mu       sync.Mutex
	applied  []tracking.Update
	finished []string
	signal   chan struct{}
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{signal: make(chan struct{}, 256)}
}

func (r *recordingReceiver) Apply(update tracking.Update) {
	r.mu.Lock()
	r.applied = append(r.applied, update)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recordingReceiver) Finish(routeID string) {
	r.mu.Lock()
	r.finished = append(r.finished, routeID)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recordingReceiver) waitApplied(t *testing.T, count int) []tracking.Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		current := len(r.applied)
		r.mu.Unlock()
		if current >= count {
			break
		}
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d applied updates, have %d", count, current)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tracking.Update, len(r.applied))
	copy(out, r.applied)
	return out
}

func (r *recordingReceiver) finishedRoutes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.finished))
	copy(out, r.finished)
	return out
}

type fixture struct {
	registry *tracking.Registry
	relay    *tracking.Relay
}

func newFixture() *fixture {
	registry := tracking.NewRegistry(tracking.RegistryOptions{
		Source: &fixedSource{endpoints: map[string]tracking.Endpoints{
			"r1": {Start: tracking.Position{Lat: 10, Lng: 10}, End: tracking.Position{Lat: 20, Lng: 20}},
			"r2": {Start: tracking.Position{Lat: 1, Lng: 1}, End: tracking.Position{Lat: 2, Lng: 2}},
		}},
		Metrics: &metrics.Registry{},
	})
	relay := tracking.NewRelay(tracking.RelayOptions{
		Registry: registry,
		Metrics:  &metrics.Registry{},
	})
	return &fixture{registry: registry, relay: relay}
}

func (f *fixture) manager(observerID string, receiver Receiver) *Manager {
	return NewManager(ManagerOptions{
		ObserverID: observerID,
		Registry:   f.registry,
		Relay:      f.relay,
		Receiver:   receiver,
	})
}

func TestStartWatchingOpensSessionAndAttaches(t *testing.T) {
	f := newFixture()
	receiver := newRecordingReceiver()
	manager := f.manager("o1", receiver)
	defer manager.OnDisconnect()

	info, err := manager.StartWatching(context.Background(), "r1")
	if err != nil {
		t.Fatalf("StartWatching failed: %v", err)
	}
	if info.Endpoints.Start != (tracking.Position{Lat: 10, Lng: 10}) {
		t.Fatalf("unexpected endpoints: %+v", info.Endpoints)
	}

	infos := f.registry.Sessions()
	if len(infos) != 1 || infos[0].Observers != 1 {
		t.Fatalf("expected one session with one observer, got %+v", infos)
	}
}

func TestSecondStartWatchingFailsAlreadyWatching(t *testing.T) {
	f := newFixture()
	manager := f.manager("o1", newRecordingReceiver())
	defer manager.OnDisconnect()

	if _, err := manager.StartWatching(context.Background(), "r1"); err != nil {
		t.Fatalf("first StartWatching failed: %v", err)
	}
	if _, err := manager.StartWatching(context.Background(), "r1"); !errors.Is(err, ErrAlreadyWatching) {
		t.Fatalf("expected ErrAlreadyWatching, got %v", err)
	}

	// Only one observation exists.
	infos := f.registry.Sessions()
	if len(infos) != 1 || infos[0].Observers != 1 {
		t.Fatalf("expected a single observation, got %+v", infos)
	}
}

func TestSecondObserverAttachesToExistingSession(t *testing.T) {
	f := newFixture()
	first := f.manager("o1", newRecordingReceiver())
	defer first.OnDisconnect()
	secondReceiver := newRecordingReceiver()
	second := f.manager("o2", secondReceiver)
	defer second.OnDisconnect()

	if _, err := first.StartWatching(context.Background(), "r1"); err != nil {
		t.Fatalf("o1 StartWatching failed: %v", err)
	}
	if _, err := second.StartWatching(context.Background(), "r1"); err != nil {
		t.Fatalf("o2 StartWatching failed: %v", err)
	}

	infos := f.registry.Sessions()
	if len(infos) != 1 || infos[0].Observers != 2 {
		t.Fatalf("expected one session with two observers, got %+v", infos)
	}

	if err := f.relay.Deliver("r1", tracking.Position{Lat: 12, Lng: 11}, false); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	updates := secondReceiver.waitApplied(t, 1)
	if updates[0].Position != (tracking.Position{Lat: 12, Lng: 11}) {
		t.Fatalf("unexpected delivered position: %+v", updates[0].Position)
	}
}

func TestFinishedDeliveryTearsDownWatch(t *testing.T) {
	f := newFixture()
	receiver := newRecordingReceiver()
	manager := f.manager("o1", receiver)
	defer manager.OnDisconnect()

	if _, err := manager.StartWatching(context.Background(), "r1"); err != nil {
		t.Fatalf("StartWatching failed: %v", err)
	}

	if err := f.relay.Deliver("r1", tracking.Position{Lat: 12, Lng: 11}, false); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if err := f.relay.Deliver("r1", tracking.Position{Lat: 20, Lng: 20}, true); err != nil {
		t.Fatalf("finishing deliver failed: %v", err)
	}

	receiver.waitApplied(t, 2)

	waitFor(t, func() bool { return len(f.registry.Sessions()) == 0 })
	if got := receiver.finishedRoutes(); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("expected one finish notice for r1, got %v", got)
	}
	if len(manager.Watched()) != 0 {
		t.Fatalf("expected no watched routes after finish, got %v", manager.Watched())
	}

	// The route can be watched again once the session is gone.
	if _, err := manager.StartWatching(context.Background(), "r1"); err != nil {
		t.Fatalf("re-watch after finish failed: %v", err)
	}
}

func TestStopWatchingDropsFutureDeliveries(t *testing.T) {
	f := newFixture()
	receiver := newRecordingReceiver()
	manager := f.manager("o1", receiver)
	defer manager.OnDisconnect()

	if _, err := manager.StartWatching(context.Background(), "r1"); err != nil {
		t.Fatalf("StartWatching failed: %v", err)
	}
	manager.StopWatching("r1")
	manager.StopWatching("r1")

	// Session stays open for the agent, but this observer gets nothing.
	if err := f.relay.Deliver("r1", tracking.Position{Lat: 12, Lng: 11}, false); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := receiver.waitApplied(t, 0); len(got) != 0 {
		t.Fatalf("expected no deliveries after stop, got %v", got)
	}
}

func TestOnDisconnectReleasesAllObservations(t *testing.T) {
	f := newFixture()
	manager := f.manager("o1", newRecordingReceiver())

	for _, routeID := range []string{"r1", "r2"} {
		if _, err := manager.StartWatching(context.Background(), routeID); err != nil {
			t.Fatalf("StartWatching %s failed: %v", routeID, err)
		}
	}

	manager.OnDisconnect()
	manager.OnDisconnect()

	for _, info := range f.registry.Sessions() {
		if info.Observers != 0 {
			t.Fatalf("expected no orphaned observations, got %+v", info)
		}
	}

	if _, err := manager.StartWatching(context.Background(), "r1"); !errors.Is(err, ErrDetached) {
		t.Fatalf("expected ErrDetached after disconnect, got %v", err)
	}

	// A fresh manager for the same observer id can watch again: nothing
	// stacked from before the disconnect.
	fresh := f.manager("o1", newRecordingReceiver())
	defer fresh.OnDisconnect()
	if _, err := fresh.StartWatching(context.Background(), "r1"); err != nil {
		t.Fatalf("resubscribe after disconnect failed: %v", err)
	}
}

func TestStartWatchingUnknownRoute(t *testing.T) {
	f := newFixture()
	manager := f.manager("o1", newRecordingReceiver())
	defer manager.OnDisconnect()

	if _, err := manager.StartWatching(context.Background(), "missing"); !errors.Is(err, tracking.ErrUnknownRoute) {
		t.Fatalf("expected ErrUnknownRoute, got %v", err)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
