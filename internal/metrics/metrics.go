package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry counts tracking events and renders them in Prometheus text format.
// All methods are safe for concurrent use and safe on a nil receiver.
type Registry struct {
	sessionsOpened    atomic.Int64
	sessionsFinished  atomic.Int64
	sessionsClosed    atomic.Int64
	observersAttached atomic.Int64
	observersDetached atomic.Int64
	malformedUpdates  atomic.Int64
	routes            sync.Map
}

type routeStats struct {
	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncSessionOpened() {
	if r == nil {
		return
	}
	r.sessionsOpened.Add(1)
}

func (r *Registry) IncSessionFinished() {
	if r == nil {
		return
	}
	r.sessionsFinished.Add(1)
}

func (r *Registry) IncSessionClosed() {
	if r == nil {
		return
	}
	r.sessionsClosed.Add(1)
}

func (r *Registry) IncObserverAttached() {
	if r == nil {
		return
	}
	r.observersAttached.Add(1)
}

func (r *Registry) IncObserverDetached() {
	if r == nil {
		return
	}
	r.observersDetached.Add(1)
}

func (r *Registry) IncMalformedUpdate() {
	if r == nil {
		return
	}
	r.malformedUpdates.Add(1)
}

func (r *Registry) IncUpdatePublished(routeID string) {
	if r == nil {
		return
	}
	r.routeStats(routeID).published.Add(1)
}

func (r *Registry) IncUpdateDelivered(routeID string) {
	if r == nil {
		return
	}
	r.routeStats(routeID).delivered.Add(1)
}

func (r *Registry) IncUpdateDropped(routeID string) {
	if r == nil {
		return
	}
	r.routeStats(routeID).dropped.Add(1)
}

func (r *Registry) MalformedUpdates() int64 {
	if r == nil {
		return 0
	}
	return r.malformedUpdates.Load()
}

func (r *Registry) UpdatesDropped(routeID string) int64 {
	if r == nil {
		return 0
	}
	return r.routeStats(routeID).dropped.Load()
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "tracker_sessions_opened_total", "Total tracking sessions opened", r.sessionsOpened.Load())
	writeCounter(writer, "tracker_sessions_finished_total", "Total tracking sessions finished", r.sessionsFinished.Load())
	writeCounter(writer, "tracker_sessions_closed_total", "Total tracking sessions closed", r.sessionsClosed.Load())
	writeCounter(writer, "tracker_observers_attached_total", "Total observer attachments", r.observersAttached.Load())
	writeCounter(writer, "tracker_observers_detached_total", "Total observer detachments", r.observersDetached.Load())
	writeCounter(writer, "tracker_malformed_updates_total", "Total malformed position updates rejected", r.malformedUpdates.Load())

	routeIDs := r.routeIDs()
	sort.Strings(routeIDs)

	writeHelp(writer, "tracker_updates_published_total", "Position updates accepted per route")
	fmt.Fprintln(writer, "# TYPE tracker_updates_published_total counter")
	writeHelp(writer, "tracker_updates_delivered_total", "Position updates delivered to observers per route")
	fmt.Fprintln(writer, "# TYPE tracker_updates_delivered_total counter")
	writeHelp(writer, "tracker_updates_dropped_total", "Position updates dropped per route")
	fmt.Fprintln(writer, "# TYPE tracker_updates_dropped_total counter")

	for _, routeID := range routeIDs {
		stats := r.routeStats(routeID)
		label := formatLabel(routeID)
		fmt.Fprintf(writer, "tracker_updates_published_total{route=%s} %d\n", label, stats.published.Load())
		fmt.Fprintf(writer, "tracker_updates_delivered_total{route=%s} %d\n", label, stats.delivered.Load())
		fmt.Fprintf(writer, "tracker_updates_dropped_total{route=%s} %d\n", label, stats.dropped.Load())
	}

	return nil
}

func (r *Registry) routeStats(routeID string) *routeStats {
	if strings.TrimSpace(routeID) == "" {
		routeID = "unknown"
	}
	value, _ := r.routes.LoadOrStore(routeID, &routeStats{})
	return value.(*routeStats)
}

func (r *Registry) routeIDs() []string {
	if r == nil {
		return nil
	}
	var ids []string
	r.routes.Range(func(key, value interface{}) bool {
		if id, ok := key.(string); ok {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

func writeCounter(writer io.Writer, name, help string, value int64) {
	writeHelp(writer, name, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", name)
	fmt.Fprintf(writer, "%s %d\n", name, value)
}

func writeHelp(writer io.Writer, name, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", name, help)
}

func formatLabel(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return `"` + escaped + `"`
}
