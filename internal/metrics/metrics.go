// Package metrics keeps process-local counters for the watch engine and
// renders them in the Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Registry struct {
	watchesOpened   atomic.Int64
	watchesClosed   atomic.Int64
	locationsOnline atomic.Int64
	forwarded       atomic.Int64
	watchErrors     atomic.Int64
	events          sync.Map
	busSubscribers  sync.Map
}

type eventStats struct {
	published atomic.Int64
	dropped   atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncWatchOpened() {
	if r == nil {
		return
	}
	r.watchesOpened.Add(1)
}

func (r *Registry) IncWatchClosed() {
	if r == nil {
		return
	}
	r.watchesClosed.Add(1)
}

func (r *Registry) IncLocationOnline() {
	if r == nil {
		return
	}
	r.locationsOnline.Add(1)
}

func (r *Registry) DecLocationOnline() {
	if r == nil {
		return
	}
	r.locationsOnline.Add(-1)
}

func (r *Registry) IncForwarded() {
	if r == nil {
		return
	}
	r.forwarded.Add(1)
}

func (r *Registry) IncWatchError() {
	if r == nil {
		return
	}
	r.watchErrors.Add(1)
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventStats(bus, eventType).published.Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventStats(bus, eventType).dropped.Add(1)
}

func (r *Registry) SetBusSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.busSubscribers.Store(bus, int64(count))
}

// Summary is a point-in-time copy of the counters, for JSON status replies.
type Summary struct {
	WatchesOpened   int64            `json:"watches_opened"`
	WatchesClosed   int64            `json:"watches_closed"`
	LocationsOnline int64            `json:"locations_online"`
	EventsForwarded int64            `json:"events_forwarded"`
	WatchErrors     int64            `json:"watch_errors"`
	EventsPublished map[string]int64 `json:"events_published,omitempty"`
	EventsDropped   map[string]int64 `json:"events_dropped,omitempty"`
}

func (r *Registry) Snapshot() Summary {
	if r == nil {
		return Summary{}
	}
	summary := Summary{
		WatchesOpened:   r.watchesOpened.Load(),
		WatchesClosed:   r.watchesClosed.Load(),
		LocationsOnline: r.locationsOnline.Load(),
		EventsForwarded: r.forwarded.Load(),
		WatchErrors:     r.watchErrors.Load(),
	}
	r.events.Range(func(key, value any) bool {
		name, ok := key.(string)
		if !ok {
			return true
		}
		stats := value.(*eventStats)
		if published := stats.published.Load(); published > 0 {
			if summary.EventsPublished == nil {
				summary.EventsPublished = make(map[string]int64)
			}
			summary.EventsPublished[name] = published
		}
		if dropped := stats.dropped.Load(); dropped > 0 {
			if summary.EventsDropped == nil {
				summary.EventsDropped = make(map[string]int64)
			}
			summary.EventsDropped[name] = dropped
		}
		return true
	})
	return summary
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "canopy_watches_opened_total", "Native watch handles opened", r.watchesOpened.Load())
	writeCounter(writer, "canopy_watches_closed_total", "Native watch handles closed", r.watchesClosed.Load())
	writeGauge(writer, "canopy_locations_online", "Watched locations currently online", r.locationsOnline.Load())
	writeCounter(writer, "canopy_events_forwarded_total", "Events forwarded from parent to child locations", r.forwarded.Load())
	writeCounter(writer, "canopy_watch_errors_total", "Errors reported by the native watch layer", r.watchErrors.Load())

	names := r.eventNames()
	sort.Strings(names)

	writeHelp(writer, "canopy_events_published_total", "Events published per bus and type")
	fmt.Fprintln(writer, "# TYPE canopy_events_published_total counter")
	writeHelp(writer, "canopy_events_dropped_total", "Events dropped per bus and type")
	fmt.Fprintln(writer, "# TYPE canopy_events_dropped_total counter")
	for _, name := range names {
		bus, eventType := splitEventKey(name)
		stats := r.eventStats(bus, eventType)
		labels := fmt.Sprintf("{bus=%s,type=%s}", formatLabel(bus), formatLabel(eventType))
		fmt.Fprintf(writer, "canopy_events_published_total%s %d\n", labels, stats.published.Load())
		fmt.Fprintf(writer, "canopy_events_dropped_total%s %d\n", labels, stats.dropped.Load())
	}

	writeHelp(writer, "canopy_bus_subscribers", "Active subscribers per bus")
	fmt.Fprintln(writer, "# TYPE canopy_bus_subscribers gauge")
	buses := r.busNames()
	sort.Strings(buses)
	for _, bus := range buses {
		value, _ := r.busSubscribers.Load(bus)
		count, _ := value.(int64)
		fmt.Fprintf(writer, "canopy_bus_subscribers{bus=%s} %d\n", formatLabel(bus), count)
	}

	return nil
}

func (r *Registry) eventStats(bus, eventType string) *eventStats {
	value, _ := r.events.LoadOrStore(eventKey(bus, eventType), &eventStats{})
	return value.(*eventStats)
}

func (r *Registry) eventNames() []string {
	if r == nil {
		return nil
	}
	var names []string
	r.events.Range(func(key, value any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func (r *Registry) busNames() []string {
	if r == nil {
		return nil
	}
	var names []string
	r.busSubscribers.Range(func(key, value any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func eventKey(bus, eventType string) string {
	return bus + "\x00" + eventType
}

func splitEventKey(key string) (bus, eventType string) {
	parts := strings.SplitN(key, "\x00", 2)
	if len(parts) != 2 {
		return key, "unknown"
	}
	return parts[0], parts[1]
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return "\"" + escaped + "\""
}
