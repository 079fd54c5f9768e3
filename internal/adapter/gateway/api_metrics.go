package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"teacher-agent/internal/domain"
)

// countedEvents are the bus events exported as counters, in output order.
var countedEvents = []struct {
	typ  domain.EventType
	name string
	help string
}{
	{domain.EventSessionCreated, "sessions_created_total", "Sessions created."},
	{domain.EventSessionDeleted, "sessions_deleted_total", "Sessions deleted."},
	{domain.EventSessionReaped, "sessions_reaped_total", "Idle sessions reaped."},
	{domain.EventChatRequestReceived, "chat_requests_total", "Request/response exchanges received."},
	{domain.EventCapabilityInvoked, "capability_invocations_total", "Capability invocations that produced an answer."},
	{domain.EventCapabilityFailed, "capability_failures_total", "Capability invocations that failed."},
	{domain.EventTurnCompleted, "turns_completed_total", "Streaming turns completed."},
	{domain.EventTurnInterrupted, "turns_interrupted_total", "Streaming turns interrupted."},
	{domain.EventStreamRejected, "stream_messages_rejected_total", "Client stream messages rejected."},
	{domain.EventOracleError, "oracle_errors_total", "Oracle errors reported on streams."},
	{domain.EventConnectionOpened, "connections_opened_total", "Streaming connections opened."},
	{domain.EventConnectionClosed, "connections_closed_total", "Streaming connections closed."},
}

const metricPrefix = "teacheragent_"

// Metrics counts bus events for the Prometheus endpoint.
type Metrics struct {
	start    time.Time
	counters map[domain.EventType]*atomic.Int64

	mu     sync.Mutex
	routes map[domain.CapabilityName]int64
}

// NewMetrics creates a Metrics with all counters at zero.
func NewMetrics() *Metrics {
	m := &Metrics{
		start:    time.Now(),
		counters: make(map[domain.EventType]*atomic.Int64, len(countedEvents)),
		routes:   make(map[domain.CapabilityName]int64),
	}
	for _, c := range countedEvents {
		m.counters[c.typ] = new(atomic.Int64)
	}
	return m
}

// Subscribe feeds m from bus and returns the unsubscribe function.
func (m *Metrics) Subscribe(bus domain.EventBus) func() {
	if bus == nil {
		return func() {}
	}
	return bus.SubscribeAll(func(_ context.Context, e domain.Event) { m.Observe(e) })
}

// Observe counts one event.
func (m *Metrics) Observe(e domain.Event) {
	if c, ok := m.counters[e.Type]; ok {
		c.Add(1)
	}
	if e.Type != domain.EventRouteSelected {
		return
	}
	var d domain.RoutingDecision
	if err := json.Unmarshal(e.Payload, &d); err != nil || d.SelectedCapability == "" {
		return
	}
	m.mu.Lock()
	m.routes[d.SelectedCapability]++
	m.mu.Unlock()
}

// Count returns the counter for t.
func (m *Metrics) Count(t domain.EventType) int64 {
	if c, ok := m.counters[t]; ok {
		return c.Load()
	}
	return 0
}

// Routes returns the number of routing decisions per capability.
func (m *Metrics) Routes() map[domain.CapabilityName]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.CapabilityName]int64, len(m.routes))
	for k, v := range m.routes {
		out[k] = v
	}
	return out
}

// gauges supplies point-in-time values for the metrics endpoint.
type gauges struct {
	httpSessions   int
	streamSessions int
}

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
func metricsHandler(m *Metrics, current func() gauges) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writeMetrics(w, m, current())
	}
}

func writeMetrics(w io.Writer, m *Metrics, g gauges) {
	metric := func(name, typ, help string) {
		fmt.Fprintf(w, "# HELP %s%s %s\n", metricPrefix, name, help)
		fmt.Fprintf(w, "# TYPE %s%s %s\n", metricPrefix, name, typ)
	}

	metric("sessions_active", "gauge", "Active sessions per transport.")
	fmt.Fprintf(w, "%ssessions_active{transport=%q} %d\n", metricPrefix, domain.NamespaceHTTP, g.httpSessions)
	fmt.Fprintf(w, "%ssessions_active{transport=%q} %d\n", metricPrefix, domain.NamespaceStream, g.streamSessions)

	for _, c := range countedEvents {
		metric(c.name, "counter", c.help)
		fmt.Fprintf(w, "%s%s %d\n", metricPrefix, c.name, m.Count(c.typ))
	}

	routes := m.Routes()
	names := make([]string, 0, len(routes))
	for k := range routes {
		names = append(names, string(k))
	}
	sort.Strings(names)
	metric("routes_total", "counter", "Routing decisions per capability.")
	for _, n := range names {
		fmt.Fprintf(w, "%sroutes_total{capability=%q} %d\n", metricPrefix, n, routes[domain.CapabilityName(n)])
	}

	metric("uptime_seconds", "gauge", "Seconds since the server started.")
	fmt.Fprintf(w, "%suptime_seconds %.0f\n", metricPrefix, time.Since(m.start).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
	fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)
}
