package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vidloop-live/internal/models"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// live session lifecycle, room activity, gift revenue, and archive worker
// health. It coordinates concurrent writers via a RWMutex while exposing
// thread-safe gauges for active session and viewer tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	liveEvents      map[string]uint64
	giftCount       map[string]uint64
	giftTotal       map[string]models.Money
	archiveAttempts map[string]uint64
	archiveFailures map[string]uint64
	activeSessions  atomic.Int64
	activeViewers   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		liveEvents:      make(map[string]uint64),
		giftCount:       make(map[string]uint64),
		giftTotal:       make(map[string]models.Money),
		archiveAttempts: make(map[string]uint64),
		archiveFailures: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// SessionStarted records a session start event and increments the active
// session gauge atomically so concurrent rooms remain consistent.
func (r *Recorder) SessionStarted() {
	r.ObserveLiveEvent("session_start")
	r.activeSessions.Add(1)
}

// SessionEnded records a session teardown and decrements the active session
// gauge, guarding against negative counts when concurrent updates race.
func (r *Recorder) SessionEnded() {
	r.ObserveLiveEvent("session_end")
	r.decrementGauge(&r.activeSessions)
}

// ViewerJoined increments the viewer gauge alongside a join event.
func (r *Recorder) ViewerJoined() {
	r.ObserveLiveEvent("viewer_join")
	r.activeViewers.Add(1)
}

// ViewerLeft decrements the viewer gauge alongside a leave event.
func (r *Recorder) ViewerLeft() {
	r.ObserveLiveEvent("viewer_leave")
	r.decrementGauge(&r.activeViewers)
}

// ObserveLiveEvent records a room event type for throughput monitoring.
func (r *Recorder) ObserveLiveEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.liveEvents[normalized]++
	r.mu.Unlock()
}

// ObserveGift tracks delivered gifts by kind, capturing counts and total
// spend.
func (r *Recorder) ObserveGift(kind string, amount models.Money) {
	normalized := normalizeName(kind)
	r.mu.Lock()
	r.giftCount[normalized]++
	total := r.giftTotal[normalized]
	r.giftTotal[normalized] = total.Add(amount)
	r.mu.Unlock()
}

// ObserveArchiveAttempt records an archive operation attempt keyed by record
// kind (e.g., "gift").
func (r *Recorder) ObserveArchiveAttempt(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.archiveAttempts[op]++
	r.mu.Unlock()
}

// ObserveArchiveFailure records a failed archive operation keyed by record
// kind. The caller should also record the attempt separately.
func (r *Recorder) ObserveArchiveFailure(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.archiveFailures[op]++
	r.mu.Unlock()
}

// ActiveSessions exposes the current gauge of concurrently live rooms.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// ActiveViewers exposes the current gauge of connected viewers across rooms.
func (r *Recorder) ActiveViewers() int64 {
	return r.activeViewers.Load()
}

// ArchiveCounts returns copies of archive attempt and failure counters for
// testing and reporting purposes.
func (r *Recorder) ArchiveCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.archiveAttempts))
	for k, v := range r.archiveAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.archiveFailures))
	for k, v := range r.archiveFailures {
		failures[k] = v
	}
	return attempts, failures
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.liveEvents = make(map[string]uint64)
	r.giftCount = make(map[string]uint64)
	r.giftTotal = make(map[string]models.Money)
	r.archiveAttempts = make(map[string]uint64)
	r.archiveFailures = make(map[string]uint64)
	r.activeSessions.Store(0)
	r.activeViewers.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	liveEvents := r.sortedLiveEvents()
	giftKinds := r.sortedGiftKinds()
	archiveOperations := r.sortedArchiveOperations()

	fmt.Fprintln(w, "# HELP vidloop_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE vidloop_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vidloop_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vidloop_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE vidloop_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "vidloop_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP vidloop_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE vidloop_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vidloop_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vidloop_live_events_total Live room events by type")
	fmt.Fprintln(w, "# TYPE vidloop_live_events_total counter")
	for _, event := range liveEvents {
		value := r.liveEvents[event]
		fmt.Fprintf(w, "vidloop_live_events_total{event=\"%s\"} %d\n", event, value)
	}

	fmt.Fprintln(w, "# HELP vidloop_active_sessions Current number of live sessions")
	fmt.Fprintln(w, "# TYPE vidloop_active_sessions gauge")
	fmt.Fprintf(w, "vidloop_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP vidloop_active_viewers Current number of connected viewers")
	fmt.Fprintln(w, "# TYPE vidloop_active_viewers gauge")
	fmt.Fprintf(w, "vidloop_active_viewers %d\n", r.activeViewers.Load())

	fmt.Fprintln(w, "# HELP vidloop_gift_events_total Delivered gifts by kind")
	fmt.Fprintln(w, "# TYPE vidloop_gift_events_total counter")
	for _, kind := range giftKinds {
		count := r.giftCount[kind]
		fmt.Fprintf(w, "vidloop_gift_events_total{kind=\"%s\"} %d\n", kind, count)
	}

	fmt.Fprintln(w, "# HELP vidloop_gift_amount_sum Total gift spend by kind")
	fmt.Fprintln(w, "# TYPE vidloop_gift_amount_sum counter")
	for _, kind := range giftKinds {
		total := r.giftTotal[kind]
		fmt.Fprintf(w, "vidloop_gift_amount_sum{kind=\"%s\"} %s\n", kind, total.DecimalString())
	}

	fmt.Fprintln(w, "# HELP vidloop_archive_attempts_total Total archive operations attempted by record kind")
	fmt.Fprintln(w, "# TYPE vidloop_archive_attempts_total counter")
	for _, op := range archiveOperations {
		count := r.archiveAttempts[op]
		fmt.Fprintf(w, "vidloop_archive_attempts_total{operation=\"%s\"} %d\n", op, count)
	}

	fmt.Fprintln(w, "# HELP vidloop_archive_failures_total Total archive operation failures by record kind")
	fmt.Fprintln(w, "# TYPE vidloop_archive_failures_total counter")
	for _, op := range archiveOperations {
		count := r.archiveFailures[op]
		fmt.Fprintf(w, "vidloop_archive_failures_total{operation=\"%s\"} %d\n", op, count)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedLiveEvents() []string {
	events := make([]string, 0, len(r.liveEvents))
	for event := range r.liveEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedGiftKinds() []string {
	totalKinds := len(r.giftCount) + len(r.giftTotal)
	seen := make(map[string]struct{}, totalKinds)
	kinds := make([]string, 0, totalKinds)
	for kind := range r.giftCount {
		if _, exists := seen[kind]; exists {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	for kind := range r.giftTotal {
		if _, exists := seen[kind]; exists {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (r *Recorder) sortedArchiveOperations() []string {
	seen := make(map[string]struct{}, len(r.archiveAttempts)+len(r.archiveFailures))
	for op := range r.archiveAttempts {
		seen[op] = struct{}{}
	}
	for op := range r.archiveFailures {
		seen[op] = struct{}{}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// SessionStarted increments counters on the default recorder.
func SessionStarted() {
	defaultRecorder.SessionStarted()
}

// SessionEnded decrements active sessions on the default recorder.
func SessionEnded() {
	defaultRecorder.SessionEnded()
}

// ObserveGift records a delivered gift on the default recorder.
func ObserveGift(kind string, amount models.Money) {
	defaultRecorder.ObserveGift(kind, amount)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
