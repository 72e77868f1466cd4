package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"vidloop-live/internal/models"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		duration time.Duration
	}

	cases := []testCase{
		{
			name:     "root path",
			method:   "get",
			path:     "/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "empty path",
			method:   "GET",
			path:     "",
			status:   200,
			duration: 25 * time.Millisecond,
		},
		{
			name:     "id segment",
			method:   "post",
			path:     "/users/123",
			status:   201,
			duration: 100 * time.Millisecond,
		},
		{
			name:     "trailing slash and alpha id",
			method:   "POST",
			path:     "/users/abc123def/",
			status:   201,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "multi ids",
			method:   "PATCH",
			path:     "lives/abc/456/extra",
			status:   404,
			duration: 10 * time.Millisecond,
		},
	}

	expectedCounts := make(map[requestLabel]struct {
		count    uint64
		duration time.Duration
	})

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)

		label := requestLabel{
			method: strings.ToUpper(tc.method),
			path:   normalizePath(tc.path),
			status: fmt.Sprintf("%d", tc.status),
		}
		current := expectedCounts[label]
		current.count++
		current.duration += tc.duration
		expectedCounts[label] = current
	}

	if len(recorder.requestCount) != len(expectedCounts) {
		t.Fatalf("unexpected number of labels: got %d want %d", len(recorder.requestCount), len(expectedCounts))
	}

	for label, expected := range expectedCounts {
		gotCount := recorder.requestCount[label]
		gotDuration := recorder.requestDuration[label]
		if gotCount != expected.count {
			t.Errorf("count mismatch for %+v: got %d want %d", label, gotCount, expected.count)
		}
		if gotDuration != expected.duration {
			t.Errorf("duration mismatch for %+v: got %s want %s", label, gotDuration, expected.duration)
		}
	}

	labels := recorder.sortedRequestLabels()
	sortedExpected := make([]requestLabel, 0, len(expectedCounts))
	for label := range expectedCounts {
		sortedExpected = append(sortedExpected, label)
	}
	sort.Slice(sortedExpected, func(i, j int) bool {
		if sortedExpected[i].method != sortedExpected[j].method {
			return sortedExpected[i].method < sortedExpected[j].method
		}
		if sortedExpected[i].path != sortedExpected[j].path {
			return sortedExpected[i].path < sortedExpected[j].path
		}
		return sortedExpected[i].status < sortedExpected[j].status
	})

	if len(labels) != len(sortedExpected) {
		t.Fatalf("sorted labels length mismatch: got %d want %d", len(labels), len(sortedExpected))
	}

	for i := range labels {
		if labels[i] != sortedExpected[i] {
			t.Errorf("sorted label %d mismatch: got %+v want %+v", i, labels[i], sortedExpected[i])
		}
	}
}

func TestSessionGaugeConcurrent(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	starts := 100
	stops := 150

	wg.Add(starts + stops)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			recorder.SessionStarted()
		}()
	}
	for i := 0; i < stops; i++ {
		go func() {
			defer wg.Done()
			recorder.SessionEnded()
		}()
	}

	wg.Wait()

	if active := recorder.ActiveSessions(); active != 0 {
		t.Fatalf("active sessions should not go negative; got %d", active)
	}

	if count := recorder.liveEvents["session_start"]; count != uint64(starts) {
		t.Fatalf("unexpected start events: got %d want %d", count, starts)
	}
	if count := recorder.liveEvents["session_end"]; count != uint64(stops) {
		t.Fatalf("unexpected end events: got %d want %d", count, stops)
	}
}

func TestViewerGauge(t *testing.T) {
	recorder := New()

	recorder.ViewerJoined()
	recorder.ViewerJoined()
	recorder.ViewerLeft()
	recorder.ViewerLeft()
	recorder.ViewerLeft()

	if active := recorder.ActiveViewers(); active != 0 {
		t.Fatalf("active viewers should not go negative; got %d", active)
	}
}

func TestArchiveCounts(t *testing.T) {
	recorder := New()

	recorder.ObserveArchiveAttempt("gift")
	recorder.ObserveArchiveAttempt("gift")
	recorder.ObserveArchiveFailure("gift")

	attempts, failures := recorder.ArchiveCounts()
	if attempts["gift"] != 2 {
		t.Fatalf("unexpected attempts: got %d want 2", attempts["gift"])
	}
	if failures["gift"] != 1 {
		t.Fatalf("unexpected failures: got %d want 1", failures["gift"])
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/users/abc123", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/users/456/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/users", 201, time.Second)

	recorder.SessionStarted()
	recorder.SessionStarted()
	recorder.SessionEnded()

	recorder.ObserveLiveEvent("comment")
	recorder.ObserveLiveEvent("comment")

	recorder.ObserveGift("rose", models.MustParseMoney("0.01"))
	recorder.ObserveGift("rose", models.MustParseMoney("0.01"))
	recorder.ObserveGift("rocket", models.MustParseMoney("1"))

	recorder.ObserveArchiveAttempt("gift")

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP vidloop_http_requests_total Total number of HTTP requests processed by the API
# TYPE vidloop_http_requests_total counter
vidloop_http_requests_total{method="GET",path="/users/:id",status="200"} 2
vidloop_http_requests_total{method="POST",path="/users",status="201"} 1
# HELP vidloop_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE vidloop_http_request_duration_seconds_sum counter
vidloop_http_request_duration_seconds_sum{method="GET",path="/users/:id",status="200"} 0.200000
vidloop_http_request_duration_seconds_sum{method="POST",path="/users",status="201"} 1.000000
# HELP vidloop_http_request_duration_seconds_count Total number of observations for request durations
# TYPE vidloop_http_request_duration_seconds_count counter
vidloop_http_request_duration_seconds_count{method="GET",path="/users/:id",status="200"} 2
vidloop_http_request_duration_seconds_count{method="POST",path="/users",status="201"} 1
# HELP vidloop_live_events_total Live room events by type
# TYPE vidloop_live_events_total counter
vidloop_live_events_total{event="comment"} 2
vidloop_live_events_total{event="session_end"} 1
vidloop_live_events_total{event="session_start"} 2
# HELP vidloop_active_sessions Current number of live sessions
# TYPE vidloop_active_sessions gauge
vidloop_active_sessions 1
# HELP vidloop_active_viewers Current number of connected viewers
# TYPE vidloop_active_viewers gauge
vidloop_active_viewers 0
# HELP vidloop_gift_events_total Delivered gifts by kind
# TYPE vidloop_gift_events_total counter
vidloop_gift_events_total{kind="rocket"} 1
vidloop_gift_events_total{kind="rose"} 2
# HELP vidloop_gift_amount_sum Total gift spend by kind
# TYPE vidloop_gift_amount_sum counter
vidloop_gift_amount_sum{kind="rocket"} 1
vidloop_gift_amount_sum{kind="rose"} 0.02
# HELP vidloop_archive_attempts_total Total archive operations attempted by record kind
# TYPE vidloop_archive_attempts_total counter
vidloop_archive_attempts_total{operation="gift"} 1
# HELP vidloop_archive_failures_total Total archive operation failures by record kind
# TYPE vidloop_archive_failures_total counter
vidloop_archive_failures_total{operation="gift"} 0`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
