// Package metrics provides Prometheus metrics for the lunch vote service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Voting
	votesCast       *prometheus.CounterVec
	votesRejected   *prometheus.CounterVec
	voteDuplicates  prometheus.Counter
	checkIns        prometheus.Counter
	checkOuts       prometheus.Counter
	optionsResolved *prometheus.CounterVec

	// Resolution
	resolutions       prometheus.Counter
	resolutionLatency prometheus.Histogram
	graceTimerArmed   prometheus.Gauge
	graceTimerFired   prometheus.Counter
	checkedIn         prometheus.Gauge
	votesToday        prometheus.Gauge
	viewWatchers      prometheus.Gauge

	// Store
	snapshotsReceived *prometheus.CounterVec
	storeLatency      *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	notifications     *prometheus.CounterVec

	// Trigger queue and worker
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueEnqueued prometheus.Counter
	queueDequeued prometheus.Counter
	queueDropped  prometheus.Counter
	workerLatency prometheus.Histogram
	workerErrors  prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "lunchvote",
		subsystem:        "",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.votesCast = m.counterVec("votes_cast_total", "Votes accepted, by choice", "choice")
	m.votesRejected = m.counterVec("votes_rejected_total", "Votes refused, by reason", "reason")
	m.voteDuplicates = m.counter("vote_duplicates_total", "Vote submissions dropped as replays")
	m.checkIns = m.counter("checkins_total", "Successful check-ins")
	m.checkOuts = m.counter("checkouts_total", "Successful check-outs")
	m.optionsResolved = m.counterVec("options_resolved_total", "Options that reached a final status", "status")

	m.resolutions = m.counter("resolutions_total", "Resolver runs")
	m.resolutionLatency = m.histogram("resolution_latency_milliseconds", "Time spent deriving a view")
	m.graceTimerArmed = m.gauge("grace_timer_armed", "1 while a grace deadline is pending")
	m.graceTimerFired = m.counter("grace_timer_fired_total", "Grace deadlines that elapsed")
	m.checkedIn = m.gauge("checked_in_participants", "Participants currently checked in")
	m.votesToday = m.gauge("votes_today", "Votes cast since the start of the day")
	m.viewWatchers = m.gauge("view_watchers", "Registered view subscribers")

	m.snapshotsReceived = m.counterVec("snapshots_received_total", "Snapshots delivered by the state source", "store")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency", "store", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Store operation failures", "store", "op")
	m.notifications = m.counterVec("notifications_total", "Check-in notifications, by notifier and result", "notifier", "result")

	m.queueSize = m.gauge("trigger_queue_size", "Pending resolution triggers")
	m.queueCapacity = m.gauge("trigger_queue_capacity", "Trigger queue capacity")
	m.queueEnqueued = m.counter("trigger_queue_enqueued_total", "Triggers enqueued")
	m.queueDequeued = m.counter("trigger_queue_dequeued_total", "Triggers dequeued")
	m.queueDropped = m.counter("trigger_queue_dropped_total", "Triggers coalesced because the queue was full")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Trigger handling latency")
	m.workerErrors = m.counter("worker_errors_total", "Trigger handling failures")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration",
		"endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
}

// RecordVoteCast counts an accepted vote.
func RecordVoteCast(approve bool) {
	choice := "no"
	if approve {
		choice = "yes"
	}
	globalManager.votesCast.WithLabelValues(choice).Inc()
}

// RecordVoteRejected counts a refused vote.
func RecordVoteRejected(reason string) {
	globalManager.votesRejected.WithLabelValues(reason).Inc()
}

// RecordVoteDuplicate counts a replayed vote submission.
func RecordVoteDuplicate() {
	globalManager.voteDuplicates.Inc()
}

// RecordCheckIn counts a check-in.
func RecordCheckIn() {
	globalManager.checkIns.Inc()
}

// RecordCheckOut counts a check-out.
func RecordCheckOut() {
	globalManager.checkOuts.Inc()
}

// RecordOptionResolved counts an option reaching a final status.
func RecordOptionResolved(status string) {
	globalManager.optionsResolved.WithLabelValues(status).Inc()
}

// RecordResolution records one resolver run.
func RecordResolution(latencyMs float64) {
	globalManager.resolutions.Inc()
	globalManager.resolutionLatency.Observe(latencyMs)
}

// UpdateGraceTimerArmed reflects whether a grace deadline is pending.
func UpdateGraceTimerArmed(armed bool) {
	if armed {
		globalManager.graceTimerArmed.Set(1)
		return
	}
	globalManager.graceTimerArmed.Set(0)
}

// RecordGraceTimerFired counts an elapsed grace deadline.
func RecordGraceTimerFired() {
	globalManager.graceTimerFired.Inc()
}

// UpdateCheckedIn sets the checked-in participant count.
func UpdateCheckedIn(n int) {
	globalManager.checkedIn.Set(float64(n))
}

// UpdateVotesToday sets the number of votes counted today.
func UpdateVotesToday(n int) {
	globalManager.votesToday.Set(float64(n))
}

// UpdateViewWatchers sets the number of view subscribers.
func UpdateViewWatchers(n int) {
	globalManager.viewWatchers.Set(float64(n))
}

// RecordSnapshotReceived counts a snapshot pushed by a store.
func RecordSnapshotReceived(store string) {
	globalManager.snapshotsReceived.WithLabelValues(store).Inc()
}

// RecordStoreLatency records the latency of a store operation.
func RecordStoreLatency(store, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(store, op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(store, op string) {
	globalManager.storeErrors.WithLabelValues(store, op).Inc()
}

// RecordNotification counts a notifier publish attempt.
func RecordNotification(notifier, result string) {
	globalManager.notifications.WithLabelValues(notifier, result).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueDropped counts a trigger coalesced into an already full queue.
func RecordQueueDropped() {
	globalManager.queueDropped.Inc()
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
