package adapter

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"echo-fixture/server"
)

// RequestLog is the structured log entry written for every request.
type RequestLog struct {
	ID         string
	Adapter    string
	Method     string
	Path       string
	Status     int
	Duration   time.Duration
	RemoteAddr string
	UserAgent  string
	Error      string

	start time.Time
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *RequestLog) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", r.ID)
	enc.AddString("adapter", r.Adapter)
	enc.AddString("method", r.Method)
	enc.AddString("path", r.Path)
	enc.AddInt("status", r.Status)
	enc.AddFloat64("duration_ms", float64(r.Duration.Microseconds())/1000)
	if r.RemoteAddr != "" {
		enc.AddString("remote_addr", r.RemoteAddr)
	}
	if r.UserAgent != "" {
		enc.AddString("user_agent", r.UserAgent)
	}
	if r.Error != "" {
		enc.AddString("error", r.Error)
	}
	return nil
}

type RouteMetrics struct {
	Count        uint64        `json:"count"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

type Metrics struct {
	mu            sync.Mutex
	totalRequests uint64
	totalErrors   uint64
	inFlight      uint64
	byRoute       map[string]*RouteMetrics
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	TotalRequests uint64                  `json:"total_requests"`
	TotalErrors   uint64                  `json:"total_errors"`
	InFlight      uint64                  `json:"in_flight"`
	ByRoute       map[string]RouteMetrics `json:"by_route"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		byRoute: make(map[string]*RouteMetrics),
	}
}

func (m *Metrics) StartRequest(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
	m.totalRequests++
	if _, ok := m.byRoute[route]; !ok {
		m.byRoute[route] = &RouteMetrics{}
	}
}

func (m *Metrics) EndRequest(route string, latency time.Duration, err bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight > 0 {
		m.inFlight--
	}
	if err {
		m.totalErrors++
	}

	rm := m.byRoute[route]
	if rm == nil {
		rm = &RouteMetrics{}
		m.byRoute[route] = rm
	}
	rm.Count++
	rm.TotalLatency += latency
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalRequests: m.totalRequests,
		TotalErrors:   m.totalErrors,
		InFlight:      m.inFlight,
		ByRoute:       make(map[string]RouteMetrics, len(m.byRoute)),
	}
	for route, rm := range m.byRoute {
		snap.ByRoute[route] = *rm
	}
	return snap
}

// routeKey keeps the per-route map bounded: every non-fixed path shares "*".
func routeKey(path string) string {
	switch path {
	case server.CookiePath, server.EchoPath:
		return path
	default:
		return "*"
	}
}

// Observer logs and counts requests. It never touches responses.
type Observer struct {
	log     *zap.Logger
	metrics *Metrics
}

// NewObserver returns an Observer. A nil logger discards entries and nil
// metrics are replaced with a fresh set.
func NewObserver(log *zap.Logger, metrics *Metrics) *Observer {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Observer{log: log, metrics: metrics}
}

func (o *Observer) Metrics() *Metrics {
	return o.metrics
}

func (o *Observer) begin(adapter, method, path, remoteAddr, userAgent string) *RequestLog {
	o.metrics.StartRequest(routeKey(path))
	return &RequestLog{
		ID:         uuid.NewString(),
		Adapter:    adapter,
		Method:     method,
		Path:       path,
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		start:      time.Now(),
	}
}

func (o *Observer) end(entry *RequestLog, status int, err error) {
	entry.Duration = time.Since(entry.start)
	entry.Status = status
	if err != nil {
		entry.Error = err.Error()
	}
	o.metrics.EndRequest(routeKey(entry.Path), entry.Duration, err != nil)

	if err != nil {
		o.log.Warn("request failed", zap.Object("request", entry))
		return
	}
	o.log.Info("request", zap.Object("request", entry))
}
