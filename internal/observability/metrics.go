package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	pipeline     map[string]int64
}

// Pipeline counter names.
const (
	CounterPositionsAccepted  = "positions_accepted"
	CounterPositionsThrottled = "positions_throttled"
	CounterGeocodeCalls       = "geocode_calls"
	CounterGeocodeSkips       = "geocode_skips"
	CounterGeocodeFailures    = "geocode_failures"
	CounterArchiveWrites      = "archive_writes"
	CounterRosterRenders      = "roster_renders"
)

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		pipeline:     make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// IncrPipeline increments a named pipeline counter.
func (m *Metrics) IncrPipeline(counter string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline[counter]++
}

// PipelineCount returns the current value of a pipeline counter.
func (m *Metrics) PipelineCount(counter string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipeline[counter]
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
