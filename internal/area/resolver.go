package area

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/geo"
	"github.com/spec-kit/courier-track/internal/geocode"
	"github.com/spec-kit/courier-track/internal/observability"
	"github.com/spec-kit/courier-track/internal/store"
)

// entry is the per-agent cache line. The pending flag doubles as the
// mutual-exclusion guard for in-flight lookups: a second trigger for the
// same agent arriving before the first completes is dropped.
type entry struct {
	area        string
	lat         float64
	lng         float64
	lastFetchAt time.Time
	pending     bool
}

// Resolver maps coordinates to display area names with a per-agent cache
// and a dual time+movement refresh gate bounding external call volume.
type Resolver struct {
	geocoder  geocode.ReverseGeocoder
	records   store.RecordStore
	logger    *zap.Logger
	metrics   *observability.Metrics
	staleness time.Duration
	moveKm    float64
	onUpdate  func(agentID string)

	mu    sync.Mutex
	cache map[string]*entry

	now func() time.Time
}

// NewResolver builds a resolver. onUpdate is invoked after a successful
// refresh so the dashboard can re-render; it may be nil.
func NewResolver(
	geocoder geocode.ReverseGeocoder,
	records store.RecordStore,
	cfg config.TrackingConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
	onUpdate func(agentID string),
) *Resolver {
	return &Resolver{
		geocoder:  geocoder,
		records:   records,
		logger:    logger,
		metrics:   metrics,
		staleness: cfg.AreaStaleness(),
		moveKm:    cfg.AreaMovementKm,
		onUpdate:  onUpdate,
		cache:     make(map[string]*entry),
		now:       time.Now,
	}
}

// Resolve returns a display area for the agent's current position. It is
// synchronous and never blocks: a cached (possibly stale) value or a
// coordinate placeholder is returned immediately while any refresh runs
// in the background.
func (r *Resolver) Resolve(agentID string, lat, lng float64, knownArea string) string {
	if knownArea != "" {
		r.mu.Lock()
		e := r.ensureLocked(agentID)
		e.area = knownArea
		// seed the gate inputs too, so a record-carried area counts as a
		// fresh fetch and the next trigger for an unmoved agent is skipped
		if e.lastFetchAt.IsZero() {
			e.lat = lat
			e.lng = lng
			e.lastFetchAt = r.now()
		}
		r.mu.Unlock()
		return knownArea
	}

	r.mu.Lock()
	e, ok := r.cache[agentID]
	var cached string
	if ok {
		cached = e.area
	} else {
		r.ensureLocked(agentID)
	}
	r.mu.Unlock()

	go r.refresh(agentID, lat, lng)

	if cached != "" {
		return cached
	}
	return placeholder(lat, lng)
}

// Enrich is the write-path variant used by the ingestion pipeline: it
// returns whatever area is cached right now (possibly empty, never a
// placeholder) and schedules a background refresh. Position writes are
// never blocked waiting for enrichment.
func (r *Resolver) Enrich(agentID string, lat, lng float64) string {
	r.mu.Lock()
	e := r.ensureLocked(agentID)
	cached := e.area
	r.mu.Unlock()

	go r.refresh(agentID, lat, lng)
	return cached
}

// Forget drops the cache line for a deleted agent.
func (r *Resolver) Forget(agentID string) {
	r.mu.Lock()
	delete(r.cache, agentID)
	r.mu.Unlock()
}

// refresh applies the dual time+movement gate and, when it passes, issues
// one external lookup. Failures keep the previous area and are never
// surfaced to the user.
func (r *Resolver) refresh(agentID string, lat, lng float64) {
	r.mu.Lock()
	e := r.ensureLocked(agentID)
	if e.pending {
		r.mu.Unlock()
		r.metrics.IncrPipeline(observability.CounterGeocodeSkips)
		return
	}
	if !e.lastFetchAt.IsZero() {
		fresh := r.now().Sub(e.lastFetchAt) < r.staleness
		moved := geo.DistanceKm(e.lat, e.lng, lat, lng)
		if fresh && moved < r.moveKm {
			r.mu.Unlock()
			r.metrics.IncrPipeline(observability.CounterGeocodeSkips)
			return
		}
	}
	e.pending = true
	r.mu.Unlock()

	// The lookup deliberately outlives any caller context: in-flight
	// enrichment runs to completion or failure and is not retried.
	ctx := context.Background()
	r.metrics.IncrPipeline(observability.CounterGeocodeCalls)
	resolved, err := r.geocoder.ReverseArea(ctx, lat, lng)

	r.mu.Lock()
	e = r.ensureLocked(agentID)
	e.pending = false
	if err != nil {
		r.mu.Unlock()
		r.metrics.IncrPipeline(observability.CounterGeocodeFailures)
		r.logger.Debug("area lookup failed", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	e.area = resolved
	e.lat = lat
	e.lng = lng
	e.lastFetchAt = r.now()
	r.mu.Unlock()

	if err := r.records.Patch(ctx, agentID, store.Patch{Area: &resolved}); err != nil {
		r.logger.Warn("area patch failed", zap.String("agent_id", agentID), zap.Error(err))
	}
	if r.onUpdate != nil {
		r.onUpdate(agentID)
	}
}

func (r *Resolver) ensureLocked(agentID string) *entry {
	e, ok := r.cache[agentID]
	if !ok {
		e = &entry{}
		r.cache[agentID] = e
	}
	return e
}

func placeholder(lat, lng float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lng)
}
