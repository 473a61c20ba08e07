package roster

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/area"
	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/geo"
	"github.com/spec-kit/courier-track/internal/observability"
	"github.com/spec-kit/courier-track/internal/phone"
	"github.com/spec-kit/courier-track/internal/store"
)

// Display placeholders for rows without usable data.
const (
	pendingLabel  = "pending approval"
	approvedLabel = "approved"
	locatingArea  = "locating area"
	noArea        = "unavailable"
)

// Row is one rendered dashboard line.
type Row struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	PhoneDisplay string     `json:"phoneDisplay"`
	Status       string     `json:"status"`
	Live         bool       `json:"live"`
	Area         string     `json:"area"`
	Distance     string     `json:"distance"`
	ETA          string     `json:"eta"`
	LastSeenAt   *time.Time `json:"lastSeenAt"`
	Within100m   bool       `json:"within100m"`
}

// Snapshot is the current ranked roster plus its render stamp.
type Snapshot struct {
	Rows      []Row     `json:"rows"`
	UpdatedAt time.Time `json:"updatedAt"`
	HomeName  string    `json:"homeName"`
	HomeLat   float64   `json:"homeLat"`
	HomeLng   float64   `json:"homeLng"`
}

// derived is the ephemeral per-agent view state, recomputed every render
// pass and never persisted.
type derived struct {
	agent      domain.Agent
	hasCoords  bool
	live       bool
	distanceKm float64
	within100m bool
}

// Engine aggregates the roster into ranked rows. It re-renders on every
// store change and on a fixed tick, so liveness decays without new data.
type Engine struct {
	records     store.RecordStore
	resolver    *area.Resolver
	cfg         config.TrackingConfig
	countryCode string
	logger      *zap.Logger
	metrics     *observability.Metrics

	refresh chan struct{}

	snapMu sync.RWMutex
	latest Snapshot

	now func() time.Time
}

// NewEngine builds the aggregation engine.
func NewEngine(
	records store.RecordStore,
	resolver *area.Resolver,
	cfg config.TrackingConfig,
	countryCode string,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Engine {
	e := &Engine{
		records:     records,
		resolver:    resolver,
		cfg:         cfg,
		countryCode: countryCode,
		logger:      logger,
		metrics:     metrics,
		refresh:     make(chan struct{}, 1),
		now:         time.Now,
	}
	e.storeSnapshot(Snapshot{UpdatedAt: e.now(), HomeName: cfg.HomeName, HomeLat: cfg.HomeLat, HomeLng: cfg.HomeLng})
	return e
}

// Invalidate nudges the engine to re-render. Safe from any goroutine;
// used as the area resolver's update hook and by the store subscription.
func (e *Engine) Invalidate() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

// Current returns the latest rendered snapshot. Non-destructive: any
// number of readers may call it concurrently with a render.
func (e *Engine) Current() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.latest
}

// Run subscribes to the roster and re-renders until the context ends.
// Each external trigger (store push, resolver update, timer tick) is one
// message into this single consumer; ordering between them is arbitrary.
func (e *Engine) Run(ctx context.Context) error {
	sub, err := e.records.Subscribe(ctx,
		func(string) { e.Invalidate() },
		func(err error) {
			e.logger.Warn("roster subscription error", zap.Error(err))
		})
	if err != nil {
		return err
	}
	defer sub.Close()

	ticker := time.NewTicker(e.cfg.RenderTick())
	defer ticker.Stop()

	e.renderOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.refresh:
			e.renderOnce(ctx)
		case <-ticker.C:
			// required so liveness decays visibly with no new data
			e.renderOnce(ctx)
		}
	}
}

func (e *Engine) renderOnce(ctx context.Context) {
	agents, err := e.records.List(ctx)
	if err != nil {
		e.logger.Warn("roster load failed", zap.Error(err))
		return
	}
	rows := e.Render(agents, e.now())
	e.storeSnapshot(Snapshot{
		Rows:      rows,
		UpdatedAt: e.now(),
		HomeName:  e.cfg.HomeName,
		HomeLat:   e.cfg.HomeLat,
		HomeLng:   e.cfg.HomeLng,
	})
	e.metrics.IncrPipeline(observability.CounterRosterRenders)
}

// Render computes the ranked row list from a roster snapshot and a
// wall-clock instant. Idempotent; records missing from the map (deleted
// mid-render) simply do not appear.
func (e *Engine) Render(agents map[string]domain.Agent, now time.Time) []Row {
	derivedRows := make([]derived, 0, len(agents))
	for id, agent := range agents {
		agent.ID = id
		derivedRows = append(derivedRows, e.derive(agent, now))
	}

	sort.SliceStable(derivedRows, func(i, j int) bool {
		return rankLess(derivedRows[i], derivedRows[j])
	})

	rows := make([]Row, 0, len(derivedRows))
	for _, d := range derivedRows {
		rows = append(rows, e.row(d))
	}
	return rows
}

func (e *Engine) derive(agent domain.Agent, now time.Time) derived {
	d := derived{agent: agent, distanceKm: math.Inf(1)}
	d.hasCoords = agent.Location.HasCoordinates()
	if d.hasCoords {
		d.distanceKm = geo.DistanceKm(e.cfg.HomeLat, e.cfg.HomeLng, *agent.Location.Lat, *agent.Location.Lng)
		d.within100m = d.distanceKm <= 0.1
	}
	if agent.Approved() && d.hasCoords {
		if ts := agent.LastActivity(); ts != nil && now.Sub(*ts) <= e.cfg.LivenessWindow() {
			d.live = true
		}
	}
	return d
}

// rankLess orders rows operationally-urgent first: a live connection
// always outranks a stale one, proximity to the home base outranks
// distance, and only then does recency of registration apply.
func rankLess(a, b derived) bool {
	if a.live != b.live {
		return a.live
	}
	if a.within100m != b.within100m {
		return a.within100m
	}
	if a.distanceKm != b.distanceKm {
		return a.distanceKm < b.distanceKm
	}
	if a.agent.Approved() != b.agent.Approved() {
		return a.agent.Approved()
	}
	return a.agent.CreatedAt.After(b.agent.CreatedAt)
}

func (e *Engine) row(d derived) Row {
	agent := d.agent
	approved := agent.Approved()

	row := Row{
		ID:           agent.ID,
		Name:         agent.Name,
		Phone:        agent.Phone,
		PhoneDisplay: phone.Display(agent.Phone, e.countryCode),
		Live:         d.live,
		Within100m:   d.within100m,
	}

	if approved {
		row.Status = approvedLabel
	} else {
		row.Status = pendingLabel
	}

	switch {
	case d.hasCoords:
		known := ""
		if agent.Location != nil {
			known = agent.Location.Area
		}
		resolved := e.resolver.Resolve(agent.ID, *agent.Location.Lat, *agent.Location.Lng, known)
		if resolved == "" {
			resolved = locatingArea
		}
		row.Area = resolved
	default:
		row.Area = noArea
	}

	if approved {
		row.Distance = geo.FormatDistance(d.distanceKm)
		speed := 0.0
		if agent.Location != nil && agent.Location.Speed != nil {
			speed = *agent.Location.Speed
		}
		row.ETA = geo.EstimateETA(d.distanceKm, speed)
		row.LastSeenAt = agent.LastActivity()
	} else {
		row.Distance = pendingLabel
		row.ETA = pendingLabel
	}

	return row
}

func (e *Engine) storeSnapshot(snap Snapshot) {
	e.snapMu.Lock()
	e.latest = snap
	e.snapMu.Unlock()
}
