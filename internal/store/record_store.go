package store

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/courier-track/internal/domain"
)

// ErrNotFound is returned when no record exists for the requested agent.
var ErrNotFound = errors.New("agent record not found")

// Patch describes a partial update to an agent record. Nil fields are
// left untouched. The merge enforces the record invariants: consentAt is
// set at most once, consentStatus never reverts from approved, and
// lastSeenAt is monotonically non-decreasing.
type Patch struct {
	ConsentStatus *domain.ConsentStatus
	ConsentAt     *time.Time
	LastSeenAt    *time.Time
	Location      *domain.Location
	Area          *string
}

// RecordStore is the system of record for agent records. Every call is
// fallible and no ordering is guaranteed between concurrent writers;
// patches are last-write-wins at field granularity.
type RecordStore interface {
	Get(ctx context.Context, id string) (*domain.Agent, error)
	List(ctx context.Context) (map[string]domain.Agent, error)
	// Create mints a new unique record id without writing anything,
	// mirroring push-style key allocation. The caller follows with Write.
	Create(ctx context.Context) (string, error)
	Write(ctx context.Context, agent *domain.Agent) error
	Patch(ctx context.Context, id string, patch Patch) error
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context, onChange func(agentID string), onErr func(error)) (Subscription, error)
}

// Subscription is a live change feed handle.
type Subscription interface {
	Close() error
}

// applyPatch merges a patch into an agent record in place.
func applyPatch(agent *domain.Agent, patch Patch) {
	if patch.ConsentStatus != nil && !agent.Approved() {
		agent.ConsentStatus = *patch.ConsentStatus
	}
	if patch.ConsentAt != nil && agent.ConsentAt == nil {
		agent.ConsentAt = patch.ConsentAt
	}
	if patch.LastSeenAt != nil {
		if agent.LastSeenAt == nil || patch.LastSeenAt.After(*agent.LastSeenAt) {
			agent.LastSeenAt = patch.LastSeenAt
		}
	}
	if patch.Location != nil {
		loc := *patch.Location
		if loc.Area == "" && agent.Location != nil {
			// keep the previously enriched area until the next lookup lands
			loc.Area = agent.Location.Area
		}
		agent.Location = &loc
	}
	if patch.Area != nil {
		if agent.Location == nil {
			agent.Location = &domain.Location{}
		}
		agent.Location.Area = *patch.Area
	}
}
