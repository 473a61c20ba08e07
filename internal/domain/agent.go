package domain

import "time"

// ConsentStatus enumerates the agent consent lifecycle.
type ConsentStatus string

const (
	ConsentStatusPending  ConsentStatus = "pending"
	ConsentStatusApproved ConsentStatus = "approved"
)

// Location is the last written position of an agent. All fields are unset
// until the first accepted sample; Area may lag behind the coordinates
// because enrichment is asynchronous.
type Location struct {
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Accuracy  *float64   `json:"accuracy"`
	Speed     *float64   `json:"speed"`
	Area      string     `json:"area,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// HasCoordinates reports whether both coordinates are present.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Lat != nil && l.Lng != nil
}

// Agent is the aggregate for a tracked delivery agent.
type Agent struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Phone         string        `json:"phone"`
	ConsentStatus ConsentStatus `json:"consentStatus"`
	ConsentLink   string        `json:"consentLink,omitempty"`
	ConsentAt     *time.Time    `json:"consentAt"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastSeenAt    *time.Time    `json:"lastSeenAt"`
	Location      *Location     `json:"location"`
}

// Approved reports whether the agent has given tracking consent.
func (a *Agent) Approved() bool {
	return a != nil && a.ConsentStatus == ConsentStatusApproved
}

// LastActivity returns the freshest of lastSeenAt and location.updatedAt.
// Returns nil when the agent has never reported a position.
func (a *Agent) LastActivity() *time.Time {
	if a == nil {
		return nil
	}
	ts := a.LastSeenAt
	if a.Location != nil && a.Location.UpdatedAt != nil {
		if ts == nil || a.Location.UpdatedAt.After(*ts) {
			ts = a.Location.UpdatedAt
		}
	}
	return ts
}

// PositionSample is one raw reading from the positioning sensor.
type PositionSample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}
