package domain

import "time"

// PositionHistoryEntry is one archived position write, kept in Postgres
// for after-the-fact route review. The live record store only holds the
// latest position per agent.
type PositionHistoryEntry struct {
	ID         int64     `json:"id"`
	AgentID    string    `json:"agentId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	SpeedKmh   float64   `json:"speedKmh"`
	Area       string    `json:"area,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}
