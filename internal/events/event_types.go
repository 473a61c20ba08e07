package events

import (
	"time"

	"github.com/spec-kit/courier-track/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAgentRegistered  EventType = "agent_registered"
	EventConsentApproved  EventType = "consent_approved"
	EventPositionAccepted EventType = "position_accepted"
	EventAgentDeleted     EventType = "agent_deleted"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	AgentID   string      `json:"agent_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// AgentRegisteredPayload payload.
type AgentRegisteredPayload struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	ConsentLink string `json:"consent_link"`
}

// ConsentApprovedPayload payload.
type ConsentApprovedPayload struct {
	ConsentAt time.Time `json:"consent_at"`
}

// PositionAcceptedPayload payload.
type PositionAcceptedPayload struct {
	Sample domain.PositionSample `json:"sample"`
	Area   string                `json:"area,omitempty"`
}

// AgentDeletedPayload payload.
type AgentDeletedPayload struct {
	Name string `json:"name"`
}
