package dto

import "time"

// RegisterAgentRequest is the staff registration form.
type RegisterAgentRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// InviteResponse carries the consent handoff for the new agent.
type InviteResponse struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// AgentResponse is the stored agent record shape.
type AgentResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	PhoneDisplay  string     `json:"phoneDisplay"`
	ConsentStatus string     `json:"consentStatus"`
	ConsentLink   string     `json:"consentLink,omitempty"`
	ConsentAt     *time.Time `json:"consentAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// RegisterAgentResponse is returned on successful registration.
type RegisterAgentResponse struct {
	Agent  AgentResponse  `json:"agent"`
	Invite InviteResponse `json:"invite"`
}

// ConsentPageResponse is the data behind the agent-facing consent page.
type ConsentPageResponse struct {
	AgentID         string     `json:"agentId"`
	Name            string     `json:"name"`
	PhoneDisplay    string     `json:"phoneDisplay"`
	ConsentStatus   string     `json:"consentStatus"`
	ConsentAt       *time.Time `json:"consentAt,omitempty"`
	AlreadyApproved bool       `json:"alreadyApproved"`
}

// PositionRequest is one raw sensor reading pushed by the device.
type PositionRequest struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Accuracy  float64    `json:"accuracy"`
	Speed     float64    `json:"speed"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// SensorErrorRequest reports a device-side positioning failure.
type SensorErrorRequest struct {
	Message string `json:"message"`
}

// PositionHistoryResponse is one archived position row.
type PositionHistoryResponse struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	SpeedKmh   float64   `json:"speedKmh"`
	Area       string    `json:"area,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}
