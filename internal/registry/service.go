package registry

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/events"
	"github.com/spec-kit/courier-track/internal/phone"
	"github.com/spec-kit/courier-track/internal/store"
	apperrors "github.com/spec-kit/courier-track/pkg/util"
)

// Service handles agent registration, duplicate detection, consent-invite
// handoff and deletion.
type Service struct {
	records    store.RecordStore
	dispatcher events.Dispatcher
	cfg        config.MessagingConfig
	logger     *zap.Logger

	// onDelete hooks tear down per-agent state owned elsewhere
	// (tracking session, area cache).
	onDelete []func(agentID string)

	now func() time.Time
}

// NewService builds the registry service.
func NewService(records store.RecordStore, dispatcher events.Dispatcher, cfg config.MessagingConfig, logger *zap.Logger, onDelete ...func(agentID string)) *Service {
	return &Service{
		records:    records,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		onDelete:   onDelete,
		now:        time.Now,
	}
}

// RegistrationInput is the staff-entered form data.
type RegistrationInput struct {
	Name  string
	Phone string
}

// Registration is the outcome of a successful registration.
type Registration struct {
	Agent         domain.Agent
	ConsentLink   string
	InviteURL     string
	InviteMessage string
}

// Register validates, scans the roster for duplicates and creates the
// agent record. The duplicate scan is a linear pass over the full
// roster; two concurrent registrations can both pass it before either
// writes (accepted at this deployment's scale).
func (s *Service) Register(ctx context.Context, input RegistrationInput) (*Registration, error) {
	name := strings.TrimSpace(input.Name)
	rawPhone := strings.TrimSpace(input.Phone)
	if name == "" || rawPhone == "" {
		return nil, apperrors.NewValidationError("agent name and phone are required", nil)
	}

	normalized := phone.Normalize(rawPhone, s.cfg.CountryCode)
	if !phone.Valid(normalized, s.cfg.CountryCode) {
		return nil, apperrors.NewValidationError(
			"phone must be 8 local digits (country code "+s.cfg.CountryCode+" is applied automatically)",
			map[string]any{"phone": rawPhone})
	}

	agents, err := s.records.List(ctx)
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	if dup := findDuplicate(agents, name, normalized, s.cfg.CountryCode); dup != nil {
		return nil, dup
	}

	id, err := s.records.Create(ctx)
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	consentLink := s.cfg.ConsentLinkBase + url.QueryEscape(id)

	agent := domain.Agent{
		ID:            id,
		Name:          name,
		Phone:         normalized,
		ConsentStatus: domain.ConsentStatusPending,
		ConsentLink:   consentLink,
		CreatedAt:     s.now(),
		Location:      &domain.Location{},
	}
	if err := s.records.Write(ctx, &agent); err != nil {
		return nil, apperrors.NewStoreError(err)
	}

	s.dispatch(events.EventAgentRegistered, id, events.AgentRegisteredPayload{
		Name:        name,
		Phone:       normalized,
		ConsentLink: consentLink,
	})
	s.logger.Info("agent registered", zap.String("agent_id", id), zap.String("name", name))

	message := s.inviteMessage(name, consentLink)
	return &Registration{
		Agent:         agent,
		ConsentLink:   consentLink,
		InviteURL:     s.cfg.DeepLinkBase + normalized + "?text=" + url.QueryEscape(message),
		InviteMessage: message,
	}, nil
}

// Get loads a single agent record.
func (s *Service) Get(ctx context.Context, id string) (*domain.Agent, error) {
	agent, err := s.records.Get(ctx, id)
	if err == store.ErrNotFound {
		return nil, apperrors.NewNotFound("agent", map[string]any{"id": id})
	}
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	return agent, nil
}

// Delete removes the agent record and tears down its per-agent state.
func (s *Service) Delete(ctx context.Context, id string) error {
	agent, err := s.records.Get(ctx, id)
	if err == store.ErrNotFound {
		return apperrors.NewNotFound("agent", map[string]any{"id": id})
	}
	if err != nil {
		return apperrors.NewStoreError(err)
	}

	if err := s.records.Delete(ctx, id); err != nil {
		return apperrors.NewStoreError(err)
	}
	for _, hook := range s.onDelete {
		hook(id)
	}
	s.dispatch(events.EventAgentDeleted, id, events.AgentDeletedPayload{Name: agent.Name})
	s.logger.Info("agent deleted", zap.String("agent_id", id))
	return nil
}

// NormalizeName reduces a display name for duplicate comparison:
// trimmed, inner whitespace collapsed, lowercased.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// findDuplicate scans the roster for name/phone collisions. O(n) over
// the full roster on every registration.
func findDuplicate(agents map[string]domain.Agent, name, normalizedPhone, countryCode string) error {
	target := NormalizeName(name)
	nameExists := false
	phoneExists := false

	for _, agent := range agents {
		if target != "" && NormalizeName(agent.Name) == target {
			nameExists = true
		}
		if existing := phone.Normalize(agent.Phone, countryCode); existing != "" && existing == normalizedPhone {
			phoneExists = true
		}
		if nameExists && phoneExists {
			break
		}
	}

	switch {
	case nameExists && phoneExists:
		return apperrors.NewDuplicateError("agent name and phone are already registered",
			map[string]any{"name": true, "phone": true})
	case nameExists:
		return apperrors.NewDuplicateError("agent name is already registered",
			map[string]any{"name": true})
	case phoneExists:
		return apperrors.NewDuplicateError("agent phone is already registered",
			map[string]any{"phone": true})
	}
	return nil
}

func (s *Service) inviteMessage(name, consentLink string) string {
	lines := []string{
		"Hello " + name + ",",
		"please approve distance tracking between you and the shop.",
		"Consent link:",
		consentLink,
	}
	return strings.Join(lines, "\n")
}

func (s *Service) dispatch(eventType events.EventType, agentID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(context.Background(), events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		AgentID:   agentID,
		Timestamp: s.now(),
		Payload:   payload,
	})
}
