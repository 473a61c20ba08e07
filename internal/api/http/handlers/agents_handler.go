package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/courier-track/internal/api/dto"
	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/phone"
	"github.com/spec-kit/courier-track/internal/registry"
	"github.com/spec-kit/courier-track/internal/repository"
	"github.com/spec-kit/courier-track/internal/roster"
	apperrors "github.com/spec-kit/courier-track/pkg/util"
)

// AgentsHandler manages staff-facing agent endpoints.
type AgentsHandler struct {
	registry    *registry.Service
	engine      *roster.Engine
	history     repository.PositionHistoryRepository
	countryCode string
}

// NewAgentsHandler constructs handler. A nil history repository disables
// the archive endpoint.
func NewAgentsHandler(reg *registry.Service, engine *roster.Engine, history repository.PositionHistoryRepository, countryCode string) *AgentsHandler {
	return &AgentsHandler{registry: reg, engine: engine, history: history, countryCode: countryCode}
}

// Register POST /agents.
func (h *AgentsHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	reg, err := h.registry.Register(c.UserContext(), registry.RegistrationInput{
		Name:  req.Name,
		Phone: req.Phone,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.RegisterAgentResponse{
		Agent: agentResponse(&reg.Agent, h.countryCode),
		Invite: dto.InviteResponse{
			URL:     reg.InviteURL,
			Message: reg.InviteMessage,
		},
	}})
}

// Roster GET /agents.
func (h *AgentsHandler) Roster(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.engine.Current()})
}

// Delete DELETE /agents/:id.
func (h *AgentsHandler) Delete(c *fiber.Ctx) error {
	if err := h.registry.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// History GET /agents/:id/history.
func (h *AgentsHandler) History(c *fiber.Ctx) error {
	if h.history == nil {
		return apperrors.NewDomainError("ARCHIVE_DISABLED", "position archive not configured",
			http.StatusServiceUnavailable, nil)
	}
	if _, err := h.registry.Get(c.UserContext(), c.Params("id")); err != nil {
		return err
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			return apperrors.NewValidationError("limit must be between 1 and 1000", nil)
		}
		limit = parsed
	}

	entries, err := h.history.ListRecent(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return apperrors.NewStoreError(err)
	}
	items := make([]dto.PositionHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.PositionHistoryResponse{
			Lat:        entry.Lat,
			Lng:        entry.Lng,
			Accuracy:   entry.Accuracy,
			SpeedKmh:   entry.SpeedKmh,
			Area:       entry.Area,
			RecordedAt: entry.RecordedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

func agentResponse(agent *domain.Agent, countryCode string) dto.AgentResponse {
	return dto.AgentResponse{
		ID:            agent.ID,
		Name:          agent.Name,
		Phone:         agent.Phone,
		PhoneDisplay:  phone.Display(agent.Phone, countryCode),
		ConsentStatus: string(agent.ConsentStatus),
		ConsentLink:   agent.ConsentLink,
		ConsentAt:     agent.ConsentAt,
		CreatedAt:     agent.CreatedAt,
	}
}
