package handlers

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/spec-kit/courier-track/internal/api/dto"
	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/ingest"
	"github.com/spec-kit/courier-track/internal/phone"
	"github.com/spec-kit/courier-track/internal/registry"
	"github.com/spec-kit/courier-track/internal/store"
	apperrors "github.com/spec-kit/courier-track/pkg/util"
)

// ConsentHandler serves the agent-facing consent and tracking endpoints.
type ConsentHandler struct {
	registry    *registry.Service
	manager     *ingest.Manager
	countryCode string
}

// NewConsentHandler constructs handler.
func NewConsentHandler(reg *registry.Service, manager *ingest.Manager, countryCode string) *ConsentHandler {
	return &ConsentHandler{registry: reg, manager: manager, countryCode: countryCode}
}

// Page GET /consent/:id.
func (h *ConsentHandler) Page(c *fiber.Ctx) error {
	agent, err := h.registry.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ConsentPageResponse{
		AgentID:         agent.ID,
		Name:            agent.Name,
		PhoneDisplay:    phone.Display(agent.Phone, h.countryCode),
		ConsentStatus:   string(agent.ConsentStatus),
		ConsentAt:       agent.ConsentAt,
		AlreadyApproved: agent.Approved(),
	}})
}

// Approve POST /consent/:id/approve. Safe to retry: a repeat approval
// re-arms the sensor watch without moving the original consent time.
func (h *ConsentHandler) Approve(c *fiber.Ctx) error {
	// Manager.Approve retains the id past this request (session map key,
	// Session.agentID); Fiber params are zero-copy, so copy first.
	agentID := utils.CopyString(c.Params("id"))
	if err := h.manager.Approve(c.UserContext(), agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NewNotFound("agent", map[string]any{"id": agentID})
		}
		return apperrors.NewStoreError(err)
	}
	status, _ := h.manager.Status(agentID)
	return c.JSON(fiber.Map{"data": status})
}

// PushPosition POST /consent/:id/positions.
func (h *ConsentHandler) PushPosition(c *fiber.Ctx) error {
	var req dto.PositionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validateCoordinates(req.Lat, req.Lng); err != nil {
		return err
	}

	sample := domain.PositionSample{
		Lat:      req.Lat,
		Lng:      req.Lng,
		Accuracy: req.Accuracy,
		Speed:    req.Speed,
	}
	if req.Timestamp != nil {
		sample.Timestamp = *req.Timestamp
	}

	if err := h.manager.Push(c.Params("id"), sample); err != nil {
		return noSessionError(err)
	}
	return c.SendStatus(http.StatusAccepted)
}

// SensorError POST /consent/:id/sensor-error.
func (h *ConsentHandler) SensorError(c *fiber.Ctx) error {
	var req dto.SensorErrorRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = "positioning unavailable"
	}

	if err := h.manager.ReportSensorError(c.Params("id"), errors.New(message)); err != nil {
		return noSessionError(err)
	}
	return c.SendStatus(http.StatusAccepted)
}

// Status GET /consent/:id/status.
func (h *ConsentHandler) Status(c *fiber.Ctx) error {
	status, ok := h.manager.Status(c.Params("id"))
	if !ok {
		// no live session yet; the record alone decides between a
		// pending agent and an unknown one
		agent, err := h.registry.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		status = ingest.Status{State: ingest.StateAwaitingConsent}
		if agent.Approved() {
			status.State = ingest.StateStopped
		}
	}
	return c.JSON(fiber.Map{"data": status})
}

func validateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return apperrors.NewValidationError("lat/lng out of range", map[string]any{"lat": lat, "lng": lng})
	}
	return nil
}

func noSessionError(err error) error {
	if errors.Is(err, ingest.ErrSourceClosed) {
		return apperrors.NewConflict("no active tracking session, approve consent first", nil)
	}
	return apperrors.NewStoreError(err)
}
