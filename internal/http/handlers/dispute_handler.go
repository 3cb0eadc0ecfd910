package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/consult-backend/internal/dto"
	"github.com/ignatzorin/consult-backend/internal/http/handlers/common"
	"github.com/ignatzorin/consult-backend/internal/http/response"
	"github.com/ignatzorin/consult-backend/internal/models"
)

// DisputeUsecase споры по бронированиям. Реализуется service.DisputeService.
type DisputeUsecase interface {
	Open(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, reason, description string) (*models.Dispute, error)
	Get(ctx context.Context, actor *models.Actor, disputeID uuid.UUID) (*models.Dispute, error)
	ListByBooking(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) ([]models.Dispute, error)
}

type DisputeHandler struct {
	svc DisputeUsecase
}

func NewDisputeHandler(s DisputeUsecase) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

// Open POST /bookings/:id/disputes
func (h *DisputeHandler) Open(c *gin.Context) {
	actor, bookingID, ok := actorAndID(c)
	if !ok {
		return
	}

	var req dto.OpenDisputeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	d, err := h.svc.Open(c.Request.Context(), actor, bookingID, req.Reason, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, d)
}

// ListByBooking GET /bookings/:id/disputes
func (h *DisputeHandler) ListByBooking(c *gin.Context) {
	actor, bookingID, ok := actorAndID(c)
	if !ok {
		return
	}
	items, err := h.svc.ListByBooking(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// Get GET /disputes/:id
func (h *DisputeHandler) Get(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	d, err := h.svc.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, d)
}
