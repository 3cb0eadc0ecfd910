package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/consult-backend/internal/dto"
	"github.com/ignatzorin/consult-backend/internal/http/handlers/common"
	"github.com/ignatzorin/consult-backend/internal/http/response"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/service"
)

// FeedbackUsecase отзыв специалиста и проверка качества.
type FeedbackUsecase interface {
	Submit(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, in service.FeedbackInput) (*models.CallFeedback, error)
	Get(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.CallFeedback, error)
}

// PayoutViewer чтение выплаты по бронированию.
type PayoutViewer interface {
	Get(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Payout, error)
}

type FeedbackHandler struct {
	qc      FeedbackUsecase
	payouts PayoutViewer
}

func NewFeedbackHandler(qc FeedbackUsecase, payouts PayoutViewer) *FeedbackHandler {
	return &FeedbackHandler{qc: qc, payouts: payouts}
}

// Submit PUT /bookings/:id/feedback
func (h *FeedbackHandler) Submit(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	var req dto.SubmitFeedbackRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	f, err := h.qc.Submit(c.Request.Context(), actor, id, service.FeedbackInput{
		Text:                req.Text,
		Actions:             req.Actions,
		RatingPreparation:   req.RatingPreparation,
		RatingCommunication: req.RatingCommunication,
		RatingPotential:     req.RatingPotential,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, f)
}

// Get GET /bookings/:id/feedback
func (h *FeedbackHandler) Get(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	f, err := h.qc.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, f)
}

// Payout GET /bookings/:id/payout
func (h *FeedbackHandler) Payout(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	p, err := h.payouts.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}
