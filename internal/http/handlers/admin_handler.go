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

// DisputeResolver решение споров администратором.
type DisputeResolver interface {
	Resolve(ctx context.Context, actor *models.Actor, disputeID uuid.UUID, in service.ResolveInput) (*models.Dispute, error)
}

// QCRechecker ручная перепроверка отзыва.
type QCRechecker interface {
	Recheck(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) error
}

// PayoutMarker отметка о проведённой выплате.
type PayoutMarker interface {
	MarkPaid(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Payout, error)
}

// AdminHandler операции администратора. Роль проверяется и в middleware, и в сервисах.
type AdminHandler struct {
	disputes DisputeResolver
	qc       QCRechecker
	payouts  PayoutMarker
}

func NewAdminHandler(disputes DisputeResolver, qc QCRechecker, payouts PayoutMarker) *AdminHandler {
	return &AdminHandler{disputes: disputes, qc: qc, payouts: payouts}
}

// ResolveDispute POST /admin/disputes/:id/resolve
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	d, err := h.disputes.Resolve(c.Request.Context(), actor, id, service.ResolveInput{
		Resolution:  models.DisputeResolution(req.Resolution),
		AmountCents: req.AmountCents,
		Note:        req.Note,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, d)
}

// RecheckQC POST /admin/bookings/:id/qc/recheck
func (h *AdminHandler) RecheckQC(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	if err := h.qc.Recheck(c.Request.Context(), actor, id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.QCResponse{BookingID: id, Queued: true})
}

// MarkPayoutPaid POST /admin/bookings/:id/payout/paid
func (h *AdminHandler) MarkPayoutPaid(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	p, err := h.payouts.MarkPaid(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}
