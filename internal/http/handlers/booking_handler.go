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

// BookingUsecase операции жизненного цикла бронирования. Реализуется service.BookingService.
type BookingUsecase interface {
	RequestBooking(ctx context.Context, actor *models.Actor, in service.RequestBookingInput) (*models.Booking, error)
	Accept(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, slot service.Slot) (*models.Booking, error)
	Decline(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, reason string) (*models.Booking, error)
	Cancel(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Booking, error)
	RequestReschedule(ctx context.Context, actor *models.Actor, bookingID uuid.UUID, slot service.Slot) (*models.Booking, error)
	ConfirmReschedule(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Booking, error)
	RejectReschedule(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Booking, error)
	Get(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) (*models.Booking, error)
	List(ctx context.Context, actor *models.Actor, limit, offset int) ([]models.Booking, error)
	History(ctx context.Context, actor *models.Actor, bookingID uuid.UUID) ([]models.AuditEntry, error)
}

type BookingHandler struct {
	svc BookingUsecase
}

func NewBookingHandler(s BookingUsecase) *BookingHandler {
	return &BookingHandler{svc: s}
}

// actorAndID общая преамбула: актор из токена и :id из пути.
func actorAndID(c *gin.Context) (*models.Actor, uuid.UUID, bool) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return nil, uuid.Nil, false
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return nil, uuid.Nil, false
	}
	return actor, id, true
}

// Create POST /bookings
func (h *BookingHandler) Create(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req dto.CreateBookingRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	b, err := h.svc.RequestBooking(c.Request.Context(), actor, service.RequestBookingInput{
		ProfessionalID: req.ProfessionalID,
		PriceCents:     req.PriceCents,
		Timezone:       req.Timezone,
		PaymentSource:  req.PaymentSource,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewBookingResponse(b, actor.UserID))
}

// List GET /bookings
func (h *BookingHandler) List(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	items, err := h.svc.List(c.Request.Context(), actor, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, dto.NewBookingList(items, actor.UserID), len(items), limit, offset)
}

// Get GET /bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	b, err := h.svc.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.NewBookingResponse(b, actor.UserID))
}

// History GET /bookings/:id/history
func (h *BookingHandler) History(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	entries, err := h.svc.History(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, entries)
}

// Accept POST /bookings/:id/accept
func (h *BookingHandler) Accept(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req dto.SlotRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.respond(c, actor)(h.svc.Accept(c.Request.Context(), actor, id, service.Slot{StartAt: req.StartAt, EndAt: req.EndAt}))
}

// Decline POST /bookings/:id/decline
func (h *BookingHandler) Decline(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req dto.DeclineBookingRequest
	// тело необязательное
	_ = c.ShouldBindJSON(&req)
	h.respond(c, actor)(h.svc.Decline(c.Request.Context(), actor, id, req.Reason))
}

// Cancel POST /bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	h.respond(c, actor)(h.svc.Cancel(c.Request.Context(), actor, id))
}

// RequestReschedule POST /bookings/:id/reschedule
func (h *BookingHandler) RequestReschedule(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req dto.SlotRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.respond(c, actor)(h.svc.RequestReschedule(c.Request.Context(), actor, id, service.Slot{StartAt: req.StartAt, EndAt: req.EndAt}))
}

// ConfirmReschedule POST /bookings/:id/reschedule/confirm
func (h *BookingHandler) ConfirmReschedule(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	h.respond(c, actor)(h.svc.ConfirmReschedule(c.Request.Context(), actor, id))
}

// RejectReschedule POST /bookings/:id/reschedule/reject
func (h *BookingHandler) RejectReschedule(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	h.respond(c, actor)(h.svc.RejectReschedule(c.Request.Context(), actor, id))
}

func (h *BookingHandler) respond(c *gin.Context, actor *models.Actor) func(*models.Booking, error) {
	return func(b *models.Booking, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, dto.NewBookingResponse(b, actor.UserID))
	}
}
