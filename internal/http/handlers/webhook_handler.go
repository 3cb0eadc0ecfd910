package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/dto"
	"github.com/ignatzorin/consult-backend/internal/http/response"
	"github.com/ignatzorin/consult-backend/internal/logger"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
	"github.com/ignatzorin/consult-backend/internal/pkg/signature"
)

const maxWebhookBody = 1 << 20

// Заголовки подписи вебхуков
const (
	paymentSignatureHeader = "Omise-Signature"
	paymentTimestampHeader = "Omise-Signature-Timestamp"
	meetingSignatureHeader = "x-zm-signature"
	meetingTimestampHeader = "x-zm-request-timestamp"
)

// PaymentEvents применение событий платёжного шлюза.
type PaymentEvents interface {
	Confirm(ctx context.Context, ref string) (*models.Payment, error)
	Fail(ctx context.Context, ref string) (*models.Payment, error)
}

// AttendanceRecorder запись входа и выхода участников встречи.
type AttendanceRecorder interface {
	RecordMeetingAttendance(ctx context.Context, meetingID string, userID uuid.UUID, kind string, at time.Time) error
}

// WebhookConfig секреты и допустимое расхождение часов.
type WebhookConfig struct {
	PaymentSecret []byte
	MeetingSecret []byte
	Tolerance     time.Duration
}

type WebhookHandler struct {
	payments   PaymentEvents
	attendance AttendanceRecorder
	cfg        WebhookConfig
	now        func() time.Time
}

func NewWebhookHandler(payments PaymentEvents, attendance AttendanceRecorder, cfg WebhookConfig) *WebhookHandler {
	return &WebhookHandler{
		payments:   payments,
		attendance: attendance,
		cfg:        cfg,
		now:        time.Now,
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "не удалось прочитать тело запроса")
		return nil, false
	}
	return body, true
}

// Payments POST /webhooks/payments
func (h *WebhookHandler) Payments(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if err := signature.Omise.Verify(h.cfg.PaymentSecret, c.GetHeader(paymentTimestampHeader), c.GetHeader(paymentSignatureHeader), body, h.cfg.Tolerance, h.now()); err != nil {
		h.rejectSignature(c, "payments", err)
		return
	}

	var event dto.PaymentWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		response.BadRequest(c, "некорректное тело вебхука")
		return
	}

	ctx := logger.WithFields(c.Request.Context(), logrus.Fields{
		"webhook": "payments",
		"event":   event.Key,
		"ref":     event.Data.ID,
	})

	if event.Key != "charge.complete" || event.Data.ID == "" {
		h.ack(ctx, c, "событие не обрабатывается")
		return
	}

	var err error
	switch event.Data.Status {
	case "successful", "authorized", "pending":
		_, err = h.payments.Confirm(ctx, event.Data.ID)
	case "failed", "expired", "reversed":
		_, err = h.payments.Fail(ctx, event.Data.ID)
	default:
		h.ack(ctx, c, "статус не обрабатывается")
		return
	}
	h.finish(ctx, c, err)
}

// Meetings POST /webhooks/meetings
func (h *WebhookHandler) Meetings(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if err := signature.Zoom.Verify(h.cfg.MeetingSecret, c.GetHeader(meetingTimestampHeader), c.GetHeader(meetingSignatureHeader), body, h.cfg.Tolerance, h.now()); err != nil {
		h.rejectSignature(c, "meetings", err)
		return
	}

	var event dto.MeetingWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		response.BadRequest(c, "некорректное тело вебхука")
		return
	}

	ctx := logger.WithFields(c.Request.Context(), logrus.Fields{
		"webhook":    "meetings",
		"event":      event.Event,
		"meeting_id": event.Payload.Object.ID,
	})

	var (
		kind string
		at   time.Time
	)
	participant := event.Payload.Object.Participant
	switch event.Event {
	case "endpoint.url_validation":
		c.JSON(http.StatusOK, dto.URLValidationResponse{
			PlainToken:     event.Payload.PlainToken,
			EncryptedToken: signature.Token(h.cfg.MeetingSecret, event.Payload.PlainToken),
		})
		return
	case "meeting.participant_joined":
		kind, at = models.AttendanceKindJoined, participant.JoinTime
	case "meeting.participant_left":
		kind, at = models.AttendanceKindLeft, participant.LeaveTime
	default:
		h.ack(ctx, c, "событие не обрабатывается")
		return
	}

	userID, err := uuid.Parse(participant.CustomerKey)
	if err != nil {
		h.ack(ctx, c, "участник не связан с пользователем")
		return
	}
	if at.IsZero() {
		at = h.now()
	}

	h.finish(ctx, c, h.attendance.RecordMeetingAttendance(ctx, event.Payload.Object.ID, userID, kind, at))
}

func (h *WebhookHandler) rejectSignature(c *gin.Context, source string, err error) {
	logger.FromContext(c.Request.Context()).WithFields(logrus.Fields{
		"webhook": source,
	}).WithError(err).Warn("webhook: подпись отклонена")
	response.Unauthorized(c, "подпись вебхука невалидна")
}

func (h *WebhookHandler) ack(ctx context.Context, c *gin.Context, note string) {
	logger.FromContext(ctx).Info("webhook: пропущено, " + note)
	c.JSON(http.StatusOK, dto.WebhookAck{Received: true, Note: note})
}

// finish: ошибки, которые повтором не исправить, подтверждаются без повторной доставки,
// временные сбои отдают 503, чтобы отправитель повторил.
func (h *WebhookHandler) finish(ctx context.Context, c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, dto.WebhookAck{Received: true})
		return
	}

	entry := logger.FromContext(ctx).WithError(err)
	if !apperror.IsRetryable(err) {
		entry.WithField("code", apperror.CodeOf(err)).Warn("webhook: событие не применено")
		c.JSON(http.StatusOK, dto.WebhookAck{Received: true, Note: errorMessage(err)})
		return
	}

	entry.Error("webhook: сбой обработки, ждём повторной доставки")
	c.JSON(http.StatusServiceUnavailable, response.Response{
		Success: false,
		Error:   &response.ErrorInfo{Code: string(apperror.CodeOf(err)), Message: "временная ошибка, повторите позже"},
	})
}

func errorMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ""
}
