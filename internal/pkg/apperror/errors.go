package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest          ErrorCode = "BAD_REQUEST"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	ErrCodeUpstream            ErrorCode = "UPSTREAM_ERROR"
	ErrCodePolicyUnimplemented ErrorCode = "POLICY_UNIMPLEMENTED"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// Conflict ошибка гонки или неподходящего статуса.
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

// Validation ошибка входных данных.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// Upstream сбой внешнего сервиса (платёжный шлюз, видеосвязь, LLM).
func Upstream(err error, message string) *AppError {
	return Wrap(err, ErrCodeUpstream, message)
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUpstream:
		return http.StatusBadGateway
	case ErrCodePolicyUnimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или ErrCodeInternal для неизвестных ошибок.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	return CodeOf(err) == ErrCodeForbidden
}

func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

func IsUpstream(err error) bool {
	return CodeOf(err) == ErrCodeUpstream
}

// IsRetryable сообщает, имеет ли смысл повторить операцию.
// Ошибки клиента и гонки статусов повтором не исправить.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrCodeNotFound, ErrCodeUnauthorized, ErrCodeForbidden, ErrCodeBadRequest,
		ErrCodeValidation, ErrCodeConflict, ErrCodePolicyUnimplemented:
		return false
	}
	return true
}

var (
	ErrBookingNotFound  = New(ErrCodeNotFound, "бронирование не найдено")
	ErrPaymentNotFound  = New(ErrCodeNotFound, "платёж не найден")
	ErrPayoutNotFound   = New(ErrCodeNotFound, "выплата не найдена")
	ErrFeedbackNotFound = New(ErrCodeNotFound, "отзыв не найден")
	ErrDisputeNotFound  = New(ErrCodeNotFound, "спор не найден")
	ErrUnauthorized     = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden        = New(ErrCodeForbidden, "недостаточно прав")
	ErrStaleStatus      = New(ErrCodeConflict, "статус изменился, повторите запрос")
	ErrDisputeExists    = New(ErrCodeConflict, "по бронированию уже открыт спор")
	ErrFeedbackLocked   = New(ErrCodeConflict, "отзыв уже прошёл проверку и не может быть изменён")
	ErrPayoutPaid       = New(ErrCodeConflict, "выплата уже проведена")
	ErrAmountExceeds    = New(ErrCodeValidation, "amount_exceeds_refundable")
	ErrPartialRefund    = New(ErrCodePolicyUnimplemented, "политика частичного возврата без суммы не реализована")
)
