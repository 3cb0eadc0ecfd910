package models

import "github.com/google/uuid"

// Role роль участника бронирования.
type Role string

// Роли пользователей
const (
	RoleCandidate    Role = "candidate"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

// ValidRoles список валидных ролей
var ValidRoles = map[Role]struct{}{
	RoleCandidate:    {},
	RoleProfessional: {},
	RoleAdmin:        {},
}

// Actor инициатор операции. nil означает системный процесс (воркер, вебхук).
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// NewActor создаёт актора из данных токена.
func NewActor(userID uuid.UUID, role string) *Actor {
	return &Actor{UserID: userID, Role: Role(role)}
}

// IsAdmin сообщает, что актор администратор.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// Типы сущностей аудита
const (
	AuditEntityBooking  = "booking"
	AuditEntityPayment  = "payment"
	AuditEntityPayout   = "payout"
	AuditEntityFeedback = "feedback"
	AuditEntityDispute  = "dispute"
)

// Часовой пояс по умолчанию для встреч.
const DefaultTimezone = "UTC"
