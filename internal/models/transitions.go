package models

// BookingEvent событие, переводящее бронирование между статусами.
type BookingEvent string

const (
	EventAccept              BookingEvent = "accept"
	EventDecline             BookingEvent = "decline"
	EventExpire              BookingEvent = "expire"
	EventCancel              BookingEvent = "cancel"
	EventRequestReschedule   BookingEvent = "request_reschedule"
	EventConfirmReschedule   BookingEvent = "confirm_reschedule"
	EventRejectReschedule    BookingEvent = "reject_reschedule"
	EventAttendanceConfirmed BookingEvent = "attendance_confirmed"
	EventNoShowCancel        BookingEvent = "no_show_cancel"
	EventNoShowDispute       BookingEvent = "no_show_dispute"
	EventOpenDispute         BookingEvent = "open_dispute"
	EventResolveRefund       BookingEvent = "resolve_refund"
	EventResolveDismiss      BookingEvent = "resolve_dismiss"
	EventQCPassed            BookingEvent = "qc_passed"
)

type transitionKey struct {
	from  BookingStatus
	event BookingEvent
}

// bookingTransitions единственный источник допустимых переходов.
var bookingTransitions = map[transitionKey]BookingStatus{
	{BookingStatusRequested, EventAccept}:  BookingStatusAccepted,
	{BookingStatusRequested, EventDecline}: BookingStatusDeclined,
	{BookingStatusRequested, EventExpire}:  BookingStatusExpired,
	{BookingStatusRequested, EventCancel}:  BookingStatusCancelled,

	{BookingStatusAccepted, EventCancel}:              BookingStatusCancelled,
	{BookingStatusAccepted, EventRequestReschedule}:   BookingStatusReschedulePending,
	{BookingStatusAccepted, EventAttendanceConfirmed}: BookingStatusCompletedPendingFeedback,
	{BookingStatusAccepted, EventNoShowCancel}:        BookingStatusCancelled,
	{BookingStatusAccepted, EventNoShowDispute}:       BookingStatusDisputePending,
	{BookingStatusAccepted, EventOpenDispute}:         BookingStatusDisputePending,

	{BookingStatusReschedulePending, EventConfirmReschedule}: BookingStatusAccepted,
	{BookingStatusReschedulePending, EventRejectReschedule}:  BookingStatusAccepted,
	{BookingStatusReschedulePending, EventCancel}:            BookingStatusCancelled,

	{BookingStatusCompletedPendingFeedback, EventQCPassed}: BookingStatusCompleted,

	{BookingStatusCompleted, EventOpenDispute}: BookingStatusDisputePending,

	{BookingStatusDisputePending, EventResolveRefund}:  BookingStatusRefunded,
	{BookingStatusDisputePending, EventResolveDismiss}: BookingStatusCompleted,
}

// eventRoles роли, которым разрешено событие. Пустой список значит,
// что событие инициирует только система.
var eventRoles = map[BookingEvent][]Role{
	EventAccept:              {RoleProfessional},
	EventDecline:             {RoleProfessional},
	EventExpire:              nil,
	EventCancel:              {RoleCandidate, RoleProfessional, RoleAdmin},
	EventRequestReschedule:   {RoleCandidate, RoleProfessional},
	EventConfirmReschedule:   {RoleProfessional},
	EventRejectReschedule:    {RoleProfessional},
	EventAttendanceConfirmed: nil,
	EventNoShowCancel:        nil,
	EventNoShowDispute:       nil,
	EventOpenDispute:         {RoleCandidate, RoleProfessional},
	EventResolveRefund:       {RoleAdmin},
	EventResolveDismiss:      {RoleAdmin},
	EventQCPassed:            nil,
}

// NextStatus возвращает целевой статус перехода.
func NextStatus(from BookingStatus, event BookingEvent) (BookingStatus, bool) {
	to, ok := bookingTransitions[transitionKey{from: from, event: event}]
	return to, ok
}

// IsSystemEvent сообщает, что событие недоступно пользователям.
func IsSystemEvent(event BookingEvent) bool {
	roles, ok := eventRoles[event]
	return ok && len(roles) == 0
}

// CanPerform проверяет право актора на событие для конкретного бронирования.
// Участник действует в роли, которую занимает в бронировании, а не по токену.
func CanPerform(b *Booking, actor *Actor, event BookingEvent) bool {
	roles, ok := eventRoles[event]
	if !ok {
		return false
	}
	if len(roles) == 0 {
		return actor == nil
	}
	if actor == nil {
		return false
	}

	role := actor.Role
	if role != RoleAdmin {
		participant, ok := b.RoleOf(actor.UserID)
		if !ok {
			return false
		}
		role = participant
	}

	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
