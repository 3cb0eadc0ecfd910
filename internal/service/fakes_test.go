package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/consult-backend/internal/ai"
	"github.com/ignatzorin/consult-backend/internal/models"
	"github.com/ignatzorin/consult-backend/internal/pkg/apperror"
)

// passTx выполняет fn без транзакции, откат в памяти не эмулируется.
type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memBookings struct {
	items map[uuid.UUID]models.Booking

	// beforeUpdate срабатывает один раз перед записью: так конкурент успевает первым
	beforeUpdate func()
}

func newMemBookings() *memBookings {
	return &memBookings{items: map[uuid.UUID]models.Booking{}}
}

func (r *memBookings) Create(_ context.Context, b *models.Booking) error {
	r.items[b.ID] = *b
	return nil
}

func (r *memBookings) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	b, ok := r.items[id]
	if !ok {
		return nil, apperror.ErrBookingNotFound
	}
	return &b, nil
}

func (r *memBookings) GetByMeetingID(_ context.Context, meetingID string) (*models.Booking, error) {
	for _, b := range r.items {
		if b.ZoomMeetingID != nil && *b.ZoomMeetingID == meetingID {
			b := b
			return &b, nil
		}
	}
	return nil, apperror.ErrBookingNotFound
}

func (r *memBookings) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r *memBookings) UpdateGuarded(_ context.Context, b *models.Booking, expected models.BookingStatus) error {
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook()
	}
	stored, ok := r.items[b.ID]
	if !ok {
		return apperror.ErrBookingNotFound
	}
	if stored.Status != expected {
		return apperror.ErrStaleStatus
	}
	r.items[b.ID] = *b
	return nil
}

func (r *memBookings) AttachMeeting(_ context.Context, id uuid.UUID, meetingID, candidateURL, professionalURL string) (bool, error) {
	b, ok := r.items[id]
	if !ok || b.ZoomMeetingID != nil {
		return false, nil
	}
	b.ZoomMeetingID, b.CandidateJoinURL, b.ProfessionalJoinURL = &meetingID, &candidateURL, &professionalURL
	r.items[id] = b
	return true, nil
}

func (r *memBookings) MarkJoined(_ context.Context, id uuid.UUID, role models.Role, at time.Time) error {
	b, ok := r.items[id]
	if !ok {
		return apperror.ErrBookingNotFound
	}
	switch role {
	case models.RoleCandidate:
		if b.CandidateJoinedAt == nil {
			b.CandidateJoinedAt = &at
		}
	case models.RoleProfessional:
		if b.ProfessionalJoinedAt == nil {
			b.ProfessionalJoinedAt = &at
		}
	default:
		return fmt.Errorf("unsupported role %q", role)
	}
	r.items[id] = b
	return nil
}

func (r *memBookings) ListExpiredRequests(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return r.filter(limit, func(b models.Booking) bool {
		return b.Status == models.BookingStatusRequested && b.ExpiresAt.Before(now)
	}), nil
}

func (r *memBookings) ListEndedAccepted(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return r.filter(limit, func(b models.Booking) bool {
		return b.Status == models.BookingStatusAccepted && b.EndAt != nil && b.EndAt.Before(now)
	}), nil
}

func (r *memBookings) ListByParticipant(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	all := r.filter(0, func(b models.Booking) bool { return b.IsParticipant(userID) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memBookings) filter(limit int, keep func(models.Booking) bool) []models.Booking {
	var out []models.Booking
	for _, b := range r.items {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memPayments struct {
	items map[uuid.UUID]models.Payment

	// addRefundErr срабатывает один раз, имитируя сбой записи после вызова процессора
	addRefundErr error
}

func newMemPayments() *memPayments {
	return &memPayments{items: map[uuid.UUID]models.Payment{}}
}

func (r *memPayments) Create(_ context.Context, p *models.Payment) error {
	for _, existing := range r.items {
		if existing.BookingID == p.BookingID {
			return apperror.Conflict("payment exists")
		}
	}
	r.items[p.ID] = *p
	return nil
}

func (r *memPayments) GetByBookingID(_ context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	for _, p := range r.items {
		if p.BookingID == bookingID {
			p := p
			return &p, nil
		}
	}
	return nil, apperror.ErrPaymentNotFound
}

func (r *memPayments) GetByRef(_ context.Context, ref string) (*models.Payment, error) {
	for _, p := range r.items {
		if p.ExternalRef == ref {
			p := p
			return &p, nil
		}
	}
	return nil, apperror.ErrPaymentNotFound
}

func (r *memPayments) UpdateStatus(_ context.Context, id uuid.UUID, from, to models.PaymentStatus) (*models.Payment, error) {
	p, ok := r.items[id]
	if !ok || p.Status != from {
		return nil, apperror.ErrStaleStatus
	}
	p.Status = to
	r.items[id] = p
	return &p, nil
}

func (r *memPayments) MarkCaptured(_ context.Context, id uuid.UUID, at time.Time) (*models.Payment, error) {
	p, ok := r.items[id]
	if !ok || p.CapturedAt != nil {
		return nil, apperror.ErrStaleStatus
	}
	p.CapturedAt = &at
	r.items[id] = p
	return &p, nil
}

func (r *memPayments) AddRefund(_ context.Context, id uuid.UUID, amountCents int64) (*models.Payment, error) {
	if err := r.addRefundErr; err != nil {
		r.addRefundErr = nil
		return nil, err
	}
	p, ok := r.items[id]
	if !ok {
		return nil, apperror.ErrPaymentNotFound
	}
	if p.RefundedCents+amountCents > p.AmountGross {
		return nil, apperror.ErrAmountExceeds
	}
	p.RefundedCents += amountCents
	r.items[id] = p
	return &p, nil
}

type memPayouts struct {
	items map[uuid.UUID]models.Payout
}

func newMemPayouts() *memPayouts {
	return &memPayouts{items: map[uuid.UUID]models.Payout{}}
}

func (r *memPayouts) Upsert(_ context.Context, p *models.Payout) error {
	if existing, ok := r.items[p.BookingID]; ok {
		if existing.Status == models.PayoutStatusPaid {
			return apperror.ErrPayoutPaid
		}
		p.ID = existing.ID
	}
	r.items[p.BookingID] = *p
	return nil
}

func (r *memPayouts) GetByBookingID(_ context.Context, bookingID uuid.UUID) (*models.Payout, error) {
	p, ok := r.items[bookingID]
	if !ok {
		return nil, apperror.ErrPayoutNotFound
	}
	return &p, nil
}

func (r *memPayouts) Block(_ context.Context, bookingID uuid.UUID, reason string) (bool, error) {
	p, ok := r.items[bookingID]
	if !ok || p.Status == models.PayoutStatusPaid {
		return false, nil
	}
	p.Status = models.PayoutStatusBlocked
	p.BlockedReason = &reason
	r.items[bookingID] = p
	return true, nil
}

func (r *memPayouts) MarkPaid(_ context.Context, bookingID uuid.UUID, at time.Time) (*models.Payout, error) {
	p, ok := r.items[bookingID]
	if !ok || p.Status != models.PayoutStatusPending {
		return nil, apperror.ErrStaleStatus
	}
	p.Status = models.PayoutStatusPaid
	p.PaidAt = &at
	r.items[bookingID] = p
	return &p, nil
}

type memFeedback struct {
	items map[uuid.UUID]models.CallFeedback
}

func newMemFeedback() *memFeedback {
	return &memFeedback{items: map[uuid.UUID]models.CallFeedback{}}
}

func (r *memFeedback) Upsert(_ context.Context, f *models.CallFeedback) error {
	version := 1
	if existing, ok := r.items[f.BookingID]; ok {
		if existing.QCStatus == models.QCStatusPassed {
			return apperror.ErrFeedbackLocked
		}
		version = existing.Version + 1
	}
	f.Version = version
	f.QCStatus = models.QCStatusMissing
	f.QCReasons = nil
	f.QCCheckedAt = nil
	r.items[f.BookingID] = *f
	return nil
}

func (r *memFeedback) GetByBookingID(_ context.Context, bookingID uuid.UUID) (*models.CallFeedback, error) {
	f, ok := r.items[bookingID]
	if !ok {
		return nil, apperror.ErrFeedbackNotFound
	}
	return &f, nil
}

func (r *memFeedback) UpdateQC(_ context.Context, bookingID uuid.UUID, version int, status models.QCStatus, reasons []string, at time.Time) error {
	f, ok := r.items[bookingID]
	if !ok || f.Version != version || f.QCStatus != models.QCStatusMissing {
		return apperror.ErrStaleStatus
	}
	f.QCStatus = status
	f.QCReasons = reasons
	f.QCCheckedAt = &at
	r.items[bookingID] = f
	return nil
}

func (r *memFeedback) ResetQC(_ context.Context, bookingID uuid.UUID) (*models.CallFeedback, error) {
	f, ok := r.items[bookingID]
	if !ok || f.QCStatus != models.QCStatusRevise {
		return nil, apperror.ErrStaleStatus
	}
	f.QCStatus = models.QCStatusMissing
	f.QCReasons = nil
	f.QCCheckedAt = nil
	r.items[bookingID] = f
	return &f, nil
}

type memDisputes struct {
	items map[uuid.UUID]models.Dispute
}

func newMemDisputes() *memDisputes {
	return &memDisputes{items: map[uuid.UUID]models.Dispute{}}
}

func (r *memDisputes) Create(_ context.Context, d *models.Dispute) error {
	for _, existing := range r.items {
		if existing.BookingID == d.BookingID && existing.IsOpen() {
			return apperror.ErrDisputeExists
		}
	}
	r.items[d.ID] = *d
	return nil
}

func (r *memDisputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, ok := r.items[id]
	if !ok {
		return nil, apperror.ErrDisputeNotFound
	}
	return &d, nil
}

func (r *memDisputes) GetOpenByBookingID(_ context.Context, bookingID uuid.UUID) (*models.Dispute, error) {
	for _, d := range r.items {
		if d.BookingID == bookingID && d.IsOpen() {
			d := d
			return &d, nil
		}
	}
	return nil, apperror.ErrDisputeNotFound
}

func (r *memDisputes) Resolve(_ context.Context, d *models.Dispute) error {
	stored, ok := r.items[d.ID]
	if !ok || !stored.IsOpen() {
		return apperror.ErrStaleStatus
	}
	d.Status = models.DisputeStatusResolved
	r.items[d.ID] = *d
	return nil
}

func (r *memDisputes) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]models.Dispute, error) {
	var out []models.Dispute
	for _, d := range r.items {
		if d.BookingID == bookingID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDisputes) only(t *testing.T, bookingID uuid.UUID) models.Dispute {
	t.Helper()
	list, _ := r.ListByBooking(context.Background(), bookingID)
	require.Len(t, list, 1)
	return list[0]
}

type memAudit struct {
	entries []models.AuditEntry
}

func (r *memAudit) Append(_ context.Context, e *models.AuditEntry) error {
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memAudit) ListByEntity(_ context.Context, entity string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range r.entries {
		if e.Entity == entity && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memAudit) actions(entity string, entityID uuid.UUID) []string {
	list, _ := r.ListByEntity(context.Background(), entity, entityID)
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Action)
	}
	return out
}

func (r *memAudit) count(action string) int {
	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type memAttendance struct {
	events []models.AttendanceEvent
}

func (r *memAttendance) Record(_ context.Context, e *models.AttendanceEvent) error {
	r.events = append(r.events, *e)
	return nil
}

func (r *memAttendance) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.OccurredAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

// fakeGateway выдаёт последовательные ссылки и запоминает вызовы.
type fakeGateway struct {
	seq        int
	authorized []AuthorizeRequest
	captured   []string
	reversed   []string
	refunded   map[string]int64
	refundKeys map[string]bool

	authErr    error
	captureErr error
	reverseErr error
	refundErr  error
}

func (g *fakeGateway) Authorize(_ context.Context, req AuthorizeRequest) (string, error) {
	if g.authErr != nil {
		return "", g.authErr
	}
	g.seq++
	g.authorized = append(g.authorized, req)
	return fmt.Sprintf("chrg_test_%d", g.seq), nil
}

func (g *fakeGateway) Capture(_ context.Context, ref string) error {
	if g.captureErr != nil {
		return g.captureErr
	}
	g.captured = append(g.captured, ref)
	return nil
}

func (g *fakeGateway) Reverse(_ context.Context, ref string) error {
	if g.reverseErr != nil {
		return g.reverseErr
	}
	g.reversed = append(g.reversed, ref)
	return nil
}

func (g *fakeGateway) Refund(_ context.Context, ref string, amountCents int64, key string) error {
	if g.refundErr != nil {
		return g.refundErr
	}
	if g.refunded == nil {
		g.refunded = map[string]int64{}
		g.refundKeys = map[string]bool{}
	}
	if g.refundKeys[key] {
		return nil
	}
	g.refundKeys[key] = true
	g.refunded[ref] += amountCents
	return nil
}

type mockMeetings struct{ mock.Mock }

func (m *mockMeetings) CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error) {
	args := m.Called(ctx, req)
	if meeting, ok := args.Get(0).(*Meeting); ok {
		return meeting, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMeetings) DeleteMeeting(ctx context.Context, meetingID string) error {
	return m.Called(ctx, meetingID).Error(0)
}

type queuedJob struct {
	name    string
	payload any
	delay   time.Duration
}

type recordingQueue struct {
	jobs []queuedJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job string, payload any) error {
	return q.EnqueueIn(context.Background(), job, payload, 0)
}

func (q *recordingQueue) EnqueueIn(_ context.Context, job string, payload any, delay time.Duration) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, queuedJob{name: job, payload: payload, delay: delay})
	return nil
}

func (q *recordingQueue) names() []string {
	out := make([]string, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.name)
	}
	return out
}

type recordingNotifier struct {
	events []models.LifecycleEvent
}

func (n *recordingNotifier) Publish(_ context.Context, evt models.LifecycleEvent) error {
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) types() []string {
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type auditorFunc func(ctx context.Context, text string, actions []string) (*ai.Verdict, error)

func (f auditorFunc) AuditFeedback(ctx context.Context, text string, actions []string) (*ai.Verdict, error) {
	return f(ctx, text, actions)
}

const testPriceCents = 10000

// harness собирает сервисы на хранилищах в памяти с управляемыми часами.
type harness struct {
	now time.Time

	bookings   *memBookings
	payments   *memPayments
	payouts    *memPayouts
	feedback   *memFeedback
	disputes   *memDisputes
	audit      *memAudit
	attendance *memAttendance
	gateway    *fakeGateway
	meetings   *mockMeetings
	queue      *recordingQueue
	notifier   *recordingNotifier

	paymentSvc *PaymentService
	machine    *BookingService
	payoutSvc  *PayoutService
	disputeSvc *DisputeService
	qc         *QCService
	sweeps     *SweepService

	candidate    *models.Actor
	professional *models.Actor
	admin        *models.Actor
}

func newHarness(t *testing.T, auditor Auditor) *harness {
	t.Helper()

	h := &harness{
		now:          time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		bookings:     newMemBookings(),
		payments:     newMemPayments(),
		payouts:      newMemPayouts(),
		feedback:     newMemFeedback(),
		disputes:     newMemDisputes(),
		audit:        &memAudit{},
		attendance:   &memAttendance{},
		gateway:      &fakeGateway{},
		meetings:     &mockMeetings{},
		queue:        &recordingQueue{},
		notifier:     &recordingNotifier{},
		candidate:    &models.Actor{UserID: uuid.New(), Role: models.RoleCandidate},
		professional: &models.Actor{UserID: uuid.New(), Role: models.RoleProfessional},
		admin:        &models.Actor{UserID: uuid.New(), Role: models.RoleAdmin},
	}
	clock := func() time.Time { return h.now }

	tx := passTx{}
	h.paymentSvc = NewPaymentService(tx, h.payments, h.payouts, h.audit, h.gateway, "thb")
	h.paymentSvc.now = clock
	h.machine = NewBookingService(tx, h.bookings, h.disputes, h.attendance, h.audit, h.paymentSvc, h.meetings, h.queue, h.notifier, DefaultBookingConfig())
	h.machine.now = clock
	h.payoutSvc = NewPayoutService(tx, h.bookings, h.feedback, h.disputes, h.payouts, h.paymentSvc, h.audit)
	h.payoutSvc.now = clock
	h.disputeSvc = NewDisputeService(tx, h.disputes, h.machine, h.paymentSvc, h.payoutSvc, h.audit)
	h.disputeSvc.now = clock

	qcCfg := DefaultQCConfig()
	qcCfg.AuditTimeout = 50 * time.Millisecond
	h.qc = NewQCService(tx, h.feedback, h.bookings, h.machine, h.audit, auditor, h.queue, qcCfg)
	h.qc.now = clock
	h.sweeps = NewSweepService(h.bookings, h.attendance, h.machine, DefaultSweepConfig())
	h.sweeps.now = clock

	t.Cleanup(func() { h.meetings.AssertExpectations(t) })
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) slotIn(d time.Duration) Slot {
	start := h.now.Add(d)
	return Slot{StartAt: start, EndAt: start.Add(time.Hour)}
}

func (h *harness) booking(t *testing.T, id uuid.UUID) *models.Booking {
	t.Helper()
	b, err := h.bookings.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (h *harness) payment(t *testing.T, bookingID uuid.UUID) *models.Payment {
	t.Helper()
	p, err := h.payments.GetByBookingID(context.Background(), bookingID)
	require.NoError(t, err)
	return p
}

func (h *harness) request(t *testing.T) *models.Booking {
	t.Helper()
	b, err := h.machine.RequestBooking(context.Background(), h.candidate, RequestBookingInput{
		ProfessionalID: h.professional.UserID,
		PriceCents:     testPriceCents,
		PaymentSource:  "tokn_test",
	})
	require.NoError(t, err)
	return b
}

// accepted создаёт подтверждённое бронирование со слотом через startIn.
func (h *harness) accepted(t *testing.T, startIn time.Duration) *models.Booking {
	t.Helper()
	b := h.request(t)
	b, err := h.machine.Accept(context.Background(), h.professional, b.ID, h.slotIn(startIn))
	require.NoError(t, err)
	return b
}

// attended проводит встречу, на которую пришли оба участника.
func (h *harness) attended(t *testing.T) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b := h.accepted(t, 24*time.Hour)

	h.advance(24*time.Hour + time.Minute)
	require.NoError(t, h.machine.RecordAttendance(ctx, b.ID, h.professional.UserID, models.AttendanceKindJoined, h.now))
	require.NoError(t, h.machine.RecordAttendance(ctx, b.ID, h.candidate.UserID, models.AttendanceKindJoined, h.now))
	h.advance(2 * time.Hour)

	b, err := h.machine.ResolveAttendance(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusCompletedPendingFeedback, b.Status)
	return b
}

func (h *harness) submit(t *testing.T, bookingID uuid.UUID, words int, actions ...string) *models.CallFeedback {
	t.Helper()
	f, err := h.qc.Submit(context.Background(), h.professional, bookingID, feedbackInput(words, actions...))
	require.NoError(t, err)
	return f
}

func feedbackInput(words int, actions ...string) FeedbackInput {
	return FeedbackInput{
		Text:                strings.TrimSpace(strings.Repeat("слово ", words)),
		Actions:             actions,
		RatingPreparation:   4,
		RatingCommunication: 5,
		RatingPotential:     3,
	}
}

var threeActions = []string{"обновить резюме", "подготовить кейсы", "пройти мок-интервью"}
