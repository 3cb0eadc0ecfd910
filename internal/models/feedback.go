package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// QCStatus статус проверки качества отзыва.
type QCStatus string

// Статусы QC
const (
	QCStatusMissing QCStatus = "missing"
	QCStatusPassed  QCStatus = "passed"
	QCStatusRevise  QCStatus = "revise"
)

// CallFeedback отзыв специалиста по итогам консультации.
type CallFeedback struct {
	BookingID           uuid.UUID  `db:"booking_id" json:"booking_id"`
	CandidateID         uuid.UUID  `db:"candidate_id" json:"candidate_id"`
	ProfessionalID      uuid.UUID  `db:"professional_id" json:"professional_id"`
	Text                string     `db:"text" json:"text"`
	Actions             []string   `db:"-" json:"actions"`
	RatingPreparation   int        `db:"rating_preparation" json:"rating_preparation"`
	RatingCommunication int        `db:"rating_communication" json:"rating_communication"`
	RatingPotential     int        `db:"rating_potential" json:"rating_potential"`
	WordCount           int        `db:"word_count" json:"word_count"`
	QCStatus            QCStatus   `db:"qc_status" json:"qc_status"`
	QCReasons           []string   `db:"-" json:"qc_reasons,omitempty"`
	Version             int        `db:"version" json:"version"`
	SubmittedAt         time.Time  `db:"submitted_at" json:"submitted_at"`
	QCCheckedAt         *time.Time `db:"qc_checked_at" json:"qc_checked_at,omitempty"`
}

// CountWords считает слова, разделённые пробельными символами.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
