package dto

import "time"

// CreateLessonRequest books a single, non-recurring lesson.
type CreateLessonRequest struct {
	TeacherID       string    `json:"teacher_id" validate:"required"`
	GuardianID      string    `json:"guardian_id" validate:"required"`
	StudentID       string    `json:"student_id" validate:"required"`
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=15,max=240"`
	Timezone        string    `json:"timezone" validate:"required"`
}

// CancelLessonRequest cancels a scheduled lesson. The reason is mandatory
// for every role.
type CancelLessonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RescheduleProposal opens a change request against a scheduled lesson.
type RescheduleProposal struct {
	ProposedStart   time.Time `json:"proposed_start" validate:"required"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"omitempty,min=15,max=240"`
	Timezone        string    `json:"timezone,omitempty"`
	Note            string    `json:"note,omitempty"`
}

// RescheduleDecision records the admin verdict on a pending change request.
type RescheduleDecision struct {
	Approve         bool   `json:"approve"`
	Note            string `json:"note,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"omitempty,min=15,max=240"`
	Timezone        string `json:"timezone,omitempty"`
}

// DirectReschedule moves a lesson without the negotiation protocol.
// Admin only.
type DirectReschedule struct {
	NewStart        time.Time `json:"new_start" validate:"required"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"omitempty,min=15,max=240"`
	Timezone        string    `json:"timezone,omitempty"`
	Note            string    `json:"note,omitempty"`
}

// HoldRequest places or releases vacation holds on scheduled lessons in a
// date range for one teacher or one guardian.
type HoldRequest struct {
	TeacherID  string    `json:"teacher_id,omitempty"`
	GuardianID string    `json:"guardian_id,omitempty"`
	From       time.Time `json:"from" validate:"required"`
	To         time.Time `json:"to" validate:"required,gtfield=From"`
	Release    bool      `json:"release,omitempty"`
}
