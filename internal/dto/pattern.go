package dto

import (
	"time"

	"github.com/waraqaweb/classes-api/internal/models"
)

// CreatePatternRequest creates a recurring-lesson template and materializes
// its first generation window.
type CreatePatternRequest struct {
	TeacherID       string               `json:"teacher_id" validate:"required"`
	GuardianID      string               `json:"guardian_id" validate:"required"`
	StudentID       string               `json:"student_id" validate:"required"`
	Slots           []models.PatternSlot `json:"slots" validate:"required,min=1,dive"`
	DurationMinutes int                  `json:"duration_minutes" validate:"required,min=15,max=240"`
	Timezone        string               `json:"timezone" validate:"required"`
	WindowMonths    int                  `json:"window_months,omitempty" validate:"omitempty,min=1,max=12"`
	BaseDate        *time.Time           `json:"base_date,omitempty"`
}

// UpdatePatternRequest edits a template. Untouched future instances are
// deleted and regenerated from the new rules.
type UpdatePatternRequest struct {
	Slots           []models.PatternSlot `json:"slots" validate:"required,min=1,dive"`
	DurationMinutes int                  `json:"duration_minutes" validate:"required,min=15,max=240"`
	Timezone        string               `json:"timezone" validate:"required"`
	WindowMonths    int                  `json:"window_months,omitempty" validate:"omitempty,min=1,max=12"`
}

// DeleteLessonsRequest selects which generated instances to remove.
type DeleteLessonsRequest struct {
	Scope    models.DeleteScope `json:"scope" validate:"required"`
	LessonID string             `json:"lesson_id,omitempty"`
}
