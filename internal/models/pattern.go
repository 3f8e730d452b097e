package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// PatternSlot is one weekly recurrence rule inside a pattern. DayOfWeek uses
// 0=Sunday through 6=Saturday. Duration and timezone fall back to the
// pattern's own values when zero/empty.
type PatternSlot struct {
	DayOfWeek       int    `json:"day_of_week" validate:"min=0,max=6"`
	Start           string `json:"start" validate:"required"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

// Pattern is a recurring-lesson template. It only spawns instances and never
// carries a schedulable lifecycle status itself.
type Pattern struct {
	ID              string         `db:"id" json:"id"`
	TeacherID       string         `db:"teacher_id" json:"teacher_id"`
	GuardianID      string         `db:"guardian_id" json:"guardian_id"`
	StudentID       string         `db:"student_id" json:"student_id"`
	Slots           types.JSONText `db:"slots" json:"slots"`
	DurationMinutes int            `db:"duration_minutes" json:"duration_minutes"`
	Timezone        string         `db:"timezone" json:"timezone"`
	WindowMonths    int            `db:"window_months" json:"window_months"`
	LastGeneratedAt *time.Time     `db:"last_generated_at" json:"last_generated_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// SlotsDoc decodes the pattern's slot list.
func (p *Pattern) SlotsDoc() ([]PatternSlot, error) {
	if len(p.Slots) == 0 {
		return nil, nil
	}
	var slots []PatternSlot
	if err := json.Unmarshal(p.Slots, &slots); err != nil {
		return nil, fmt.Errorf("decode pattern slots: %w", err)
	}
	return slots, nil
}
