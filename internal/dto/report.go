package dto

import (
	"time"

	"github.com/waraqaweb/classes-api/internal/models"
)

// SubmitReportRequest files a class report. TEACHER_CANCELLED attendance
// requires a cancel reason.
type SubmitReportRequest struct {
	Subject      string                  `json:"subject" validate:"required"`
	Attendance   models.ReportAttendance `json:"attendance" validate:"required"`
	Notes        string                  `json:"notes,omitempty"`
	CancelReason string                  `json:"cancel_reason,omitempty"`
}

// ExtensionRequest grants a submission extension. Admin only.
type ExtensionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SubmissionStatusResponse describes the report window for a lesson.
type SubmissionStatusResponse struct {
	LessonID        string                 `json:"lesson_id"`
	TrackingStatus  models.TrackingStatus  `json:"tracking_status"`
	TeacherDeadline *time.Time             `json:"teacher_deadline,omitempty"`
	Extension       *models.ExtensionGrant `json:"extension,omitempty"`
	CanSubmit       bool                   `json:"can_submit"`
	Report          *models.LessonReport   `json:"report,omitempty"`
}

// SweepResult reports what the unreported-marking sweep touched.
type SweepResult struct {
	Processed int `json:"processed"`
	Marked    int `json:"marked"`
}
