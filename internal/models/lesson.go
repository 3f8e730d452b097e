package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// LessonStatus captures the lifecycle state of a lesson instance.
type LessonStatus string

const (
	LessonScheduled           LessonStatus = "SCHEDULED"
	LessonAttended            LessonStatus = "ATTENDED"
	LessonMissedByStudent     LessonStatus = "MISSED_BY_STUDENT"
	LessonCancelledByTeacher  LessonStatus = "CANCELLED_BY_TEACHER"
	LessonCancelledByGuardian LessonStatus = "CANCELLED_BY_GUARDIAN"
	LessonCancelledByAdmin    LessonStatus = "CANCELLED_BY_ADMIN"
	LessonNoShowBoth          LessonStatus = "NO_SHOW_BOTH"
	LessonOnHold              LessonStatus = "ON_HOLD"
)

// lessonTransitions is the closed transition table for lesson lifecycles.
// Every status mutation in the system must pass through CanTransition; no
// handler re-derives these rules.
var lessonTransitions = map[LessonStatus][]LessonStatus{
	LessonScheduled: {
		LessonAttended,
		LessonMissedByStudent,
		LessonCancelledByTeacher,
		LessonCancelledByGuardian,
		LessonCancelledByAdmin,
		LessonNoShowBoth,
		LessonOnHold,
	},
	// ON_HOLD is the only reversible state, used for vacation impact.
	LessonOnHold: {LessonScheduled},
}

// CanTransition reports whether the lifecycle permits moving from one
// status to another.
func CanTransition(from, to LessonStatus) bool {
	for _, allowed := range lessonTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s LessonStatus) Terminal() bool {
	switch s {
	case LessonAttended, LessonMissedByStudent, LessonCancelledByTeacher,
		LessonCancelledByGuardian, LessonCancelledByAdmin, LessonNoShowBoth:
		return true
	default:
		return false
	}
}

// CancelStatusFor maps an acting role to the cancellation status it produces.
func CancelStatusFor(role UserRole) (LessonStatus, error) {
	switch role {
	case RoleTeacher:
		return LessonCancelledByTeacher, nil
	case RoleGuardian, RoleStudent:
		return LessonCancelledByGuardian, nil
	case RoleAdmin:
		return LessonCancelledByAdmin, nil
	default:
		return "", fmt.Errorf("role %s cannot cancel lessons", role)
	}
}

// TrackingStatus captures the report-submission window state.
type TrackingStatus string

const (
	TrackingPending    TrackingStatus = "PENDING"
	TrackingOpen       TrackingStatus = "OPEN"
	TrackingSubmitted  TrackingStatus = "SUBMITTED"
	TrackingExtended   TrackingStatus = "ADMIN_EXTENDED"
	TrackingUnreported TrackingStatus = "UNREPORTED"
)

// ChangeRequestStatus captures the negotiation state of a reschedule request.
type ChangeRequestStatus string

const (
	ChangeRequestPending  ChangeRequestStatus = "PENDING"
	ChangeRequestApproved ChangeRequestStatus = "APPROVED"
	ChangeRequestRejected ChangeRequestStatus = "REJECTED"
)

// ReportAttendance is the attendance value filed in a lesson report. It
// drives the forced status transition on submission.
type ReportAttendance string

const (
	AttendanceAttended         ReportAttendance = "ATTENDED"
	AttendanceStudentAbsent    ReportAttendance = "STUDENT_ABSENT"
	AttendanceTeacherCancelled ReportAttendance = "TEACHER_CANCELLED"
	AttendanceNoShowBoth       ReportAttendance = "NO_SHOW_BOTH"
)

// StatusFor returns the lifecycle status a reported attendance value forces.
func (a ReportAttendance) StatusFor() (LessonStatus, error) {
	switch a {
	case AttendanceAttended:
		return LessonAttended, nil
	case AttendanceStudentAbsent:
		return LessonMissedByStudent, nil
	case AttendanceTeacherCancelled:
		return LessonCancelledByTeacher, nil
	case AttendanceNoShowBoth:
		return LessonNoShowBoth, nil
	default:
		return "", fmt.Errorf("unknown attendance value %q", a)
	}
}

// ChangeRequest is the pending reschedule proposal attached to a lesson.
// At most one may exist per lesson at any time.
type ChangeRequest struct {
	RequestedBy      string              `json:"requested_by"`
	RequesterRole    UserRole            `json:"requester_role"`
	RequestedAt      time.Time           `json:"requested_at"`
	ProposedStart    time.Time           `json:"proposed_start"`
	ProposedDuration int                 `json:"proposed_duration_minutes"`
	ProposedTimezone string              `json:"proposed_timezone"`
	Note             string              `json:"note,omitempty"`
	OriginalStart    time.Time           `json:"original_start"`
	OriginalDuration int                 `json:"original_duration_minutes"`
	OriginalTimezone string              `json:"original_timezone"`
	Status           ChangeRequestStatus `json:"status"`
	DecidedBy        *string             `json:"decided_by,omitempty"`
	DecidedAt        *time.Time          `json:"decided_at,omitempty"`
	DecisionNote     string              `json:"decision_note,omitempty"`
}

// RescheduleEntry is one audit record of a schedule change.
type RescheduleEntry struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	ChangedBy string    `json:"changed_by"`
	Role      UserRole  `json:"role"`
	Note      string    `json:"note,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// LessonReport is the teacher's (or admin's) filed class report.
type LessonReport struct {
	Subject      string           `json:"subject"`
	Attendance   ReportAttendance `json:"attendance"`
	Notes        string           `json:"notes,omitempty"`
	CancelReason string           `json:"cancel_reason,omitempty"`
	SubmittedBy  string           `json:"submitted_by"`
	SubmittedAt  time.Time        `json:"submitted_at"`
}

// ExtensionGrant records an admin-granted submission extension. A new grant
// replaces the previous one, it never stacks.
type ExtensionGrant struct {
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lesson is one concrete, bookable occurrence.
type Lesson struct {
	ID              string       `db:"id" json:"id"`
	PatternID       *string      `db:"pattern_id" json:"pattern_id,omitempty"`
	TeacherID       string       `db:"teacher_id" json:"teacher_id"`
	GuardianID      string       `db:"guardian_id" json:"guardian_id"`
	StudentID       string       `db:"student_id" json:"student_id"`
	Status          LessonStatus `db:"status" json:"status"`
	StartsAt        time.Time    `db:"starts_at" json:"starts_at"`
	DurationMinutes int          `db:"duration_minutes" json:"duration_minutes"`
	Timezone        string       `db:"timezone" json:"timezone"`
	CancelReason    *string      `db:"cancel_reason" json:"cancel_reason,omitempty"`

	ChangeRequest      types.NullJSONText `db:"change_request" json:"change_request,omitempty"`
	RescheduleHistory  types.JSONText     `db:"reschedule_history" json:"reschedule_history,omitempty"`
	Report             types.NullJSONText `db:"report" json:"report,omitempty"`
	ReportSubmittedAt  *time.Time         `db:"report_submitted_at" json:"report_submitted_at,omitempty"`
	TrackingStatus     TrackingStatus     `db:"tracking_status" json:"tracking_status"`
	TeacherDeadline    *time.Time         `db:"teacher_deadline" json:"teacher_deadline,omitempty"`
	Extension          types.NullJSONText `db:"extension" json:"extension,omitempty"`
	ExtensionExpiresAt *time.Time         `db:"extension_expires_at" json:"extension_expires_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EndsAt returns the instant the lesson finishes.
func (l *Lesson) EndsAt() time.Time {
	return l.StartsAt.Add(time.Duration(l.DurationMinutes) * time.Minute)
}

// HasPendingChangeRequest reports whether an undecided reschedule proposal
// is attached.
func (l *Lesson) HasPendingChangeRequest() bool {
	cr, err := l.ChangeRequestDoc()
	return err == nil && cr != nil && cr.Status == ChangeRequestPending
}

// ChangeRequestDoc decodes the attached change request, nil when absent.
func (l *Lesson) ChangeRequestDoc() (*ChangeRequest, error) {
	if !l.ChangeRequest.Valid || len(l.ChangeRequest.JSONText) == 0 {
		return nil, nil
	}
	var cr ChangeRequest
	if err := json.Unmarshal(l.ChangeRequest.JSONText, &cr); err != nil {
		return nil, fmt.Errorf("decode change request: %w", err)
	}
	return &cr, nil
}

// ReportDoc decodes the filed report, nil when absent.
func (l *Lesson) ReportDoc() (*LessonReport, error) {
	if !l.Report.Valid || len(l.Report.JSONText) == 0 {
		return nil, nil
	}
	var r LessonReport
	if err := json.Unmarshal(l.Report.JSONText, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// ExtensionDoc decodes the active extension grant, nil when absent.
func (l *Lesson) ExtensionDoc() (*ExtensionGrant, error) {
	if !l.Extension.Valid || len(l.Extension.JSONText) == 0 {
		return nil, nil
	}
	var e ExtensionGrant
	if err := json.Unmarshal(l.Extension.JSONText, &e); err != nil {
		return nil, fmt.Errorf("decode extension: %w", err)
	}
	return &e, nil
}

// HistoryDoc decodes the reschedule history, empty when never rescheduled.
func (l *Lesson) HistoryDoc() ([]RescheduleEntry, error) {
	if len(l.RescheduleHistory) == 0 {
		return nil, nil
	}
	var entries []RescheduleEntry
	if err := json.Unmarshal(l.RescheduleHistory, &entries); err != nil {
		return nil, fmt.Errorf("decode reschedule history: %w", err)
	}
	return entries, nil
}

// MarshalDoc encodes a document for a JSONB column.
func MarshalDoc(v interface{}) (types.JSONText, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return types.JSONText(raw), nil
}

// LessonFilter constrains lesson list queries.
type LessonFilter struct {
	TeacherID  string
	GuardianID string
	StudentID  string
	PatternID  string
	Status     LessonStatus
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// DeleteScope selects which of a pattern's instances a bulk delete touches.
type DeleteScope string

const (
	DeleteScopeSingle DeleteScope = "single"
	DeleteScopeFuture DeleteScope = "future"
	DeleteScopePast   DeleteScope = "past"
	DeleteScopeAll    DeleteScope = "all"
)

// Valid reports whether the scope is one of the supported values.
func (s DeleteScope) Valid() bool {
	switch s {
	case DeleteScopeSingle, DeleteScopeFuture, DeleteScopePast, DeleteScopeAll:
		return true
	default:
		return false
	}
}
