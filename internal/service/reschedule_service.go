package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/models"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
)

type rescheduleLessonStore interface {
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	AttachChangeRequest(ctx context.Context, id string, doc types.JSONText) error
	ResolveChangeRequest(ctx context.Context, id string, doc types.JSONText) error
	UpdateScheduleGuarded(ctx context.Context, id string, start time.Time, durationMinutes int, timezone string, history types.JSONText) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type policyEvaluator interface {
	Evaluate(ctx context.Context, lesson *models.Lesson, role models.UserRole, now time.Time) (models.ChangePolicy, error)
	InvalidateStats(ctx context.Context, lesson *models.Lesson)
}

// RescheduleService runs the change-request negotiation: a participant
// proposes a new time, an admin approves or rejects, approval applies the
// move. Admins can also move a lesson directly without a request.
type RescheduleService struct {
	lessons  rescheduleLessonStore
	policy   policyEvaluator
	oracle   AvailabilityOracle
	audit    auditWriter
	notify   NotificationSink
	invoices InvoiceRecalculator
	validate *validator.Validate
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewRescheduleService builds the service.
func NewRescheduleService(lessons rescheduleLessonStore, policy policyEvaluator, oracle AvailabilityOracle, audit auditWriter, notify NotificationSink, invoices InvoiceRecalculator, logger *zap.Logger) *RescheduleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RescheduleService{
		lessons:  lessons,
		policy:   policy,
		oracle:   oracle,
		audit:    audit,
		notify:   notify,
		invoices: invoices,
		validate: validator.New(),
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Request opens a change request on a scheduled lesson. At most one may be
// pending; the uniqueness is enforced by the guarded write, so two racing
// requests cannot both attach.
func (s *RescheduleService) Request(ctx context.Context, lessonID string, req dto.RescheduleProposal, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}

	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if !actorParticipates(lesson, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this lesson")
	}

	now := s.nowFn()
	if !req.ProposedStart.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proposed start must be in the future")
	}

	policy, err := s.policy.Evaluate(ctx, lesson, actor.Role, now)
	if err != nil {
		return nil, err
	}
	if !policy.CanReschedule {
		return nil, denialError(policy, models.ActionReschedule)
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = lesson.DurationMinutes
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = lesson.Timezone
	}

	// Teachers vouch for their own calendar; everyone else gets the
	// proposed slot verified against the teacher's availability.
	if actor.Role != models.RoleTeacher && s.oracle != nil {
		end := req.ProposedStart.Add(time.Duration(duration) * time.Minute)
		verdict, err := s.oracle.Validate(ctx, lesson.TeacherID, req.ProposedStart, end, lesson.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrOracleUnreachable.Code, appErrors.ErrOracleUnreachable.Status, appErrors.ErrOracleUnreachable.Message)
		}
		if !verdict.IsAvailable {
			return nil, appErrors.Clone(appErrors.ErrSlotUnavailable, verdict.Reason)
		}
	}

	request := models.ChangeRequest{
		RequestedBy:      actor.UserID,
		RequesterRole:    actor.Role,
		RequestedAt:      now,
		ProposedStart:    req.ProposedStart.UTC(),
		ProposedDuration: duration,
		ProposedTimezone: timezone,
		Note:             req.Note,
		OriginalStart:    lesson.StartsAt,
		OriginalDuration: lesson.DurationMinutes,
		OriginalTimezone: lesson.Timezone,
		Status:           models.ChangeRequestPending,
	}
	doc, err := models.MarshalDoc(request)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode change request")
	}

	if err := s.lessons.AttachChangeRequest(ctx, lesson.ID, doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrRequestPending, "lesson is no longer schedulable or a request is already pending")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach change request")
	}

	s.writeAudit(ctx, actor.UserID, models.AuditActionChangeRequest, lesson.ID, nil, doc)
	s.notify.NotifyChangeOutcome(lesson, &request, EventChangeRequested, actor.UserID)
	s.logger.Sugar().Infow("change request opened",
		"lesson_id", lesson.ID,
		"requested_by", actor.UserID,
		"proposed_start", request.ProposedStart,
	)
	return &request, nil
}

// Decide records the admin verdict on the pending request. Approval moves
// the lesson through the same schedule-change path a direct reschedule
// uses; rejection leaves the schedule untouched.
func (s *RescheduleService) Decide(ctx context.Context, lessonID string, req dto.RescheduleDecision, admin *models.JWTClaims) (*models.Lesson, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	request, err := lesson.ChangeRequestDoc()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode change request")
	}
	if request == nil || request.Status != models.ChangeRequestPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "no pending change request on this lesson")
	}

	now := s.nowFn()
	adminID := admin.UserID
	request.DecidedBy = &adminID
	request.DecidedAt = &now
	request.DecisionNote = req.Note

	if !req.Approve {
		request.Status = models.ChangeRequestRejected
		doc, err := models.MarshalDoc(request)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode decision")
		}
		if err := s.lessons.ResolveChangeRequest(ctx, lesson.ID, doc); err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrConflict, "change request was already decided")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
		}
		s.writeAudit(ctx, adminID, models.AuditActionChangeDecision, lesson.ID, nil, doc)
		s.notify.NotifyChangeOutcome(lesson, request, EventChangeRejected, adminID)
		s.logger.Sugar().Infow("change request rejected", "lesson_id", lesson.ID, "decided_by", adminID)
		return s.loadLesson(ctx, lesson.ID)
	}

	request.Status = models.ChangeRequestApproved
	newStart := request.ProposedStart
	duration := request.ProposedDuration
	if req.DurationMinutes > 0 {
		duration = req.DurationMinutes
	}
	timezone := request.ProposedTimezone
	if req.Timezone != "" {
		timezone = req.Timezone
	}

	doc, err := models.MarshalDoc(request)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode decision")
	}
	if err := s.lessons.ResolveChangeRequest(ctx, lesson.ID, doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "change request was already decided")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	s.writeAudit(ctx, adminID, models.AuditActionChangeDecision, lesson.ID, nil, doc)

	updated, err := s.applySchedule(ctx, lesson, newStart, duration, timezone, adminID, admin.Role, req.Note)
	if err != nil {
		return nil, err
	}
	s.notify.NotifyChangeOutcome(updated, request, EventChangeApproved, adminID)
	s.logger.Sugar().Infow("change request approved",
		"lesson_id", lesson.ID,
		"decided_by", adminID,
		"new_start", newStart,
	)
	return updated, nil
}

// DirectReschedule moves a scheduled lesson without the negotiation
// protocol. Admin only, enforced at the route layer.
func (s *RescheduleService) DirectReschedule(ctx context.Context, lessonID string, req dto.DirectReschedule, admin *models.JWTClaims) (*models.Lesson, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}

	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonScheduled {
		return nil, appErrors.Clone(appErrors.ErrLessonTerminal, "only scheduled lessons can be moved")
	}
	if !req.NewStart.After(s.nowFn()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new start must be in the future")
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = lesson.DurationMinutes
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = lesson.Timezone
	}

	updated, err := s.applySchedule(ctx, lesson, req.NewStart.UTC(), duration, timezone, admin.UserID, admin.Role, req.Note)
	if err != nil {
		return nil, err
	}
	s.notify.NotifyLessonEvent(updated, EventLessonRescheduled, admin.UserID)
	return updated, nil
}

// applySchedule is the single write path for schedule changes: it appends a
// history entry and updates the timing columns, guarded on the lesson still
// being in the scheduled state.
func (s *RescheduleService) applySchedule(ctx context.Context, lesson *models.Lesson, newStart time.Time, duration int, timezone, actorID string, role models.UserRole, note string) (*models.Lesson, error) {
	history, err := lesson.HistoryDoc()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode reschedule history")
	}
	history = append(history, models.RescheduleEntry{
		From:      lesson.StartsAt,
		To:        newStart,
		ChangedBy: actorID,
		Role:      role,
		Note:      note,
		ChangedAt: s.nowFn(),
	})
	historyDoc, err := models.MarshalDoc(history)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode reschedule history")
	}

	if err := s.lessons.UpdateScheduleGuarded(ctx, lesson.ID, newStart, duration, timezone, historyDoc); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "lesson was cancelled or reported while the change was in flight")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply schedule change")
	}

	s.writeAudit(ctx, actorID, models.AuditActionLessonReschedule, lesson.ID, lesson.RescheduleHistory, historyDoc)
	s.policy.InvalidateStats(ctx, lesson)
	s.invoices.Recalculate(lesson.ID)
	return s.loadLesson(ctx, lesson.ID)
}

func (s *RescheduleService) loadLesson(ctx context.Context, id string) (*models.Lesson, error) {
	lesson, err := s.lessons.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

func (s *RescheduleService) writeAudit(ctx context.Context, userID, action, lessonID string, oldValues, newValues []byte) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "lessons",
		ResourceID: &lessonID,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to write audit log", "action", action, "lesson_id", lessonID, "error", err)
	}
}

// actorParticipates reports whether the actor may touch this lesson at all.
func actorParticipates(lesson *models.Lesson, actor *models.JWTClaims) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTeacher:
		return lesson.TeacherID == actor.UserID
	case models.RoleGuardian:
		return lesson.GuardianID == actor.UserID
	case models.RoleStudent:
		return lesson.StudentID == actor.UserID
	default:
		return false
	}
}
