package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/models"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
	"github.com/waraqaweb/classes-api/pkg/localtime"
)

type lessonStore interface {
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	List(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, int, error)
	Create(ctx context.Context, lesson *models.Lesson) error
	UpdateStatusGuarded(ctx context.Context, id string, from, to models.LessonStatus, cancelReason *string) error
	UpdateHoldRange(ctx context.Context, teacherID, guardianID string, from, to time.Time, fromStatus, toStatus models.LessonStatus) (int64, error)
}

// LessonService covers single-lesson booking, cancellation, vacation holds
// and read access. Recurring generation lives in RecurrenceService; report
// submission in ReportService.
type LessonService struct {
	lessons  lessonStore
	policy   policyEvaluator
	oracle   AvailabilityOracle
	audit    auditWriter
	notify   NotificationSink
	invoices InvoiceRecalculator
	validate *validator.Validate
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewLessonService builds the service.
func NewLessonService(lessons lessonStore, policy policyEvaluator, oracle AvailabilityOracle, audit auditWriter, notify NotificationSink, invoices InvoiceRecalculator, logger *zap.Logger) *LessonService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LessonService{
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

// Create books one standalone lesson after an availability check.
func (s *LessonService) Create(ctx context.Context, req dto.CreateLessonRequest, actor *models.JWTClaims) (*models.Lesson, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	if _, err := localtime.LoadLocation(req.Timezone); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown timezone "+req.Timezone)
	}
	now := s.nowFn()
	if !req.StartsAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start must be in the future")
	}

	if s.oracle != nil {
		end := req.StartsAt.Add(time.Duration(req.DurationMinutes) * time.Minute)
		verdict, err := s.oracle.Validate(ctx, req.TeacherID, req.StartsAt, end, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrOracleUnreachable.Code, appErrors.ErrOracleUnreachable.Status, appErrors.ErrOracleUnreachable.Message)
		}
		if !verdict.IsAvailable {
			return nil, appErrors.Clone(appErrors.ErrSlotUnavailable, verdict.Reason)
		}
	}

	lesson := &models.Lesson{
		TeacherID:       req.TeacherID,
		GuardianID:      req.GuardianID,
		StudentID:       req.StudentID,
		StartsAt:        req.StartsAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Timezone:        req.Timezone,
	}
	if err := s.lessons.Create(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson")
	}

	s.notify.NotifyLessonEvent(lesson, EventLessonCreated, actor.UserID)
	s.logger.Sugar().Infow("lesson booked", "lesson_id", lesson.ID, "teacher_id", lesson.TeacherID, "starts_at", lesson.StartsAt)
	return lesson, nil
}

// Get returns one lesson, restricted to its participants.
func (s *LessonService) Get(ctx context.Context, lessonID string, actor *models.JWTClaims) (*models.Lesson, error) {
	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if !actorParticipates(lesson, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this lesson")
	}
	return lesson, nil
}

// List returns lessons matching the filter. Non-admin callers are pinned to
// their own lessons regardless of the requested filter.
func (s *LessonService) List(ctx context.Context, filter models.LessonFilter, actor *models.JWTClaims) ([]models.Lesson, int, error) {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		filter.TeacherID = actor.UserID
	case models.RoleGuardian:
		filter.GuardianID = actor.UserID
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	default:
		return nil, 0, appErrors.ErrForbidden
	}
	lessons, total, err := s.lessons.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}
	return lessons, total, nil
}

// Policy answers the change-policy question for one lesson and the calling
// actor. Read-only, consumed by clients to render action state.
func (s *LessonService) Policy(ctx context.Context, lessonID string, actor *models.JWTClaims) (*models.Lesson, models.ChangePolicy, error) {
	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, models.ChangePolicy{}, err
	}
	if !actorParticipates(lesson, actor) {
		return nil, models.ChangePolicy{}, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this lesson")
	}
	policy, err := s.policy.Evaluate(ctx, lesson, actor.Role, s.nowFn())
	if err != nil {
		return nil, models.ChangePolicy{}, err
	}
	return lesson, policy, nil
}

// Cancel moves a scheduled lesson to the role-specific cancelled status.
// The policy gate is advisory; the guarded write is what prevents a cancel
// racing a report submission or another cancel.
func (s *LessonService) Cancel(ctx context.Context, lessonID string, req dto.CancelLessonRequest, actor *models.JWTClaims) (*models.Lesson, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cancellation reason is required")
	}

	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if !actorParticipates(lesson, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this lesson")
	}

	policy, err := s.policy.Evaluate(ctx, lesson, actor.Role, s.nowFn())
	if err != nil {
		return nil, err
	}
	if !policy.CanCancel {
		return nil, denialError(policy, models.ActionCancel)
	}

	target, err := models.CancelStatusFor(actor.Role)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, err.Error())
	}
	reason := req.Reason
	if err := s.lessons.UpdateStatusGuarded(ctx, lesson.ID, models.LessonScheduled, target, &reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "lesson was already cancelled or reported")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel lesson")
	}

	s.policy.InvalidateStats(ctx, lesson)
	s.writeAudit(ctx, actor.UserID, models.AuditActionLessonCancel, lesson.ID)
	s.notify.NotifyLessonEvent(lesson, EventLessonCancelled, actor.UserID)
	s.invoices.Recalculate(lesson.ID)
	s.logger.Sugar().Infow("lesson cancelled", "lesson_id", lesson.ID, "by", actor.UserID, "status", target)
	return s.loadLesson(ctx, lesson.ID)
}

// Hold places scheduled lessons in a range on hold, or releases them back
// to scheduled. Used for teacher or family vacations.
func (s *LessonService) Hold(ctx context.Context, req dto.HoldRequest, actor *models.JWTClaims) (int64, error) {
	if err := s.validate.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid hold payload")
	}
	if req.TeacherID == "" && req.GuardianID == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "teacher_id or guardian_id is required")
	}

	from, to := models.LessonScheduled, models.LessonOnHold
	event := EventLessonOnHold
	if req.Release {
		from, to = models.LessonOnHold, models.LessonScheduled
		event = EventLessonRescheduled
	}

	affected, err := s.lessons.UpdateHoldRange(ctx, req.TeacherID, req.GuardianID, req.From, req.To, from, to)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update hold range")
	}

	s.writeAudit(ctx, actor.UserID, models.AuditActionLessonHold, "")
	s.logger.Sugar().Infow("hold range applied",
		"teacher_id", req.TeacherID,
		"guardian_id", req.GuardianID,
		"release", req.Release,
		"affected", affected,
		"event", event,
	)
	return affected, nil
}

func (s *LessonService) loadLesson(ctx context.Context, id string) (*models.Lesson, error) {
	lesson, err := s.lessons.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

func (s *LessonService) writeAudit(ctx context.Context, userID, action, lessonID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:   &userID,
		Action:   action,
		Resource: "lessons",
	}
	if lessonID != "" {
		entry.ResourceID = &lessonID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to write audit log", "action", action, "lesson_id", lessonID, "error", err)
	}
}
