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
	"github.com/waraqaweb/classes-api/pkg/config"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
)

type reportLessonStore interface {
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	SetReport(ctx context.Context, id string, report types.JSONText, submittedAt time.Time, from, to models.LessonStatus, cancelReason *string) error
	OpenTracking(ctx context.Context, id string, deadline time.Time) error
	SetExtension(ctx context.Context, id string, ext types.JSONText, expiresAt time.Time) error
	MarkUnreported(ctx context.Context, id string) (bool, error)
	ListDeadlinePassed(ctx context.Context, now time.Time, limit int) ([]models.Lesson, error)
	ListEndedWithoutTracking(ctx context.Context, since, now time.Time, limit int) ([]models.Lesson, error)
	DeleteStaleUnreported(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReportService tracks the post-class report window: it opens tracking when
// a lesson ends, accepts submissions inside the deadline (or an admin
// extension), and expires windows that lapse.
type ReportService struct {
	lessons  reportLessonStore
	policy   policyEvaluator
	audit    auditWriter
	notify   NotificationSink
	invoices InvoiceRecalculator
	validate *validator.Validate
	cfg      config.LessonsConfig
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewReportService builds the service.
func NewReportService(lessons reportLessonStore, policy policyEvaluator, audit auditWriter, notify NotificationSink, invoices InvoiceRecalculator, cfg config.LessonsConfig, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = 72 * time.Hour
	}
	if cfg.ExtensionWindow <= 0 {
		cfg.ExtensionWindow = 24 * time.Hour
	}
	return &ReportService{
		lessons:  lessons,
		policy:   policy,
		audit:    audit,
		notify:   notify,
		invoices: invoices,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit files the class report and forces the lifecycle status the
// attendance value dictates. Teachers are bound to the deadline window;
// admins may file any time, including for unreported lessons.
func (s *ReportService) Submit(ctx context.Context, lessonID string, req dto.SubmitReportRequest, actor *models.JWTClaims) (*models.Lesson, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	target, err := req.Attendance.StatusFor()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if req.Attendance == models.AttendanceTeacherCancelled && req.CancelReason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cancel_reason is required for TEACHER_CANCELLED attendance")
	}

	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonScheduled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "lesson was already reported or cancelled")
	}

	now := s.nowFn()
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		if lesson.TeacherID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not the teacher of this lesson")
		}
		if req.Attendance == models.AttendanceNoShowBoth {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "NO_SHOW_BOTH can only be filed by an admin")
		}
		if now.Before(lesson.StartsAt) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "lesson has not started yet")
		}
		if !s.windowOpen(lesson, now) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "report window has closed")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and admins may file reports")
	}

	report := models.LessonReport{
		Subject:      req.Subject,
		Attendance:   req.Attendance,
		Notes:        req.Notes,
		CancelReason: req.CancelReason,
		SubmittedBy:  actor.UserID,
		SubmittedAt:  now,
	}
	doc, err := models.MarshalDoc(report)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode report")
	}

	var cancelReason *string
	if req.CancelReason != "" {
		cancelReason = &req.CancelReason
	}
	if err := s.lessons.SetReport(ctx, lesson.ID, doc, now, models.LessonScheduled, target, cancelReason); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "lesson was already reported or cancelled")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store report")
	}

	s.policy.InvalidateStats(ctx, lesson)
	s.writeAudit(ctx, actor.UserID, models.AuditActionReportSubmit, lesson.ID, doc)
	s.notify.NotifyLessonEvent(lesson, EventReportSubmitted, actor.UserID)
	s.invoices.Recalculate(lesson.ID)
	s.logger.Sugar().Infow("report submitted",
		"lesson_id", lesson.ID,
		"by", actor.UserID,
		"attendance", req.Attendance,
		"status", target,
	)
	return s.loadLesson(ctx, lesson.ID)
}

// SubmissionStatus describes the report window for one lesson, lazily
// opening tracking when the lesson has ended but no sweep has run yet.
func (s *ReportService) SubmissionStatus(ctx context.Context, lessonID string, actor *models.JWTClaims) (*dto.SubmissionStatusResponse, error) {
	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if !actorParticipates(lesson, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this lesson")
	}

	now := s.nowFn()
	if lesson.TrackingStatus == models.TrackingPending && now.After(lesson.EndsAt()) && lesson.Status == models.LessonScheduled {
		deadline := lesson.EndsAt().Add(s.cfg.ReportWindow)
		if err := s.lessons.OpenTracking(ctx, lesson.ID, deadline); err != nil && err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open tracking")
		}
		lesson, err = s.loadLesson(ctx, lesson.ID)
		if err != nil {
			return nil, err
		}
	}

	extension, err := lesson.ExtensionDoc()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode extension")
	}
	report, err := lesson.ReportDoc()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode report")
	}

	canSubmit := false
	if report == nil {
		switch actor.Role {
		case models.RoleAdmin:
			canSubmit = true
		case models.RoleTeacher:
			canSubmit = !now.Before(lesson.StartsAt) && s.windowOpen(lesson, now)
		}
	}

	return &dto.SubmissionStatusResponse{
		LessonID:        lesson.ID,
		TrackingStatus:  lesson.TrackingStatus,
		TeacherDeadline: lesson.TeacherDeadline,
		Extension:       extension,
		CanSubmit:       canSubmit,
		Report:          report,
	}, nil
}

// GrantExtension opens a fresh submission window for an unreported or
// still-open lesson. A second grant replaces the first, it never stacks.
func (s *ReportService) GrantExtension(ctx context.Context, lessonID string, req dto.ExtensionRequest, admin *models.JWTClaims) (*models.Lesson, error) {
	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.ReportSubmittedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "report already submitted")
	}

	now := s.nowFn()
	grant := models.ExtensionGrant{
		GrantedBy: admin.UserID,
		GrantedAt: now,
		Reason:    req.Reason,
		ExpiresAt: now.Add(s.cfg.ExtensionWindow),
	}
	doc, err := models.MarshalDoc(grant)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode extension")
	}
	if err := s.lessons.SetExtension(ctx, lesson.ID, doc, grant.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "report already submitted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant extension")
	}

	s.writeAudit(ctx, admin.UserID, models.AuditActionExtensionGrant, lesson.ID, doc)
	s.notify.NotifyLessonEvent(lesson, EventExtensionGranted, admin.UserID)
	s.logger.Sugar().Infow("extension granted", "lesson_id", lesson.ID, "by", admin.UserID, "expires_at", grant.ExpiresAt)
	return s.loadLesson(ctx, lesson.ID)
}

// InitializeTracking opens the report window for lessons that have ended
// since the previous pass. Run periodically by the sweep coordinator.
func (s *ReportService) InitializeTracking(ctx context.Context, now time.Time) (int, error) {
	since := now.Add(-24 * time.Hour)
	ended, err := s.lessons.ListEndedWithoutTracking(ctx, since, now, 500)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ended lessons")
	}

	opened := 0
	for i := range ended {
		lesson := &ended[i]
		deadline := lesson.EndsAt().Add(s.cfg.ReportWindow)
		if err := s.lessons.OpenTracking(ctx, lesson.ID, deadline); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			s.logger.Sugar().Errorw("failed to open tracking", "lesson_id", lesson.ID, "error", err)
			continue
		}
		opened++
	}
	return opened, nil
}

// MarkExpired flags every lesson whose window (or extension) has lapsed
// without a report. Idempotent: a re-run over the same rows marks nothing.
func (s *ReportService) MarkExpired(ctx context.Context, now time.Time) (dto.SweepResult, error) {
	var result dto.SweepResult

	expired, err := s.lessons.ListDeadlinePassed(ctx, now, 500)
	if err != nil {
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expired windows")
	}

	for i := range expired {
		lesson := &expired[i]
		result.Processed++
		marked, err := s.lessons.MarkUnreported(ctx, lesson.ID)
		if err != nil {
			s.logger.Sugar().Errorw("failed to mark unreported", "lesson_id", lesson.ID, "error", err)
			continue
		}
		if !marked {
			continue
		}
		result.Marked++
		s.notify.NotifyLessonEvent(lesson, EventMarkedUnreported, "")
	}

	if result.Marked > 0 {
		s.logger.Sugar().Infow("unreported sweep finished", "processed", result.Processed, "marked", result.Marked)
	}
	return result, nil
}

// CleanupStale purges unreported lessons older than the retention window.
func (s *ReportService) CleanupStale(ctx context.Context, now time.Time) (int64, error) {
	if s.cfg.UnreportedRetention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.cfg.UnreportedRetention)
	deleted, err := s.lessons.DeleteStaleUnreported(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge stale lessons")
	}
	if deleted > 0 {
		s.logger.Sugar().Infow("stale unreported lessons purged", "cutoff", cutoff, "deleted", deleted)
	}
	return deleted, nil
}

// windowOpen reports whether a teacher may still file. An admin extension
// replaces the base deadline entirely.
func (s *ReportService) windowOpen(lesson *models.Lesson, now time.Time) bool {
	switch lesson.TrackingStatus {
	case models.TrackingPending:
		// Tracking not opened yet; the base window still applies.
		return !now.After(lesson.EndsAt().Add(s.cfg.ReportWindow))
	case models.TrackingOpen:
		return lesson.TeacherDeadline != nil && !now.After(*lesson.TeacherDeadline)
	case models.TrackingExtended:
		return lesson.ExtensionExpiresAt != nil && !now.After(*lesson.ExtensionExpiresAt)
	default:
		return false
	}
}

func (s *ReportService) loadLesson(ctx context.Context, id string) (*models.Lesson, error) {
	lesson, err := s.lessons.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

func (s *ReportService) writeAudit(ctx context.Context, userID, action, lessonID string, newValues []byte) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "lessons",
		ResourceID: &lessonID,
		NewValues:  newValues,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to write audit log", "action", action, "lesson_id", lessonID, "error", err)
	}
}
