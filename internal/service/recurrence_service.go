package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/models"
	"github.com/waraqaweb/classes-api/pkg/config"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
	"github.com/waraqaweb/classes-api/pkg/localtime"
)

type patternStore interface {
	FindByID(ctx context.Context, id string) (*models.Pattern, error)
	ListDue(ctx context.Context, horizon time.Time, limit int) ([]models.Pattern, error)
	Create(ctx context.Context, pattern *models.Pattern) error
	Update(ctx context.Context, pattern *models.Pattern) error
	TouchGenerated(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type recurrenceLessonStore interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	BulkCreateWithTx(ctx context.Context, tx *sqlx.Tx, lessons []models.Lesson) error
	ListStartTimesByPattern(ctx context.Context, patternID string) ([]time.Time, error)
	DeleteFutureByPatternTx(ctx context.Context, tx *sqlx.Tx, patternID string, from time.Time) (int64, error)
	DeleteByScope(ctx context.Context, patternID string, scope models.DeleteScope, lessonID string, now time.Time) (int64, error)
}

// RecurrenceService owns recurring-lesson templates and the expansion of
// their weekly slots into concrete lesson rows.
type RecurrenceService struct {
	patterns patternStore
	lessons  recurrenceLessonStore
	oracle   AvailabilityOracle
	validate *validator.Validate
	cfg      config.LessonsConfig
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewRecurrenceService builds the service.
func NewRecurrenceService(patterns patternStore, lessons recurrenceLessonStore, oracle AvailabilityOracle, cfg config.LessonsConfig, logger *zap.Logger) *RecurrenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GenerationWindowMonths <= 0 {
		cfg.GenerationWindowMonths = 2
	}
	return &RecurrenceService{
		patterns: patterns,
		lessons:  lessons,
		oracle:   oracle,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// CreatePattern stores a template and materializes its first window. The
// whole batch is availability-checked up front; one conflicting instance
// rejects everything.
func (s *RecurrenceService) CreatePattern(ctx context.Context, req dto.CreatePatternRequest) (*models.Pattern, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pattern payload")
	}

	now := s.nowFn()
	base := now
	if req.BaseDate != nil {
		base = *req.BaseDate
	}

	windowMonths := req.WindowMonths
	if windowMonths <= 0 {
		windowMonths = s.cfg.GenerationWindowMonths
	}

	slotsDoc, err := models.MarshalDoc(req.Slots)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode slots")
	}
	pattern := &models.Pattern{
		TeacherID:       req.TeacherID,
		GuardianID:      req.GuardianID,
		StudentID:       req.StudentID,
		Slots:           slotsDoc,
		DurationMinutes: req.DurationMinutes,
		Timezone:        req.Timezone,
		WindowMonths:    windowMonths,
	}

	until := base.AddDate(0, windowMonths, 0)
	instances, err := s.expand(pattern, req.Slots, base, until, nil)
	if err != nil {
		return nil, 0, err
	}
	if err := s.checkAvailability(ctx, pattern.TeacherID, instances); err != nil {
		return nil, 0, err
	}

	if err := s.patterns.Create(ctx, pattern); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create pattern")
	}
	for i := range instances {
		instances[i].PatternID = &pattern.ID
	}
	if err := s.insertBatch(ctx, instances); err != nil {
		if delErr := s.patterns.Delete(ctx, pattern.ID); delErr != nil {
			s.logger.Sugar().Errorw("orphan pattern cleanup failed", "pattern_id", pattern.ID, "error", delErr)
		}
		return nil, 0, err
	}
	if err := s.patterns.TouchGenerated(ctx, pattern.ID, until); err != nil {
		s.logger.Sugar().Warnw("failed to record generation watermark", "pattern_id", pattern.ID, "error", err)
	}

	s.logger.Sugar().Infow("pattern created",
		"pattern_id", pattern.ID,
		"teacher_id", pattern.TeacherID,
		"instances", len(instances),
	)
	return pattern, len(instances), nil
}

// EditPattern replaces the template's rules. Future untouched instances are
// dropped and regenerated from the new rules inside one transaction; past
// and already-changed instances are left alone.
func (s *RecurrenceService) EditPattern(ctx context.Context, patternID string, req dto.UpdatePatternRequest) (*models.Pattern, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pattern payload")
	}

	pattern, err := s.loadPattern(ctx, patternID)
	if err != nil {
		return nil, 0, err
	}

	slotsDoc, err := models.MarshalDoc(req.Slots)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode slots")
	}
	pattern.Slots = slotsDoc
	pattern.DurationMinutes = req.DurationMinutes
	pattern.Timezone = req.Timezone
	if req.WindowMonths > 0 {
		pattern.WindowMonths = req.WindowMonths
	}

	now := s.nowFn()
	until := now.AddDate(0, pattern.WindowMonths, 0)
	instances, err := s.expand(pattern, req.Slots, now, until, nil)
	if err != nil {
		return nil, 0, err
	}
	for i := range instances {
		instances[i].PatternID = &pattern.ID
	}
	if err := s.checkAvailability(ctx, pattern.TeacherID, instances); err != nil {
		return nil, 0, err
	}

	tx, err := s.lessons.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	if _, err := s.lessons.DeleteFutureByPatternTx(ctx, tx, pattern.ID, now); err != nil {
		tx.Rollback()
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear future instances")
	}
	if err := s.lessons.BulkCreateWithTx(ctx, tx, instances); err != nil {
		tx.Rollback()
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to regenerate instances")
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit regeneration")
	}

	generated := until
	pattern.LastGeneratedAt = &generated
	if err := s.patterns.Update(ctx, pattern); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update pattern")
	}

	s.logger.Sugar().Infow("pattern edited", "pattern_id", pattern.ID, "regenerated", len(instances))
	return pattern, len(instances), nil
}

// GetPattern returns one template.
func (s *RecurrenceService) GetPattern(ctx context.Context, patternID string) (*models.Pattern, error) {
	return s.loadPattern(ctx, patternID)
}

// DeleteLessons removes generated instances by scope. Scope "all" also
// removes the template so the sweep cannot regenerate them.
func (s *RecurrenceService) DeleteLessons(ctx context.Context, patternID string, req dto.DeleteLessonsRequest) (int64, error) {
	if !req.Scope.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "unknown delete scope")
	}
	if req.Scope == models.DeleteScopeSingle && req.LessonID == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "lesson_id is required for single-scope deletes")
	}
	if _, err := s.loadPattern(ctx, patternID); err != nil {
		return 0, err
	}

	deleted, err := s.lessons.DeleteByScope(ctx, patternID, req.Scope, req.LessonID, s.nowFn())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete instances")
	}
	if req.Scope == models.DeleteScopeAll {
		if err := s.patterns.Delete(ctx, patternID); err != nil {
			return deleted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete pattern")
		}
	}
	s.logger.Sugar().Infow("pattern instances deleted", "pattern_id", patternID, "scope", req.Scope, "count", deleted)
	return deleted, nil
}

// MaterializeDue extends the generation window for every template whose
// horizon has fallen behind. Safe to re-run: existing calendar dates are
// skipped, so a crashed sweep resumes without duplicating instances.
func (s *RecurrenceService) MaterializeDue(ctx context.Context, now time.Time) (int, error) {
	horizon := now.AddDate(0, s.cfg.GenerationWindowMonths, 0)
	due, err := s.patterns.ListDue(ctx, horizon, 200)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due patterns")
	}

	total := 0
	for i := range due {
		pattern := &due[i]
		n, err := s.materializeOne(ctx, pattern, now)
		if err != nil {
			s.logger.Sugar().Errorw("pattern materialization failed", "pattern_id", pattern.ID, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

func (s *RecurrenceService) loadPattern(ctx context.Context, id string) (*models.Pattern, error) {
	pattern, err := s.patterns.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "pattern not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pattern")
	}
	return pattern, nil
}

func (s *RecurrenceService) materializeOne(ctx context.Context, pattern *models.Pattern, now time.Time) (int, error) {
	slots, err := pattern.SlotsDoc()
	if err != nil {
		return 0, err
	}

	existing, err := s.lessons.ListStartTimesByPattern(ctx, pattern.ID)
	if err != nil {
		return 0, err
	}

	windowMonths := pattern.WindowMonths
	if windowMonths <= 0 {
		windowMonths = s.cfg.GenerationWindowMonths
	}
	until := now.AddDate(0, windowMonths, 0)

	instances, err := s.expand(pattern, slots, now, until, existing)
	if err != nil {
		return 0, err
	}
	for i := range instances {
		instances[i].PatternID = &pattern.ID
	}
	if len(instances) > 0 {
		if err := s.insertBatch(ctx, instances); err != nil {
			return 0, err
		}
	}
	if err := s.patterns.TouchGenerated(ctx, pattern.ID, until); err != nil {
		return len(instances), err
	}
	return len(instances), nil
}

// expand walks each weekly slot from the base date to the horizon and emits
// one lesson per occurrence. Slots sharing a weekday collapse to the first
// listed; occurrences whose calendar date already has an instance are
// skipped.
func (s *RecurrenceService) expand(pattern *models.Pattern, slots []models.PatternSlot, from, until time.Time, existing []time.Time) ([]models.Lesson, error) {
	seenDay := map[int]bool{}
	var out []models.Lesson

	for _, slot := range slots {
		if seenDay[slot.DayOfWeek] {
			continue
		}
		seenDay[slot.DayOfWeek] = true

		hour, minute, err := localtime.ParseClock(slot.Start)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		tzName := slot.Timezone
		if tzName == "" {
			tzName = pattern.Timezone
		}
		loc, err := localtime.LoadLocation(tzName)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown timezone "+tzName)
		}
		duration := slot.DurationMinutes
		if duration <= 0 {
			duration = pattern.DurationMinutes
		}

		occupied := map[string]bool{}
		for _, start := range existing {
			occupied[localtime.CalendarDate(start, loc)] = true
		}

		cursor := localtime.NextWeekday(from, time.Weekday(slot.DayOfWeek), hour, minute, loc)
		for cursor.Before(until) {
			if !occupied[localtime.CalendarDate(cursor, loc)] {
				out = append(out, models.Lesson{
					TeacherID:       pattern.TeacherID,
					GuardianID:      pattern.GuardianID,
					StudentID:       pattern.StudentID,
					StartsAt:        cursor.UTC(),
					DurationMinutes: duration,
					Timezone:        tzName,
				})
			}
			cursor = cursor.AddDate(0, 0, 7)
		}
	}
	return out, nil
}

// checkAvailability consults the oracle for every proposed instance. Any
// conflict or oracle failure rejects the batch; generation never proceeds on
// an unverified slot.
func (s *RecurrenceService) checkAvailability(ctx context.Context, teacherID string, instances []models.Lesson) error {
	if s.oracle == nil {
		return nil
	}
	for i := range instances {
		lesson := &instances[i]
		verdict, err := s.oracle.Validate(ctx, teacherID, lesson.StartsAt, lesson.EndsAt(), "")
		if err != nil {
			s.logger.Sugar().Warnw("availability oracle unreachable", "teacher_id", teacherID, "error", err)
			return appErrors.Wrap(err, appErrors.ErrOracleUnreachable.Code, appErrors.ErrOracleUnreachable.Status, appErrors.ErrOracleUnreachable.Message)
		}
		if !verdict.IsAvailable {
			reason := verdict.Reason
			if reason == "" {
				reason = "teacher is not available at " + lesson.StartsAt.Format(time.RFC3339)
			}
			return appErrors.Clone(appErrors.ErrSlotUnavailable, reason)
		}
	}
	return nil
}

func (s *RecurrenceService) insertBatch(ctx context.Context, instances []models.Lesson) error {
	if len(instances) == 0 {
		return nil
	}
	tx, err := s.lessons.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	if err := s.lessons.BulkCreateWithTx(ctx, tx, instances); err != nil {
		tx.Rollback()
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert instances")
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit instances")
	}
	return nil
}
