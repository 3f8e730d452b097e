package service

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/models"
	"github.com/waraqaweb/classes-api/pkg/config"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
	"github.com/waraqaweb/classes-api/pkg/localtime"
)

// Denial reasons surfaced in the policy reasons map. Kept stable because
// clients key UI copy off them.
const (
	reasonPastOrTerminal = "lesson already started or is in a terminal state"
	reasonInsideCutoff   = "inside the pre-class cutoff window"
	reasonQuotaExceeded  = "monthly change quota exhausted"
	reasonRequestPending = "a change request is already pending"
	reasonRoleRestricted = "role may not perform this action"
)

// PolicyRules are the tunable knobs of the change-policy engine.
type PolicyRules struct {
	// QuotaRatio is the fraction of a month's classes an actor may change.
	QuotaRatio float64
	// GuardianCutoff is the pre-class window in which guardians may no
	// longer cancel or request a reschedule.
	GuardianCutoff time.Duration
}

// MonthlyQuota derives the per-action quota from a month's class count.
// Months with no classes yield a zero quota.
func MonthlyQuota(totalClasses int, ratio float64) int {
	if totalClasses <= 0 {
		return 0
	}
	quota := int(math.Floor(float64(totalClasses) * ratio))
	if quota < 1 {
		quota = 1
	}
	return quota
}

func quotaAllows(usage models.QuotaUsage, totalClasses int) bool {
	if totalClasses <= 0 {
		return usage.Used == 0
	}
	return usage.Used < usage.Quota
}

// EvaluatePolicy answers "may this actor change this lesson right now". It
// is pure: all inputs are explicit, nothing is loaded, and the same inputs
// always yield the same answer. The result is advisory; mutation paths
// re-guard state preconditions at write time.
func EvaluatePolicy(lesson *models.Lesson, stats models.MonthlyChangeStats, role models.UserRole, now time.Time, rules PolicyRules) models.ChangePolicy {
	policy := models.ChangePolicy{
		Reasons:     map[models.PolicyAction]string{},
		Stats:       stats,
		Quotas:      map[models.PolicyAction]models.QuotaUsage{},
		EvaluatedAt: now,
	}

	quota := MonthlyQuota(stats.TotalClasses, rules.QuotaRatio)
	switch role {
	case models.RoleGuardian, models.RoleStudent:
		policy.Quotas[models.ActionCancel] = models.QuotaUsage{Quota: quota, Used: stats.GuardianCancels}
	case models.RoleTeacher:
		policy.Quotas[models.ActionCancel] = models.QuotaUsage{Quota: quota, Used: stats.TeacherCancels}
		policy.Quotas[models.ActionReschedule] = models.QuotaUsage{Quota: quota, Used: stats.TeacherReschedApprov}
	}

	if lesson.Status.Terminal() || !now.Before(lesson.StartsAt) {
		policy.Reasons[models.ActionCancel] = reasonPastOrTerminal
		policy.Reasons[models.ActionReschedule] = reasonPastOrTerminal
		return policy
	}
	if lesson.Status != models.LessonScheduled {
		policy.Reasons[models.ActionCancel] = reasonPastOrTerminal
		policy.Reasons[models.ActionReschedule] = reasonPastOrTerminal
		return policy
	}

	pending := lesson.HasPendingChangeRequest()
	insideCutoff := lesson.StartsAt.Sub(now) <= rules.GuardianCutoff

	switch role {
	case models.RoleAdmin:
		policy.CanCancel = true
		if pending {
			policy.Reasons[models.ActionReschedule] = reasonRequestPending
		} else {
			policy.CanReschedule = true
		}

	case models.RoleTeacher:
		if quotaAllows(policy.Quotas[models.ActionCancel], stats.TotalClasses) {
			policy.CanCancel = true
		} else {
			policy.Reasons[models.ActionCancel] = reasonQuotaExceeded
		}
		switch {
		case pending:
			policy.Reasons[models.ActionReschedule] = reasonRequestPending
		case !quotaAllows(policy.Quotas[models.ActionReschedule], stats.TotalClasses):
			policy.Reasons[models.ActionReschedule] = reasonQuotaExceeded
		default:
			policy.CanReschedule = true
		}

	case models.RoleGuardian, models.RoleStudent:
		switch {
		case insideCutoff:
			policy.Reasons[models.ActionCancel] = reasonInsideCutoff
		case !quotaAllows(policy.Quotas[models.ActionCancel], stats.TotalClasses):
			policy.Reasons[models.ActionCancel] = reasonQuotaExceeded
		default:
			policy.CanCancel = true
		}
		switch {
		case insideCutoff:
			policy.Reasons[models.ActionReschedule] = reasonInsideCutoff
		case pending:
			policy.Reasons[models.ActionReschedule] = reasonRequestPending
		default:
			policy.CanReschedule = true
		}

	default:
		policy.Reasons[models.ActionCancel] = reasonRoleRestricted
		policy.Reasons[models.ActionReschedule] = reasonRoleRestricted
	}

	return policy
}

// denialError maps a policy refusal to its error sentinel so clients can
// distinguish an exhausted quota from an ordinary state conflict.
func denialError(policy models.ChangePolicy, action models.PolicyAction) error {
	reason := policy.Reasons[action]
	switch reason {
	case reasonQuotaExceeded:
		return appErrors.Clone(appErrors.ErrQuotaExceeded, reason)
	case reasonRequestPending:
		return appErrors.Clone(appErrors.ErrRequestPending, reason)
	default:
		return appErrors.Clone(appErrors.ErrConflict, reason)
	}
}

type policyLessonStore interface {
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	MonthlyStats(ctx context.Context, teacherID, guardianID, studentID string, monthStart, monthEnd time.Time) (models.MonthlyChangeStats, error)
}

// StatsCache stores monthly change statistics between evaluations.
type StatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// PolicyService wraps the pure engine with lesson loading and a short-TTL
// statistics cache.
type PolicyService struct {
	lessons policyLessonStore
	cache   StatsCache
	rules   PolicyRules
	ttl     time.Duration
	logger  *zap.Logger
}

// NewPolicyService builds the policy service. cache may be nil, in which
// case statistics are always recomputed.
func NewPolicyService(lessons policyLessonStore, cache StatsCache, cfg config.LessonsConfig, logger *zap.Logger) *PolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyService{
		lessons: lessons,
		cache:   cache,
		rules: PolicyRules{
			QuotaRatio:     cfg.QuotaRatio,
			GuardianCutoff: cfg.GuardianCutoff,
		},
		ttl:    cfg.StatsCacheTTL,
		logger: logger,
	}
}

// Rules exposes the configured thresholds.
func (s *PolicyService) Rules() PolicyRules { return s.rules }

// Evaluate loads what the pure engine needs and runs it for a lesson the
// caller has already fetched.
func (s *PolicyService) Evaluate(ctx context.Context, lesson *models.Lesson, role models.UserRole, now time.Time) (models.ChangePolicy, error) {
	stats, err := s.Stats(ctx, lesson)
	if err != nil {
		return models.ChangePolicy{}, err
	}
	return EvaluatePolicy(lesson, stats, role, now, s.rules), nil
}

// EvaluateByID resolves the lesson first, then evaluates.
func (s *PolicyService) EvaluateByID(ctx context.Context, lessonID string, role models.UserRole, now time.Time) (*models.Lesson, models.ChangePolicy, error) {
	lesson, err := s.lessons.FindByID(ctx, lessonID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ChangePolicy{}, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, models.ChangePolicy{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	policy, err := s.Evaluate(ctx, lesson, role, now)
	if err != nil {
		return nil, models.ChangePolicy{}, err
	}
	return lesson, policy, nil
}

// Stats returns the monthly change statistics for the lesson's participant
// triple, scoped to the calendar month containing the lesson's start in the
// lesson's own timezone.
func (s *PolicyService) Stats(ctx context.Context, lesson *models.Lesson) (models.MonthlyChangeStats, error) {
	loc, err := localtime.LoadLocation(lesson.Timezone)
	if err != nil {
		loc = time.UTC
	}
	monthStart, monthEnd := localtime.MonthBounds(lesson.StartsAt, loc)

	key := statsCacheKey(lesson.TeacherID, lesson.GuardianID, lesson.StudentID, monthStart)
	if s.cache != nil {
		var cached models.MonthlyChangeStats
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if err != appErrors.ErrCacheMiss {
			s.logger.Sugar().Warnw("stats cache read failed", "key", key, "error", err)
		}
	}

	stats, err := s.lessons.MonthlyStats(ctx, lesson.TeacherID, lesson.GuardianID, lesson.StudentID, monthStart, monthEnd)
	if err != nil {
		return models.MonthlyChangeStats{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute change statistics")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.ttl); err != nil {
			s.logger.Sugar().Warnw("stats cache write failed", "key", key, "error", err)
		}
	}
	return stats, nil
}

// InvalidateStats drops every cached month for the lesson's participant
// triple. Mutation paths call this after any counted change.
func (s *PolicyService) InvalidateStats(ctx context.Context, lesson *models.Lesson) {
	if s.cache == nil {
		return
	}
	pattern := fmt.Sprintf("change-stats:%s:%s:%s:*", lesson.TeacherID, lesson.GuardianID, lesson.StudentID)
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Sugar().Warnw("stats cache invalidation failed", "pattern", pattern, "error", err)
	}
}

func statsCacheKey(teacherID, guardianID, studentID string, monthStart time.Time) string {
	return fmt.Sprintf("change-stats:%s:%s:%s:%s", teacherID, guardianID, studentID, monthStart.Format("2006-01"))
}
