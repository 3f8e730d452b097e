package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/models"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
)

type mockLessonStore struct {
	lessons    map[string]*models.Lesson
	lastFilter models.LessonFilter
	holdFrom   models.LessonStatus
	holdTo     models.LessonStatus
	holdCount  int64
}

func newMockLessonStore(lessons ...*models.Lesson) *mockLessonStore {
	m := &mockLessonStore{lessons: make(map[string]*models.Lesson)}
	for _, l := range lessons {
		cp := *l
		m.lessons[l.ID] = &cp
	}
	return m
}

func (m *mockLessonStore) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	if lesson, ok := m.lessons[id]; ok {
		cp := *lesson
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockLessonStore) List(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, int, error) {
	m.lastFilter = filter
	var out []models.Lesson
	for _, lesson := range m.lessons {
		out = append(out, *lesson)
	}
	return out, len(out), nil
}

func (m *mockLessonStore) Create(ctx context.Context, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = "generated"
	}
	lesson.Status = models.LessonScheduled
	cp := *lesson
	m.lessons[lesson.ID] = &cp
	return nil
}

func (m *mockLessonStore) UpdateStatusGuarded(ctx context.Context, id string, from, to models.LessonStatus, cancelReason *string) error {
	lesson, ok := m.lessons[id]
	if !ok || lesson.Status != from {
		return sql.ErrNoRows
	}
	lesson.Status = to
	lesson.CancelReason = cancelReason
	return nil
}

func (m *mockLessonStore) UpdateHoldRange(ctx context.Context, teacherID, guardianID string, from, to time.Time, fromStatus, toStatus models.LessonStatus) (int64, error) {
	m.holdFrom = fromStatus
	m.holdTo = toStatus
	return m.holdCount, nil
}

func newLessonService(store *mockLessonStore, policy *stubPolicy, oracle *stubOracle, now time.Time) (*LessonService, *recordingSink, *stubInvoices) {
	sink := &recordingSink{}
	invoices := &stubInvoices{}
	svc := NewLessonService(store, policy, oracle, &stubAudit{}, sink, invoices, zap.NewNop())
	svc.nowFn = func() time.Time { return now }
	return svc, sink, invoices
}

func TestLessonCreate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockLessonStore()
	oracle := availableOracle()
	svc, sink, _ := newLessonService(store, allowAllPolicy(), oracle, now)

	lesson, err := svc.Create(context.Background(), dto.CreateLessonRequest{
		TeacherID:       "t1",
		GuardianID:      "g1",
		StudentID:       "s1",
		StartsAt:        now.Add(48 * time.Hour),
		DurationMinutes: 60,
		Timezone:        "Africa/Cairo",
	}, claimsFor(models.RoleAdmin, "a1"))
	require.NoError(t, err)
	assert.Equal(t, models.LessonScheduled, lesson.Status)
	assert.Equal(t, 1, oracle.calls)
	assert.Contains(t, sink.events, EventLessonCreated)
}

func TestLessonCreateRejectsUnknownTimezone(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newLessonService(newMockLessonStore(), allowAllPolicy(), availableOracle(), now)

	_, err := svc.Create(context.Background(), dto.CreateLessonRequest{
		TeacherID:       "t1",
		GuardianID:      "g1",
		StudentID:       "s1",
		StartsAt:        now.Add(48 * time.Hour),
		DurationMinutes: 60,
		Timezone:        "Mars/Olympus",
	}, claimsFor(models.RoleAdmin, "a1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLessonCreateSlotUnavailable(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	oracle := &stubOracle{verdict: Availability{IsAvailable: false, Reason: "overlaps another booking"}}
	svc, _, _ := newLessonService(newMockLessonStore(), allowAllPolicy(), oracle, now)

	_, err := svc.Create(context.Background(), dto.CreateLessonRequest{
		TeacherID:       "t1",
		GuardianID:      "g1",
		StudentID:       "s1",
		StartsAt:        now.Add(48 * time.Hour),
		DurationMinutes: 60,
		Timezone:        "UTC",
	}, claimsFor(models.RoleAdmin, "a1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
}

func TestLessonCancel(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockLessonStore(scheduledLesson(now.Add(48 * time.Hour)))
	policy := allowAllPolicy()
	svc, sink, invoices := newLessonService(store, policy, availableOracle(), now)

	updated, err := svc.Cancel(context.Background(), "l1", dto.CancelLessonRequest{Reason: "family emergency"}, claimsFor(models.RoleGuardian, "g1"))
	require.NoError(t, err)
	assert.Equal(t, models.LessonCancelledByGuardian, updated.Status)
	require.NotNil(t, updated.CancelReason)
	assert.Equal(t, "family emergency", *updated.CancelReason)
	assert.Equal(t, 1, policy.invalidated)
	assert.Contains(t, sink.events, EventLessonCancelled)
	assert.Equal(t, []string{"l1"}, invoices.recalculated)
}

func TestLessonCancelRoleStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		actor *models.JWTClaims
		want  models.LessonStatus
	}{
		{claimsFor(models.RoleTeacher, "t1"), models.LessonCancelledByTeacher},
		{claimsFor(models.RoleStudent, "s1"), models.LessonCancelledByGuardian},
		{claimsFor(models.RoleAdmin, "a1"), models.LessonCancelledByAdmin},
	}
	for _, tc := range cases {
		store := newMockLessonStore(scheduledLesson(now.Add(48 * time.Hour)))
		svc, _, _ := newLessonService(store, allowAllPolicy(), availableOracle(), now)
		updated, err := svc.Cancel(context.Background(), "l1", dto.CancelLessonRequest{Reason: "x"}, tc.actor)
		require.NoError(t, err)
		assert.Equal(t, tc.want, updated.Status)
	}
}

func TestLessonCancelDeniedByPolicy(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockLessonStore(scheduledLesson(now.Add(2 * time.Hour)))
	policy := &stubPolicy{policy: models.ChangePolicy{
		Reasons: map[models.PolicyAction]string{models.ActionCancel: "inside the pre-class cutoff window"},
	}}
	svc, _, _ := newLessonService(store, policy, availableOracle(), now)

	_, err := svc.Cancel(context.Background(), "l1", dto.CancelLessonRequest{Reason: "x"}, claimsFor(models.RoleGuardian, "g1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Equal(t, "inside the pre-class cutoff window", appErr.Message)
}

func TestLessonCancelQuotaDenied(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockLessonStore(scheduledLesson(now.Add(48 * time.Hour)))
	policy := &stubPolicy{policy: models.ChangePolicy{
		Reasons: map[models.PolicyAction]string{models.ActionCancel: "monthly change quota exhausted"},
	}}
	svc, _, _ := newLessonService(store, policy, availableOracle(), now)

	_, err := svc.Cancel(context.Background(), "l1", dto.CancelLessonRequest{Reason: "x"}, claimsFor(models.RoleGuardian, "g1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErrors.FromError(err).Code)
}

func TestLessonCancelRace(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lesson := scheduledLesson(now.Add(48 * time.Hour))
	store := newMockLessonStore(lesson)
	svc, _, _ := newLessonService(store, allowAllPolicy(), availableOracle(), now)

	// Another writer wins between the policy check and the guarded update.
	store.lessons["l1"].Status = models.LessonAttended
	_, err := svc.Cancel(context.Background(), "l1", dto.CancelLessonRequest{Reason: "x"}, claimsFor(models.RoleGuardian, "g1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestLessonListPinsNonAdmins(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockLessonStore(scheduledLesson(now.Add(48 * time.Hour)))
	svc, _, _ := newLessonService(store, allowAllPolicy(), availableOracle(), now)

	_, _, err := svc.List(context.Background(), models.LessonFilter{TeacherID: "someone-else"}, claimsFor(models.RoleTeacher, "t1"))
	require.NoError(t, err)
	assert.Equal(t, "t1", store.lastFilter.TeacherID)

	_, _, err = svc.List(context.Background(), models.LessonFilter{}, claimsFor(models.RoleGuardian, "g1"))
	require.NoError(t, err)
	assert.Equal(t, "g1", store.lastFilter.GuardianID)

	_, _, err = svc.List(context.Background(), models.LessonFilter{TeacherID: "t9"}, claimsFor(models.RoleAdmin, "a1"))
	require.NoError(t, err)
	assert.Equal(t, "t9", store.lastFilter.TeacherID)
}

func TestLessonGetRestrictedToParticipants(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockLessonStore(scheduledLesson(now.Add(48 * time.Hour)))
	svc, _, _ := newLessonService(store, allowAllPolicy(), availableOracle(), now)

	_, err := svc.Get(context.Background(), "l1", claimsFor(models.RoleStudent, "s1"))
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "l1", claimsFor(models.RoleTeacher, "other"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestLessonHoldAndRelease(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockLessonStore()
	store.holdCount = 4
	svc, _, _ := newLessonService(store, allowAllPolicy(), availableOracle(), now)

	req := dto.HoldRequest{TeacherID: "t1", From: now, To: now.Add(7 * 24 * time.Hour)}
	affected, err := svc.Hold(context.Background(), req, claimsFor(models.RoleAdmin, "a1"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), affected)
	assert.Equal(t, models.LessonScheduled, store.holdFrom)
	assert.Equal(t, models.LessonOnHold, store.holdTo)

	req.Release = true
	_, err = svc.Hold(context.Background(), req, claimsFor(models.RoleAdmin, "a1"))
	require.NoError(t, err)
	assert.Equal(t, models.LessonOnHold, store.holdFrom)
	assert.Equal(t, models.LessonScheduled, store.holdTo)
}

func TestLessonHoldRequiresScope(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newLessonService(newMockLessonStore(), allowAllPolicy(), availableOracle(), now)

	_, err := svc.Hold(context.Background(), dto.HoldRequest{From: now, To: now.Add(24 * time.Hour)}, claimsFor(models.RoleAdmin, "a1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
