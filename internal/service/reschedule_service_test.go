package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/models"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
)

type mockRescheduleStore struct {
	lessons map[string]*models.Lesson
}

func newMockRescheduleStore(lessons ...*models.Lesson) *mockRescheduleStore {
	m := &mockRescheduleStore{lessons: make(map[string]*models.Lesson)}
	for _, l := range lessons {
		cp := *l
		m.lessons[l.ID] = &cp
	}
	return m
}

func (m *mockRescheduleStore) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	if lesson, ok := m.lessons[id]; ok {
		cp := *lesson
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRescheduleStore) AttachChangeRequest(ctx context.Context, id string, doc types.JSONText) error {
	lesson, ok := m.lessons[id]
	if !ok || lesson.Status != models.LessonScheduled || lesson.HasPendingChangeRequest() {
		return sql.ErrNoRows
	}
	lesson.ChangeRequest = types.NullJSONText{Valid: true, JSONText: doc}
	return nil
}

func (m *mockRescheduleStore) ResolveChangeRequest(ctx context.Context, id string, doc types.JSONText) error {
	lesson, ok := m.lessons[id]
	if !ok || !lesson.HasPendingChangeRequest() {
		return sql.ErrNoRows
	}
	lesson.ChangeRequest = types.NullJSONText{Valid: true, JSONText: doc}
	return nil
}

func (m *mockRescheduleStore) UpdateScheduleGuarded(ctx context.Context, id string, start time.Time, durationMinutes int, timezone string, history types.JSONText) error {
	lesson, ok := m.lessons[id]
	if !ok || lesson.Status != models.LessonScheduled {
		return sql.ErrNoRows
	}
	lesson.StartsAt = start
	lesson.DurationMinutes = durationMinutes
	lesson.Timezone = timezone
	lesson.RescheduleHistory = history
	return nil
}

func newRescheduleService(store *mockRescheduleStore, policy *stubPolicy, oracle *stubOracle, now time.Time) (*RescheduleService, *recordingSink, *stubInvoices, *stubAudit) {
	sink := &recordingSink{}
	invoices := &stubInvoices{}
	audit := &stubAudit{}
	svc := NewRescheduleService(store, policy, oracle, audit, sink, invoices, zap.NewNop())
	svc.nowFn = func() time.Time { return now }
	return svc, sink, invoices, audit
}

func TestRescheduleRequestRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lesson := scheduledLesson(now.Add(72 * time.Hour))
	store := newMockRescheduleStore(lesson)
	oracle := availableOracle()
	svc, sink, _, audit := newRescheduleService(store, allowAllPolicy(), oracle, now)

	proposed := now.Add(96 * time.Hour)
	request, err := svc.Request(context.Background(), "l1", dto.RescheduleProposal{
		ProposedStart: proposed,
		Note:          "family trip",
	}, claimsFor(models.RoleGuardian, "g1"))
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestPending, request.Status)
	assert.Equal(t, proposed, request.ProposedStart)
	assert.Equal(t, lesson.StartsAt, request.OriginalStart)
	assert.Equal(t, lesson.DurationMinutes, request.ProposedDuration)
	assert.Equal(t, 1, oracle.calls)
	assert.Contains(t, sink.events, EventChangeRequested)
	assert.Contains(t, audit.actions, models.AuditActionChangeRequest)

	stored, err := store.FindByID(context.Background(), "l1")
	require.NoError(t, err)
	assert.True(t, stored.HasPendingChangeRequest())
}

func TestRescheduleRequestSecondPendingConflicts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lesson := scheduledLesson(now.Add(72 * time.Hour))
	store := newMockRescheduleStore(lesson)
	svc, _, _, _ := newRescheduleService(store, allowAllPolicy(), availableOracle(), now)

	proposal := dto.RescheduleProposal{ProposedStart: now.Add(96 * time.Hour)}
	_, err := svc.Request(context.Background(), "l1", proposal, claimsFor(models.RoleGuardian, "g1"))
	require.NoError(t, err)

	// The policy stub still says yes; the guarded write is what refuses.
	_, err = svc.Request(context.Background(), "l1", proposal, claimsFor(models.RoleGuardian, "g1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRequestPending.Code, appErrors.FromError(err).Code)
}

func TestRescheduleRequestDeniedByPolicy(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lesson := scheduledLesson(now.Add(2 * time.Hour))
	store := newMockRescheduleStore(lesson)
	policy := &stubPolicy{policy: models.ChangePolicy{
		Reasons: map[models.PolicyAction]string{models.ActionReschedule: "inside the pre-class cutoff window"},
	}}
	svc, _, _, _ := newRescheduleService(store, policy, availableOracle(), now)

	_, err := svc.Request(context.Background(), "l1", dto.RescheduleProposal{ProposedStart: now.Add(24 * time.Hour)}, claimsFor(models.RoleGuardian, "g1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRescheduleRequestNonParticipant(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockRescheduleStore(scheduledLesson(now.Add(72 * time.Hour)))
	svc, _, _, _ := newRescheduleService(store, allowAllPolicy(), availableOracle(), now)

	_, err := svc.Request(context.Background(), "l1", dto.RescheduleProposal{ProposedStart: now.Add(24 * time.Hour)}, claimsFor(models.RoleGuardian, "someone-else"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRescheduleRequestSlotUnavailable(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockRescheduleStore(scheduledLesson(now.Add(72 * time.Hour)))
	oracle := &stubOracle{verdict: Availability{IsAvailable: false, Reason: "teacher booked elsewhere"}}
	svc, _, _, _ := newRescheduleService(store, allowAllPolicy(), oracle, now)

	_, err := svc.Request(context.Background(), "l1", dto.RescheduleProposal{ProposedStart: now.Add(24 * time.Hour)}, claimsFor(models.RoleGuardian, "g1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
}

func TestRescheduleTeacherSkipsOracle(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockRescheduleStore(scheduledLesson(now.Add(72 * time.Hour)))
	oracle := &stubOracle{verdict: Availability{IsAvailable: false}}
	svc, _, _, _ := newRescheduleService(store, allowAllPolicy(), oracle, now)

	_, err := svc.Request(context.Background(), "l1", dto.RescheduleProposal{ProposedStart: now.Add(24 * time.Hour)}, claimsFor(models.RoleTeacher, "t1"))
	require.NoError(t, err)
	assert.Equal(t, 0, oracle.calls)
}

func TestDecideApproveAppliesSchedule(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lesson := scheduledLesson(now.Add(72 * time.Hour))
	store := newMockRescheduleStore(lesson)
	policy := allowAllPolicy()
	svc, sink, invoices, _ := newRescheduleService(store, policy, availableOracle(), now)

	proposed := now.Add(96 * time.Hour)
	_, err := svc.Request(context.Background(), "l1", dto.RescheduleProposal{ProposedStart: proposed}, claimsFor(models.RoleGuardian, "g1"))
	require.NoError(t, err)

	updated, err := svc.Decide(context.Background(), "l1", dto.RescheduleDecision{Approve: true, Note: "ok"}, claimsFor(models.RoleAdmin, "a1"))
	require.NoError(t, err)
	assert.Equal(t, proposed, updated.StartsAt)

	request, err := updated.ChangeRequestDoc()
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestApproved, request.Status)
	assert.Equal(t, "a1", *request.DecidedBy)

	history, err := updated.HistoryDoc()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, lesson.StartsAt, history[0].From)
	assert.Equal(t, proposed, history[0].To)

	assert.Contains(t, sink.events, EventChangeApproved)
	assert.Equal(t, []string{"l1"}, invoices.recalculated)
	assert.Equal(t, 1, policy.invalidated)
}

func TestDecideRejectKeepsSchedule(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lesson := scheduledLesson(now.Add(72 * time.Hour))
	store := newMockRescheduleStore(lesson)
	svc, sink, invoices, _ := newRescheduleService(store, allowAllPolicy(), availableOracle(), now)

	_, err := svc.Request(context.Background(), "l1", dto.RescheduleProposal{ProposedStart: now.Add(96 * time.Hour)}, claimsFor(models.RoleGuardian, "g1"))
	require.NoError(t, err)

	updated, err := svc.Decide(context.Background(), "l1", dto.RescheduleDecision{Approve: false, Note: "no slot"}, claimsFor(models.RoleAdmin, "a1"))
	require.NoError(t, err)
	assert.Equal(t, lesson.StartsAt, updated.StartsAt)

	request, err := updated.ChangeRequestDoc()
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestRejected, request.Status)
	assert.Equal(t, "no slot", request.DecisionNote)

	assert.Contains(t, sink.events, EventChangeRejected)
	assert.Empty(t, invoices.recalculated)
}

func TestDecideWithoutPendingRequest(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockRescheduleStore(scheduledLesson(now.Add(72 * time.Hour)))
	svc, _, _, _ := newRescheduleService(store, allowAllPolicy(), availableOracle(), now)

	_, err := svc.Decide(context.Background(), "l1", dto.RescheduleDecision{Approve: true}, claimsFor(models.RoleAdmin, "a1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDirectRescheduleGuardsState(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lesson := scheduledLesson(now.Add(72 * time.Hour))
	lesson.Status = models.LessonCancelledByAdmin
	store := newMockRescheduleStore(lesson)
	svc, _, _, _ := newRescheduleService(store, allowAllPolicy(), availableOracle(), now)

	_, err := svc.DirectReschedule(context.Background(), "l1", dto.DirectReschedule{NewStart: now.Add(96 * time.Hour)}, claimsFor(models.RoleAdmin, "a1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrLessonTerminal.Code, appErrors.FromError(err).Code)
}

func TestDirectRescheduleMovesLesson(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lesson := scheduledLesson(now.Add(72 * time.Hour))
	store := newMockRescheduleStore(lesson)
	svc, sink, _, _ := newRescheduleService(store, allowAllPolicy(), availableOracle(), now)

	target := now.Add(120 * time.Hour)
	updated, err := svc.DirectReschedule(context.Background(), "l1", dto.DirectReschedule{NewStart: target, DurationMinutes: 90}, claimsFor(models.RoleAdmin, "a1"))
	require.NoError(t, err)
	assert.Equal(t, target, updated.StartsAt)
	assert.Equal(t, 90, updated.DurationMinutes)
	assert.Contains(t, sink.events, EventLessonRescheduled)
}
