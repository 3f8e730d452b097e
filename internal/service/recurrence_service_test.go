package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/models"
	"github.com/waraqaweb/classes-api/pkg/config"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
)

type mockPatternStore struct {
	patterns  map[string]*models.Pattern
	createdID string
	touched   map[string]time.Time
	deleted   []string
	due       []models.Pattern
}

func newMockPatternStore() *mockPatternStore {
	return &mockPatternStore{
		patterns:  make(map[string]*models.Pattern),
		createdID: "p1",
		touched:   make(map[string]time.Time),
	}
}

func (m *mockPatternStore) FindByID(ctx context.Context, id string) (*models.Pattern, error) {
	if p, ok := m.patterns[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPatternStore) ListDue(ctx context.Context, horizon time.Time, limit int) ([]models.Pattern, error) {
	return m.due, nil
}

func (m *mockPatternStore) Create(ctx context.Context, pattern *models.Pattern) error {
	pattern.ID = m.createdID
	cp := *pattern
	m.patterns[pattern.ID] = &cp
	return nil
}

func (m *mockPatternStore) Update(ctx context.Context, pattern *models.Pattern) error {
	cp := *pattern
	m.patterns[pattern.ID] = &cp
	return nil
}

func (m *mockPatternStore) TouchGenerated(ctx context.Context, id string, at time.Time) error {
	m.touched[id] = at
	return nil
}

func (m *mockPatternStore) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.patterns, id)
	return nil
}

// mockRecurrenceLessons backs BeginTxx with a sqlmock connection so the
// transaction plumbing stays real.
type mockRecurrenceLessons struct {
	db         *sqlx.DB
	inserted   [][]models.Lesson
	startTimes []time.Time
	futureDel  int64
	scopeDel   int64
	lastScope  models.DeleteScope
}

func newMockRecurrenceLessons(t *testing.T) (*mockRecurrenceLessons, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return &mockRecurrenceLessons{db: sqlxdb}, mock, func() { db.Close() }
}

func (m *mockRecurrenceLessons) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}

func (m *mockRecurrenceLessons) BulkCreateWithTx(ctx context.Context, tx *sqlx.Tx, lessons []models.Lesson) error {
	m.inserted = append(m.inserted, lessons)
	return nil
}

func (m *mockRecurrenceLessons) ListStartTimesByPattern(ctx context.Context, patternID string) ([]time.Time, error) {
	return m.startTimes, nil
}

func (m *mockRecurrenceLessons) DeleteFutureByPatternTx(ctx context.Context, tx *sqlx.Tx, patternID string, from time.Time) (int64, error) {
	return m.futureDel, nil
}

func (m *mockRecurrenceLessons) DeleteByScope(ctx context.Context, patternID string, scope models.DeleteScope, lessonID string, now time.Time) (int64, error) {
	m.lastScope = scope
	return m.scopeDel, nil
}

func recurrenceTestService(t *testing.T, patterns *mockPatternStore, lessons *mockRecurrenceLessons, oracle AvailabilityOracle, now time.Time) *RecurrenceService {
	t.Helper()
	svc := NewRecurrenceService(patterns, lessons, oracle, config.LessonsConfig{GenerationWindowMonths: 1}, zap.NewNop())
	svc.nowFn = func() time.Time { return now }
	return svc
}

// March 2026: the 1st is a Sunday, so Mondays fall on 2, 9, 16, 23, 30.
var march2026 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func weeklyPatternRequest(base time.Time) dto.CreatePatternRequest {
	b := base
	return dto.CreatePatternRequest{
		TeacherID:       "t1",
		GuardianID:      "g1",
		StudentID:       "s1",
		Slots:           []models.PatternSlot{{DayOfWeek: 1, Start: "10:00"}},
		DurationMinutes: 60,
		Timezone:        "UTC",
		WindowMonths:    1,
		BaseDate:        &b,
	}
}

func TestCreatePatternGeneratesWeeklyInstances(t *testing.T) {
	lessons, mock, cleanup := newMockRecurrenceLessons(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	patterns := newMockPatternStore()
	svc := recurrenceTestService(t, patterns, lessons, availableOracle(), march2026)

	pattern, generated, err := svc.CreatePattern(context.Background(), weeklyPatternRequest(march2026))
	require.NoError(t, err)
	assert.Equal(t, "p1", pattern.ID)
	assert.Equal(t, 5, generated)

	require.Len(t, lessons.inserted, 1)
	batch := lessons.inserted[0]
	require.Len(t, batch, 5)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), batch[0].StartsAt)
	assert.Equal(t, time.Date(2026, 3, 30, 10, 0, 0, 0, time.UTC), batch[4].StartsAt)
	for _, lesson := range batch {
		require.NotNil(t, lesson.PatternID)
		assert.Equal(t, "p1", *lesson.PatternID)
		assert.Equal(t, time.Monday, lesson.StartsAt.Weekday())
	}
	assert.Equal(t, march2026.AddDate(0, 1, 0), patterns.touched["p1"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePatternCollapsesDuplicateWeekdays(t *testing.T) {
	lessons, mock, cleanup := newMockRecurrenceLessons(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	patterns := newMockPatternStore()
	svc := recurrenceTestService(t, patterns, lessons, availableOracle(), march2026)

	req := weeklyPatternRequest(march2026)
	req.Slots = []models.PatternSlot{
		{DayOfWeek: 1, Start: "10:00"},
		{DayOfWeek: 1, Start: "16:00"},
		{DayOfWeek: 3, Start: "18:30"},
	}
	_, generated, err := svc.CreatePattern(context.Background(), req)
	require.NoError(t, err)
	// 5 Mondays plus 4 Wednesdays; the second Monday slot is ignored.
	assert.Equal(t, 9, generated)
}

func TestCreatePatternRejectsUnavailableSlot(t *testing.T) {
	lessons, _, cleanup := newMockRecurrenceLessons(t)
	defer cleanup()
	patterns := newMockPatternStore()
	oracle := &stubOracle{verdict: Availability{IsAvailable: false, Reason: "teacher busy"}}
	svc := recurrenceTestService(t, patterns, lessons, oracle, march2026)

	_, _, err := svc.CreatePattern(context.Background(), weeklyPatternRequest(march2026))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
	assert.Empty(t, patterns.patterns, "no template may be stored for a rejected batch")
	assert.Empty(t, lessons.inserted)
}

func TestCreatePatternOracleOutage(t *testing.T) {
	lessons, _, cleanup := newMockRecurrenceLessons(t)
	defer cleanup()
	oracle := &stubOracle{err: context.DeadlineExceeded}
	svc := recurrenceTestService(t, newMockPatternStore(), lessons, oracle, march2026)

	_, _, err := svc.CreatePattern(context.Background(), weeklyPatternRequest(march2026))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOracleUnreachable.Code, appErrors.FromError(err).Code)
}

func TestMaterializeDueSkipsExistingDates(t *testing.T) {
	lessons, mock, cleanup := newMockRecurrenceLessons(t)
	defer cleanup()
	mock.ExpectBegin()
	mock.ExpectCommit()

	slots, err := models.MarshalDoc([]models.PatternSlot{{DayOfWeek: 1, Start: "10:00"}})
	require.NoError(t, err)
	pattern := models.Pattern{
		ID:              "p1",
		TeacherID:       "t1",
		GuardianID:      "g1",
		StudentID:       "s1",
		Slots:           slots,
		DurationMinutes: 60,
		Timezone:        "UTC",
		WindowMonths:    1,
	}
	patterns := newMockPatternStore()
	patterns.due = []models.Pattern{pattern}

	// The first two Mondays already exist from the previous window.
	lessons.startTimes = []time.Time{
		time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	}

	svc := recurrenceTestService(t, patterns, lessons, nil, march2026)
	total, err := svc.MaterializeDue(context.Background(), march2026)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	require.Len(t, lessons.inserted, 1)
	assert.Equal(t, time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC), lessons.inserted[0][0].StartsAt)
	assert.Equal(t, march2026.AddDate(0, 1, 0), patterns.touched["p1"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterializeDueIsIdempotent(t *testing.T) {
	lessons, _, cleanup := newMockRecurrenceLessons(t)
	defer cleanup()

	slots, err := models.MarshalDoc([]models.PatternSlot{{DayOfWeek: 1, Start: "10:00"}})
	require.NoError(t, err)
	patterns := newMockPatternStore()
	patterns.due = []models.Pattern{{
		ID: "p1", TeacherID: "t1", GuardianID: "g1", StudentID: "s1",
		Slots: slots, DurationMinutes: 60, Timezone: "UTC", WindowMonths: 1,
	}}

	// Every Monday in the window already has an instance.
	for _, day := range []int{2, 9, 16, 23, 30} {
		lessons.startTimes = append(lessons.startTimes, time.Date(2026, 3, day, 10, 0, 0, 0, time.UTC))
	}

	svc := recurrenceTestService(t, patterns, lessons, nil, march2026)
	total, err := svc.MaterializeDue(context.Background(), march2026)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, lessons.inserted, "no transaction for an empty batch")
}

func TestDeleteLessonsScopeAllRemovesTemplate(t *testing.T) {
	lessons, _, cleanup := newMockRecurrenceLessons(t)
	defer cleanup()
	lessons.scopeDel = 7
	patterns := newMockPatternStore()
	patterns.patterns["p1"] = &models.Pattern{ID: "p1"}

	svc := recurrenceTestService(t, patterns, lessons, nil, march2026)
	deleted, err := svc.DeleteLessons(context.Background(), "p1", dto.DeleteLessonsRequest{Scope: models.DeleteScopeAll})
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.Equal(t, []string{"p1"}, patterns.deleted)
}

func TestDeleteLessonsValidation(t *testing.T) {
	lessons, _, cleanup := newMockRecurrenceLessons(t)
	defer cleanup()
	patterns := newMockPatternStore()
	patterns.patterns["p1"] = &models.Pattern{ID: "p1"}
	svc := recurrenceTestService(t, patterns, lessons, nil, march2026)

	_, err := svc.DeleteLessons(context.Background(), "p1", dto.DeleteLessonsRequest{Scope: "everything"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.DeleteLessons(context.Background(), "p1", dto.DeleteLessonsRequest{Scope: models.DeleteScopeSingle})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
