package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waraqaweb/classes-api/internal/models"
)

func patternColumnNames() []string {
	return []string{
		"id", "teacher_id", "guardian_id", "student_id", "slots",
		"duration_minutes", "timezone", "window_months", "last_generated_at",
		"created_at", "updated_at",
	}
}

func TestPatternFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(patternColumnNames()).
		AddRow("p1", "t1", "g1", "s1", []byte(`[{"day_of_week":1,"start":"10:00"}]`), 60, "UTC", 3, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+patternColumns+` FROM patterns WHERE id = $1`)).
		WithArgs("p1").
		WillReturnRows(rows)

	pattern, err := repo.FindByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", pattern.ID)
	assert.Equal(t, 3, pattern.WindowMonths)
	slots, err := pattern.SlotsDoc()
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 1, slots[0].DayOfWeek)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternListDue(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	now := time.Now().UTC()
	horizon := now.AddDate(0, -1, 0)
	rows := sqlmock.NewRows(patternColumnNames()).
		AddRow("p1", "t1", "g1", "s1", []byte(`[]`), 60, "UTC", 3, nil, now, now).
		AddRow("p2", "t2", "g2", "s2", []byte(`[]`), 45, "Africa/Cairo", 1, horizon, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+patternColumns+` FROM patterns WHERE last_generated_at IS NULL OR last_generated_at < $1 ORDER BY last_generated_at ASC NULLS FIRST LIMIT 100`)).
		WithArgs(now).
		WillReturnRows(rows)

	patterns, err := repo.ListDue(context.Background(), now, 0)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Nil(t, patterns[0].LastGeneratedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternCreateDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectExec("INSERT INTO patterns").WillReturnResult(sqlmock.NewResult(1, 1))

	pattern := &models.Pattern{
		TeacherID:       "t1",
		GuardianID:      "g1",
		StudentID:       "s1",
		Slots:           []byte(`[]`),
		DurationMinutes: 60,
		Timezone:        "UTC",
		WindowMonths:    3,
	}
	require.NoError(t, repo.Create(context.Background(), pattern))
	assert.NotEmpty(t, pattern.ID)
	assert.False(t, pattern.CreatedAt.IsZero())
	assert.Equal(t, pattern.CreatedAt, pattern.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternTouchGenerated(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE patterns SET last_generated_at = $1, updated_at = $2 WHERE id = $3`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.TouchGenerated(context.Background(), "p1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPatternRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM patterns WHERE id = $1`)).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Delete(context.Background(), "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
