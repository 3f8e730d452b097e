package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/waraqaweb/classes-api/internal/models"
)

const patternColumns = `id, teacher_id, guardian_id, student_id, slots, duration_minutes, timezone, window_months, last_generated_at, created_at, updated_at`

// PatternRepository provides persistence for recurring-lesson templates.
type PatternRepository struct {
	db *sqlx.DB
}

// NewPatternRepository creates a new pattern repository.
func NewPatternRepository(db *sqlx.DB) *PatternRepository {
	return &PatternRepository{db: db}
}

// FindByID loads a pattern by id.
func (r *PatternRepository) FindByID(ctx context.Context, id string) (*models.Pattern, error) {
	query := fmt.Sprintf(`SELECT %s FROM patterns WHERE id = $1`, patternColumns)
	var pattern models.Pattern
	if err := r.db.GetContext(ctx, &pattern, query, id); err != nil {
		return nil, err
	}
	return &pattern, nil
}

// ListDue returns patterns whose generation window has fallen behind the
// given horizon, i.e. candidates for the materialization sweep.
func (r *PatternRepository) ListDue(ctx context.Context, horizon time.Time, limit int) ([]models.Pattern, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM patterns WHERE last_generated_at IS NULL OR last_generated_at < $1 ORDER BY last_generated_at ASC NULLS FIRST LIMIT %d`, patternColumns, limit)
	var patterns []models.Pattern
	if err := r.db.SelectContext(ctx, &patterns, query, horizon); err != nil {
		return nil, fmt.Errorf("list due patterns: %w", err)
	}
	return patterns, nil
}

// Create stores a new pattern.
func (r *PatternRepository) Create(ctx context.Context, pattern *models.Pattern) error {
	if pattern.ID == "" {
		pattern.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = now
	}
	pattern.UpdatedAt = now

	const query = `INSERT INTO patterns (` + patternColumns + `) VALUES (:id, :teacher_id, :guardian_id, :student_id, :slots, :duration_minutes, :timezone, :window_months, :last_generated_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, pattern); err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}
	return nil
}

// Update modifies the template's recurrence rules.
func (r *PatternRepository) Update(ctx context.Context, pattern *models.Pattern) error {
	pattern.UpdatedAt = time.Now().UTC()
	const query = `UPDATE patterns SET slots = :slots, duration_minutes = :duration_minutes, timezone = :timezone, window_months = :window_months, last_generated_at = :last_generated_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, pattern); err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	return nil
}

// TouchGenerated records the instant a generation pass completed.
func (r *PatternRepository) TouchGenerated(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE patterns SET last_generated_at = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, at, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch pattern generation: %w", err)
	}
	return nil
}

// Delete removes a pattern template.
func (r *PatternRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	return nil
}
