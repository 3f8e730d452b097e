package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/waraqaweb/classes-api/internal/models"
)

const lessonColumns = `id, pattern_id, teacher_id, guardian_id, student_id, status, starts_at, duration_minutes, timezone, cancel_reason, change_request, reschedule_history, report, report_submitted_at, tracking_status, teacher_deadline, extension, extension_expires_at, created_at, updated_at`

// LessonRepository provides persistence for lesson instances.
//
// Mutations that depend on the lesson's current state carry that state in
// their WHERE clause; zero rows affected surfaces as sql.ErrNoRows so the
// caller can report a conflict instead of overwriting a concurrent change.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository creates a new lesson repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// BeginTxx opens a transaction for multi-row operations.
func (r *LessonRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

// FindByID loads a lesson by id.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	query := fmt.Sprintf(`SELECT %s FROM lessons WHERE id = $1`, lessonColumns)
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// List returns lessons with optional filtering and pagination.
func (r *LessonRepository) List(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, int, error) {
	base := "FROM lessons WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.GuardianID != "" {
		conditions = append(conditions, fmt.Sprintf("guardian_id = $%d", len(args)+1))
		args = append(args, filter.GuardianID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.PatternID != "" {
		conditions = append(conditions, fmt.Sprintf("pattern_id = $%d", len(args)+1))
		args = append(args, filter.PatternID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("starts_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("starts_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY starts_at ASC LIMIT %d OFFSET %d", lessonColumns, base, size, offset)
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lessons: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count lessons: %w", err)
	}

	return lessons, total, nil
}

// Create stores a new lesson instance.
func (r *LessonRepository) Create(ctx context.Context, lesson *models.Lesson) error {
	prepareLesson(lesson)
	const query = `INSERT INTO lessons (` + lessonColumns + `) VALUES (:id, :pattern_id, :teacher_id, :guardian_id, :student_id, :status, :starts_at, :duration_minutes, :timezone, :cancel_reason, :change_request, :reschedule_history, :report, :report_submitted_at, :tracking_status, :teacher_deadline, :extension, :extension_expires_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, lesson); err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// BulkCreateWithTx inserts lessons using an existing transaction. The whole
// batch shares the transaction so recurrence generation stays atomic.
func (r *LessonRepository) BulkCreateWithTx(ctx context.Context, tx *sqlx.Tx, lessons []models.Lesson) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	for i := range lessons {
		payload := lessons[i]
		prepareLesson(&payload)
		if _, err := sqlx.NamedExecContext(ctx, tx, `INSERT INTO lessons (`+lessonColumns+`) VALUES (:id, :pattern_id, :teacher_id, :guardian_id, :student_id, :status, :starts_at, :duration_minutes, :timezone, :cancel_reason, :change_request, :reschedule_history, :report, :report_submitted_at, :tracking_status, :teacher_deadline, :extension, :extension_expires_at, :created_at, :updated_at)`, &payload); err != nil {
			return fmt.Errorf("bulk insert lesson: %w", err)
		}
		lessons[i] = payload
	}
	return nil
}

func prepareLesson(lesson *models.Lesson) {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	if lesson.Status == "" {
		lesson.Status = models.LessonScheduled
	}
	if lesson.TrackingStatus == "" {
		lesson.TrackingStatus = models.TrackingPending
	}
	if len(lesson.RescheduleHistory) == 0 {
		lesson.RescheduleHistory = types.JSONText("[]")
	}
	now := time.Now().UTC()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now
}

// UpdateStatusGuarded transitions status only while the lesson is still in
// the expected state.
func (r *LessonRepository) UpdateStatusGuarded(ctx context.Context, id string, from, to models.LessonStatus, cancelReason *string) error {
	const query = `UPDATE lessons SET status = $1, cancel_reason = COALESCE($2, cancel_reason), updated_at = $3 WHERE id = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, to, cancelReason, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update lesson status: %w", err)
	}
	return requireRow(res)
}

// UpdateScheduleGuarded moves a scheduled lesson to a new start time,
// replacing duration/timezone and the reschedule history document.
func (r *LessonRepository) UpdateScheduleGuarded(ctx context.Context, id string, start time.Time, durationMinutes int, timezone string, history types.JSONText) error {
	const query = `UPDATE lessons SET starts_at = $1, duration_minutes = $2, timezone = $3, reschedule_history = $4, updated_at = $5 WHERE id = $6 AND status = $7`
	res, err := r.db.ExecContext(ctx, query, start, durationMinutes, timezone, history, time.Now().UTC(), id, models.LessonScheduled)
	if err != nil {
		return fmt.Errorf("update lesson schedule: %w", err)
	}
	return requireRow(res)
}

// AttachChangeRequest sets the pending change request. The WHERE clause
// enforces the at-most-one invariant even under concurrent requests.
func (r *LessonRepository) AttachChangeRequest(ctx context.Context, id string, doc types.JSONText) error {
	const query = `UPDATE lessons SET change_request = $1, updated_at = $2 WHERE id = $3 AND status = $4 AND (change_request IS NULL OR change_request->>'status' <> 'PENDING')`
	res, err := r.db.ExecContext(ctx, query, doc, time.Now().UTC(), id, models.LessonScheduled)
	if err != nil {
		return fmt.Errorf("attach change request: %w", err)
	}
	return requireRow(res)
}

// ResolveChangeRequest overwrites the change request document with its
// decided form, only while it is still pending.
func (r *LessonRepository) ResolveChangeRequest(ctx context.Context, id string, doc types.JSONText) error {
	const query = `UPDATE lessons SET change_request = $1, updated_at = $2 WHERE id = $3 AND change_request->>'status' = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, doc, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve change request: %w", err)
	}
	return requireRow(res)
}

// SetReport files the report document, stamps submission, moves tracking to
// SUBMITTED, and forces the lifecycle transition in one statement. It fails
// with sql.ErrNoRows when a report exists or the lesson left the expected
// status, making report and cancellation mutually exclusive.
func (r *LessonRepository) SetReport(ctx context.Context, id string, report types.JSONText, submittedAt time.Time, from, to models.LessonStatus, cancelReason *string) error {
	const query = `UPDATE lessons SET report = $1, report_submitted_at = $2, tracking_status = $3, status = $4, cancel_reason = COALESCE($5, cancel_reason), updated_at = $6 WHERE id = $7 AND report IS NULL AND status = $8`
	res, err := r.db.ExecContext(ctx, query, report, submittedAt, models.TrackingSubmitted, to, cancelReason, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("set lesson report: %w", err)
	}
	return requireRow(res)
}

// OpenTracking initialises the submission window for an ended lesson.
func (r *LessonRepository) OpenTracking(ctx context.Context, id string, deadline time.Time) error {
	const query = `UPDATE lessons SET tracking_status = $1, teacher_deadline = $2, updated_at = $3 WHERE id = $4 AND tracking_status = $5`
	res, err := r.db.ExecContext(ctx, query, models.TrackingOpen, deadline, time.Now().UTC(), id, models.TrackingPending)
	if err != nil {
		return fmt.Errorf("open tracking: %w", err)
	}
	return requireRow(res)
}

// SetExtension stores an extension grant, replacing any previous one. It is
// refused once a report has been submitted.
func (r *LessonRepository) SetExtension(ctx context.Context, id string, ext types.JSONText, expiresAt time.Time) error {
	const query = `UPDATE lessons SET extension = $1, extension_expires_at = $2, tracking_status = $3, updated_at = $4 WHERE id = $5 AND report_submitted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, ext, expiresAt, models.TrackingExtended, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set extension: %w", err)
	}
	return requireRow(res)
}

// MarkUnreported transitions an expired submission window to UNREPORTED.
// Re-running it for an already-marked lesson affects no rows and is treated
// as success, keeping the sweep idempotent.
func (r *LessonRepository) MarkUnreported(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE lessons SET tracking_status = $1, updated_at = $2 WHERE id = $3 AND report_submitted_at IS NULL AND tracking_status IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query, models.TrackingUnreported, time.Now().UTC(), id, models.TrackingOpen, models.TrackingExtended)
	if err != nil {
		return false, fmt.Errorf("mark unreported: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDeadlinePassed returns lessons whose submission window (base deadline,
// or extension when one is active) has elapsed without a report.
func (r *LessonRepository) ListDeadlinePassed(ctx context.Context, now time.Time, limit int) ([]models.Lesson, error) {
	if limit <= 0 {
		limit = 200
	}
	query := fmt.Sprintf(`SELECT %s FROM lessons WHERE report_submitted_at IS NULL AND ((tracking_status = $1 AND teacher_deadline < $2) OR (tracking_status = $3 AND extension_expires_at < $2)) ORDER BY starts_at ASC LIMIT %d`, lessonColumns, limit)
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, models.TrackingOpen, now, models.TrackingExtended); err != nil {
		return nil, fmt.Errorf("list deadline passed: %w", err)
	}
	return lessons, nil
}

// ListEndedWithoutTracking returns scheduled lessons that ended inside the
// window [since, now) and still have no submission window opened.
func (r *LessonRepository) ListEndedWithoutTracking(ctx context.Context, since, now time.Time, limit int) ([]models.Lesson, error) {
	if limit <= 0 {
		limit = 200
	}
	query := fmt.Sprintf(`SELECT %s FROM lessons WHERE tracking_status = $1 AND status = $2 AND starts_at + make_interval(mins => duration_minutes) >= $3 AND starts_at + make_interval(mins => duration_minutes) < $4 ORDER BY starts_at ASC LIMIT %d`, lessonColumns, limit)
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, models.TrackingPending, models.LessonScheduled, since, now); err != nil {
		return nil, fmt.Errorf("list ended without tracking: %w", err)
	}
	return lessons, nil
}

// MonthlyStats aggregates change statistics for a participant triple within
// [monthStart, monthEnd).
func (r *LessonRepository) MonthlyStats(ctx context.Context, teacherID, guardianID, studentID string, monthStart, monthEnd time.Time) (models.MonthlyChangeStats, error) {
	const query = `SELECT
		COUNT(*) AS total_classes,
		COUNT(*) FILTER (WHERE status = 'CANCELLED_BY_GUARDIAN') AS guardian_cancellations,
		COUNT(*) FILTER (WHERE status = 'CANCELLED_BY_TEACHER') AS teacher_cancellations,
		COUNT(*) FILTER (WHERE change_request->>'requester_role' = 'TEACHER' AND change_request->>'status' = 'APPROVED') AS teacher_reschedules_approved
	FROM lessons
	WHERE teacher_id = $1 AND guardian_id = $2 AND student_id = $3 AND starts_at >= $4 AND starts_at < $5`

	var row struct {
		TotalClasses         int `db:"total_classes"`
		GuardianCancels      int `db:"guardian_cancellations"`
		TeacherCancels       int `db:"teacher_cancellations"`
		TeacherReschedApprov int `db:"teacher_reschedules_approved"`
	}
	if err := r.db.GetContext(ctx, &row, query, teacherID, guardianID, studentID, monthStart, monthEnd); err != nil {
		return models.MonthlyChangeStats{}, fmt.Errorf("monthly stats: %w", err)
	}
	return models.MonthlyChangeStats{
		TotalClasses:         row.TotalClasses,
		GuardianCancels:      row.GuardianCancels,
		TeacherCancels:       row.TeacherCancels,
		TeacherReschedApprov: row.TeacherReschedApprov,
	}, nil
}

// ListStartTimesByPattern returns all start instants already materialized
// for a pattern; the expander derives idempotency keys from them.
func (r *LessonRepository) ListStartTimesByPattern(ctx context.Context, patternID string) ([]time.Time, error) {
	const query = `SELECT starts_at FROM lessons WHERE pattern_id = $1`
	var starts []time.Time
	if err := r.db.SelectContext(ctx, &starts, query, patternID); err != nil {
		return nil, fmt.Errorf("list pattern start times: %w", err)
	}
	return starts, nil
}

// DeleteFutureByPatternTx removes a pattern's untouched future instances
// within a transaction so edit-and-regenerate stays atomic.
func (r *LessonRepository) DeleteFutureByPatternTx(ctx context.Context, tx *sqlx.Tx, patternID string, from time.Time) (int64, error) {
	const query = `DELETE FROM lessons WHERE pattern_id = $1 AND status = $2 AND starts_at >= $3`
	res, err := tx.ExecContext(ctx, query, patternID, models.LessonScheduled, from)
	if err != nil {
		return 0, fmt.Errorf("delete future pattern lessons: %w", err)
	}
	return res.RowsAffected()
}

// DeleteByScope removes pattern instances according to the admin scope.
func (r *LessonRepository) DeleteByScope(ctx context.Context, patternID string, scope models.DeleteScope, lessonID string, now time.Time) (int64, error) {
	var (
		query string
		args  []interface{}
	)
	switch scope {
	case models.DeleteScopeSingle:
		query = `DELETE FROM lessons WHERE pattern_id = $1 AND id = $2`
		args = []interface{}{patternID, lessonID}
	case models.DeleteScopeFuture:
		query = `DELETE FROM lessons WHERE pattern_id = $1 AND starts_at >= $2`
		args = []interface{}{patternID, now}
	case models.DeleteScopePast:
		query = `DELETE FROM lessons WHERE pattern_id = $1 AND starts_at < $2`
		args = []interface{}{patternID, now}
	case models.DeleteScopeAll:
		query = `DELETE FROM lessons WHERE pattern_id = $1`
		args = []interface{}{patternID}
	default:
		return 0, fmt.Errorf("unsupported delete scope %q", scope)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete lessons by scope: %w", err)
	}
	return res.RowsAffected()
}

// DeleteStaleUnreported permanently removes unreported lessons scheduled
// before the cutoff. Patterns live in their own table so templates are
// never touched.
func (r *LessonRepository) DeleteStaleUnreported(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM lessons WHERE tracking_status = $1 AND starts_at < $2`
	res, err := r.db.ExecContext(ctx, query, models.TrackingUnreported, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale unreported: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHoldRange flips scheduled lessons to ON_HOLD (or back) for one
// participant inside a date range. Returns the number of affected rows.
func (r *LessonRepository) UpdateHoldRange(ctx context.Context, teacherID, guardianID string, from, to time.Time, fromStatus, toStatus models.LessonStatus) (int64, error) {
	base := `UPDATE lessons SET status = $1, updated_at = $2 WHERE status = $3 AND starts_at >= $4 AND starts_at < $5`
	args := []interface{}{toStatus, time.Now().UTC(), fromStatus, from, to}
	if teacherID != "" {
		base += fmt.Sprintf(" AND teacher_id = $%d", len(args)+1)
		args = append(args, teacherID)
	}
	if guardianID != "" {
		base += fmt.Sprintf(" AND guardian_id = $%d", len(args)+1)
		args = append(args, guardianID)
	}
	res, err := r.db.ExecContext(ctx, base, args...)
	if err != nil {
		return 0, fmt.Errorf("update hold range: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
