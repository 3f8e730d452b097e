package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/waraqaweb/classes-api/internal/models"
	"github.com/waraqaweb/classes-api/pkg/jobs"
)

// Availability is the oracle's verdict on a proposed teacher booking.
type Availability struct {
	IsAvailable bool   `json:"is_available"`
	Reason      string `json:"reason,omitempty"`
}

// AvailabilityOracle consults the external teacher-availability service.
// Callers treat transport errors as "not available" (fail closed).
type AvailabilityOracle interface {
	Validate(ctx context.Context, teacherID string, start, end time.Time, excludeLessonID string) (Availability, error)
}

// LessonEvent names the outbound notification types.
type LessonEvent string

const (
	EventLessonCreated     LessonEvent = "lesson.created"
	EventLessonCancelled   LessonEvent = "lesson.cancelled"
	EventLessonRescheduled LessonEvent = "lesson.rescheduled"
	EventLessonOnHold      LessonEvent = "lesson.on_hold"
	EventReportSubmitted   LessonEvent = "lesson.report_submitted"
	EventExtensionGranted  LessonEvent = "lesson.extension_granted"
	EventMarkedUnreported  LessonEvent = "lesson.marked_unreported"
	EventChangeRequested   LessonEvent = "change_request.opened"
	EventChangeApproved    LessonEvent = "change_request.approved"
	EventChangeRejected    LessonEvent = "change_request.rejected"
)

// NotificationSink delivers lesson events to participants. Calls are
// fire-and-forget: delivery failure must never block a state transition.
type NotificationSink interface {
	NotifyLessonEvent(lesson *models.Lesson, event LessonEvent, actorID string)
	NotifyChangeOutcome(lesson *models.Lesson, request *models.ChangeRequest, event LessonEvent, actorID string)
}

// InvoiceRecalculator lets billing recompute after a lesson's status or
// duration changes. Invoked, never awaited for correctness.
type InvoiceRecalculator interface {
	Recalculate(lessonID string)
}

// HTTPAvailabilityOracle calls the legacy availability endpoint.
type HTTPAvailabilityOracle struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAvailabilityOracle constructs the oracle client with a bounded
// per-call timeout.
func NewHTTPAvailabilityOracle(baseURL string, timeout time.Duration) *HTTPAvailabilityOracle {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPAvailabilityOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type availabilityRequest struct {
	TeacherID       string    `json:"teacher_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	ExcludeLessonID string    `json:"exclude_lesson_id,omitempty"`
}

// Validate implements AvailabilityOracle.
func (o *HTTPAvailabilityOracle) Validate(ctx context.Context, teacherID string, start, end time.Time, excludeLessonID string) (Availability, error) {
	payload, err := json.Marshal(availabilityRequest{
		TeacherID:       teacherID,
		Start:           start,
		End:             end,
		ExcludeLessonID: excludeLessonID,
	})
	if err != nil {
		return Availability{}, fmt.Errorf("encode availability request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(payload))
	if err != nil {
		return Availability{}, fmt.Errorf("build availability request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Availability{}, fmt.Errorf("availability oracle call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Availability{}, fmt.Errorf("availability oracle returned %d", resp.StatusCode)
	}

	var out Availability
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Availability{}, fmt.Errorf("decode availability response: %w", err)
	}
	return out, nil
}

// NotificationPayload is the job payload handed to the dispatch queue.
type NotificationPayload struct {
	Event      LessonEvent           `json:"event"`
	LessonID   string                `json:"lesson_id"`
	TeacherID  string                `json:"teacher_id"`
	GuardianID string                `json:"guardian_id"`
	StudentID  string                `json:"student_id"`
	ActorID    string                `json:"actor_id"`
	Request    *models.ChangeRequest `json:"request,omitempty"`
}

// NotificationDeliverer performs the actual delivery for a dispatched event.
type NotificationDeliverer interface {
	Deliver(ctx context.Context, payload NotificationPayload) error
}

// QueueNotificationSink dispatches events over the in-memory job queue so a
// slow or failing delivery channel cannot stall request handling.
type QueueNotificationSink struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewQueueNotificationSink builds the sink and its backing queue.
func NewQueueNotificationSink(deliverer NotificationDeliverer, cfg jobs.QueueConfig, logger *zap.Logger) *QueueNotificationSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(NotificationPayload)
		if !ok {
			return fmt.Errorf("unexpected notification payload %T", job.Payload)
		}
		return deliverer.Deliver(ctx, payload)
	}, cfg)
	return &QueueNotificationSink{queue: queue, logger: logger}
}

// Start begins dispatch workers.
func (s *QueueNotificationSink) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop drains the dispatch workers.
func (s *QueueNotificationSink) Stop() { s.queue.Stop() }

// NotifyLessonEvent implements NotificationSink.
func (s *QueueNotificationSink) NotifyLessonEvent(lesson *models.Lesson, event LessonEvent, actorID string) {
	if lesson == nil {
		return
	}
	s.enqueue(NotificationPayload{
		Event:      event,
		LessonID:   lesson.ID,
		TeacherID:  lesson.TeacherID,
		GuardianID: lesson.GuardianID,
		StudentID:  lesson.StudentID,
		ActorID:    actorID,
	})
}

// NotifyChangeOutcome implements NotificationSink.
func (s *QueueNotificationSink) NotifyChangeOutcome(lesson *models.Lesson, request *models.ChangeRequest, event LessonEvent, actorID string) {
	if lesson == nil {
		return
	}
	s.enqueue(NotificationPayload{
		Event:      event,
		LessonID:   lesson.ID,
		TeacherID:  lesson.TeacherID,
		GuardianID: lesson.GuardianID,
		StudentID:  lesson.StudentID,
		ActorID:    actorID,
		Request:    request,
	})
}

func (s *QueueNotificationSink) enqueue(payload NotificationPayload) {
	if !s.queue.TryEnqueue(jobs.Job{ID: payload.LessonID, Type: string(payload.Event), Payload: payload}) {
		s.logger.Sugar().Warnw("notification dropped", "event", payload.Event, "lesson_id", payload.LessonID)
	}
}

// LogNotificationDeliverer writes events to the log. It stands in for the
// real push/email channel, which is owned by the legacy platform.
type LogNotificationDeliverer struct {
	logger *zap.Logger
}

// NewLogNotificationDeliverer constructs the log-backed deliverer.
func NewLogNotificationDeliverer(logger *zap.Logger) *LogNotificationDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationDeliverer{logger: logger}
}

// Deliver implements NotificationDeliverer.
func (d *LogNotificationDeliverer) Deliver(_ context.Context, payload NotificationPayload) error {
	d.logger.Sugar().Infow("lesson notification",
		"event", payload.Event,
		"lesson_id", payload.LessonID,
		"teacher_id", payload.TeacherID,
		"guardian_id", payload.GuardianID,
		"actor_id", payload.ActorID,
	)
	return nil
}

// QueueInvoiceRecalculator forwards recalculation requests to billing over
// the job queue.
type QueueInvoiceRecalculator struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// InvoiceHook performs the billing-side recomputation.
type InvoiceHook interface {
	RecalculateLesson(ctx context.Context, lessonID string) error
}

// NewQueueInvoiceRecalculator builds the async invoice hook.
func NewQueueInvoiceRecalculator(hook InvoiceHook, cfg jobs.QueueConfig, logger *zap.Logger) *QueueInvoiceRecalculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := jobs.NewQueue("invoice-recalc", func(ctx context.Context, job jobs.Job) error {
		lessonID, ok := job.Payload.(string)
		if !ok {
			return fmt.Errorf("unexpected invoice payload %T", job.Payload)
		}
		return hook.RecalculateLesson(ctx, lessonID)
	}, cfg)
	return &QueueInvoiceRecalculator{queue: queue, logger: logger}
}

// Start begins recalculation workers.
func (r *QueueInvoiceRecalculator) Start(ctx context.Context) { r.queue.Start(ctx) }

// Stop drains the workers.
func (r *QueueInvoiceRecalculator) Stop() { r.queue.Stop() }

// Recalculate implements InvoiceRecalculator.
func (r *QueueInvoiceRecalculator) Recalculate(lessonID string) {
	if !r.queue.TryEnqueue(jobs.Job{ID: lessonID, Type: "invoice.recalculate", Payload: lessonID}) {
		r.logger.Sugar().Warnw("invoice recalculation dropped", "lesson_id", lessonID)
	}
}

// LogInvoiceHook is the stand-in billing integration.
type LogInvoiceHook struct {
	logger *zap.Logger
}

// NewLogInvoiceHook constructs the log-backed hook.
func NewLogInvoiceHook(logger *zap.Logger) *LogInvoiceHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogInvoiceHook{logger: logger}
}

// RecalculateLesson implements InvoiceHook.
func (h *LogInvoiceHook) RecalculateLesson(_ context.Context, lessonID string) error {
	h.logger.Sugar().Infow("invoice recalculation requested", "lesson_id", lessonID)
	return nil
}
