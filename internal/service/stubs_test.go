package service

import (
	"context"
	"time"

	"github.com/waraqaweb/classes-api/internal/models"
)

// Shared test doubles for the lesson workflow services.

type stubPolicy struct {
	policy      models.ChangePolicy
	err         error
	invalidated int
}

func (p *stubPolicy) Evaluate(ctx context.Context, lesson *models.Lesson, role models.UserRole, now time.Time) (models.ChangePolicy, error) {
	if p.err != nil {
		return models.ChangePolicy{}, p.err
	}
	return p.policy, nil
}

func (p *stubPolicy) InvalidateStats(ctx context.Context, lesson *models.Lesson) {
	p.invalidated++
}

type stubOracle struct {
	verdict Availability
	err     error
	calls   int
}

func (o *stubOracle) Validate(ctx context.Context, teacherID string, start, end time.Time, excludeLessonID string) (Availability, error) {
	o.calls++
	if o.err != nil {
		return Availability{}, o.err
	}
	return o.verdict, nil
}

type recordingSink struct {
	events []LessonEvent
}

func (s *recordingSink) NotifyLessonEvent(lesson *models.Lesson, event LessonEvent, actorID string) {
	s.events = append(s.events, event)
}

func (s *recordingSink) NotifyChangeOutcome(lesson *models.Lesson, request *models.ChangeRequest, event LessonEvent, actorID string) {
	s.events = append(s.events, event)
}

type stubInvoices struct {
	recalculated []string
}

func (i *stubInvoices) Recalculate(lessonID string) {
	i.recalculated = append(i.recalculated, lessonID)
}

type stubAudit struct {
	actions []string
}

func (a *stubAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func claimsFor(role models.UserRole, userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: role}
}

func allowAllPolicy() *stubPolicy {
	return &stubPolicy{policy: models.ChangePolicy{CanCancel: true, CanReschedule: true}}
}

func availableOracle() *stubOracle {
	return &stubOracle{verdict: Availability{IsAvailable: true}}
}
