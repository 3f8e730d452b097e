package models

import "time"

// MonthlyChangeStats are the derived change statistics for one
// teacher/guardian/student triple in one calendar month. They are never
// stored, always recomputed (or served from a short-TTL cache).
type MonthlyChangeStats struct {
	TotalClasses         int `json:"total_classes"`
	GuardianCancels      int `json:"guardian_cancellations"`
	TeacherCancels       int `json:"teacher_cancellations"`
	TeacherReschedApprov int `json:"teacher_reschedules_approved"`
}

// PolicyAction names the two change actions the policy engine rules on.
type PolicyAction string

const (
	ActionCancel     PolicyAction = "cancel"
	ActionReschedule PolicyAction = "reschedule"
)

// QuotaUsage breaks down quota consumption for one action.
type QuotaUsage struct {
	Quota int `json:"quota"`
	Used  int `json:"used"`
}

// ChangePolicy is the structured answer to "may this actor change this
// lesson right now". Reasons are present only for denied actions.
type ChangePolicy struct {
	CanCancel     bool                        `json:"can_cancel"`
	CanReschedule bool                        `json:"can_reschedule"`
	Reasons       map[PolicyAction]string     `json:"reasons,omitempty"`
	Stats         MonthlyChangeStats          `json:"stats"`
	Quotas        map[PolicyAction]QuotaUsage `json:"quotas,omitempty"`
	EvaluatedAt   time.Time                   `json:"evaluated_at"`
}
