package domain

import (
	"context"
	"time"
)

// TaskRunner выполняет медленную работу (письма, оракул) вне обработчика событий.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// EventType тип события жизненного цикла.
type EventType string

const (
	EventSubmissionAdmitted     EventType = "submission.admitted"
	EventSubmissionAssigning    EventType = "submission.assigning"
	EventSubmissionUnderReview  EventType = "submission.under_review"
	EventSubmissionAccepted     EventType = "submission.accepted"
	EventSubmissionRejected     EventType = "submission.rejected"
	EventAssignmentConfirmed    EventType = "assignment.confirmed"
	EventAssignmentDeclined     EventType = "assignment.declined"
	EventAssignmentReplaced     EventType = "assignment.replaced"
	EventAssignmentDone         EventType = "assignment.done"
	EventRejectionProposed      EventType = "rejection.proposed"
	EventRejectionSeconded      EventType = "rejection.seconded"
	EventFollowupSent           EventType = "followup.sent"
	EventAssignmentOverridden   EventType = "assignment.overridden"
	EventOracleFailed           EventType = "oracle.failed"
)

// ReviewEvent событие для внешних подписчиков.
type ReviewEvent struct {
	Type         EventType         `json:"type"`
	SubmissionID int64             `json:"submission_id"`
	Reviewer     string            `json:"reviewer,omitempty"`
	Status       SubmissionStatus  `json:"status,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// EventPublisher публикует события жизненного цикла.
type EventPublisher interface {
	Publish(ctx context.Context, event ReviewEvent) error
}
