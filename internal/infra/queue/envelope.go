package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

// Envelope сообщение о событии рецензирования во внешней шине.
type Envelope struct {
	Meta EnvelopeMeta       `json:"meta"`
	Data domain.ReviewEvent `json:"data"`
}

// EnvelopeMeta служебные поля сообщения.
type EnvelopeMeta struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
}

const envelopeSource = "tem-operator-bot"

// NewEnvelope оборачивает событие и присваивает ему идентификатор.
func NewEnvelope(event domain.ReviewEvent) Envelope {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return Envelope{
		Meta: EnvelopeMeta{
			ID:     uuid.NewString(),
			Type:   string(event.Type),
			Source: envelopeSource,
			Time:   event.OccurredAt,
		},
		Data: event,
	}
}

// RoutingKey ключ маршрутизации вида review.submission.accepted.
func (e Envelope) RoutingKey() string {
	return "review." + e.Meta.Type
}

// Discard публикатор без внешней шины.
type Discard struct{}

// Publish ничего не делает.
func (Discard) Publish(context.Context, domain.ReviewEvent) error { return nil }
