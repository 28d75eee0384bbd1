package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/medilink-backend/pkg/enums"
)

// PayloadEnvelope wraps every settlement fact written to outbox_events.
// EventID is the outbox row id, so a consumer can dedupe a redelivered
// payment_settled or medicine_purchased message on it alone.
type PayloadEnvelope struct {
	Version     int                   `json:"version"`
	EventID     string                `json:"event_id"`
	EventType   enums.OutboxEventType `json:"event_type,omitempty"`
	AggregateID string                `json:"aggregate_id,omitempty"`
	OccurredAt  time.Time             `json:"occurred_at"`
	Data        json.RawMessage       `json:"data"`
}

// CheckRow reports whether the envelope was written for the given row.
// Envelopes predating event_type carry no routing fields and always match.
func (e PayloadEnvelope) CheckRow(eventType enums.OutboxEventType, aggregateID string) error {
	if e.EventType != "" && e.EventType != eventType {
		return fmt.Errorf("envelope event type %s does not match row %s", e.EventType, eventType)
	}
	if e.AggregateID != "" && e.AggregateID != aggregateID {
		return fmt.Errorf("envelope aggregate %s does not match row %s", e.AggregateID, aggregateID)
	}
	return nil
}
