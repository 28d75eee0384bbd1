// Package registry maps outbox rows to their Pub/Sub topic and typed payload.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/medilink-backend/pkg/config"
	"github.com/angelmondragon/medilink-backend/pkg/db/models"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
	"github.com/angelmondragon/medilink-backend/pkg/outbox"
	"github.com/angelmondragon/medilink-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

type EventRegistry struct {
	entries  map[enums.OutboxEventType]EventDescriptor
	validate *validator.Validate
}

type topicRoute struct {
	eventType enums.OutboxEventType
	aggregate enums.OutboxAggregateType
	topic     func(config.PubSubConfig) string
	payload   func() any
}

var routes = []topicRoute{
	{
		eventType: enums.EventPaymentSettled,
		aggregate: enums.AggregateBill,
		topic:     func(c config.PubSubConfig) string { return c.SettlementTopic },
		payload:   func() any { return &payloads.PaymentSettledEvent{} },
	},
	{
		eventType: enums.EventMedicinePurchased,
		aggregate: enums.AggregateMedicine,
		topic:     func(c config.PubSubConfig) string { return c.InventoryTopic },
		payload:   func() any { return &payloads.MedicinePurchasedEvent{} },
	},
	{
		eventType: enums.EventMedicineStockDepleted,
		aggregate: enums.AggregateMedicineBatch,
		topic:     func(c config.PubSubConfig) string { return c.InventoryTopic },
		payload:   func() any { return &payloads.MedicineStockDepletedEvent{} },
	},
}

// NewEventRegistry fails when any route resolves to an empty topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	reg := &EventRegistry{
		entries:  make(map[enums.OutboxEventType]EventDescriptor, len(routes)),
		validate: validator.New(),
	}
	for _, route := range routes {
		topic := strings.TrimSpace(route.topic(cfg))
		if topic == "" {
			return nil, fmt.Errorf("no topic configured for %s events", route.eventType)
		}
		reg.entries[route.eventType] = EventDescriptor{
			EventType:      route.eventType,
			AggregateType:  route.aggregate,
			Topic:          topic,
			PayloadFactory: route.payload,
		}
	}
	return reg, nil
}

// Topics lists the distinct topics events may be published to, sorted.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	for _, desc := range r.entries {
		seen[desc.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the typed
// payload. Every failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	}
	if desc.AggregateType != event.AggregateType {
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	}
	if strings.TrimSpace(event.AggregateID) == "" {
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if envelope.Version < 1 || envelope.Version > outbox.EnvelopeVersion {
		return nil, nonRetryable("unsupported envelope version %d", envelope.Version)
	}
	if err := envelope.CheckRow(event.EventType, event.AggregateID); err != nil {
		return nil, nonRetryable("%w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, nonRetryable("invalid %s payload: %w", event.EventType, err)
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
