package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/medilink-backend/pkg/config"
	"github.com/angelmondragon/medilink-backend/pkg/db/models"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
	"github.com/angelmondragon/medilink-backend/pkg/metrics"
	"github.com/angelmondragon/medilink-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10

	maxBackoff   = 10 * time.Second
	jitterWindow = 250 * time.Millisecond
)

// Publish outcomes, also used as the metrics result label.
const (
	outcomePublished    = "published"
	outcomeRetry        = "retry"
	outcomeDeadLettered = "dead_lettered"
)

// Message attribute names consumers filter and dedupe on.
const (
	attrEventID       = "event_id"
	attrEventType     = "event_type"
	attrAggregateType = "aggregate_type"
	attrAggregateID   = "aggregate_id"
	attrVersion       = "version"
	attrOccurredAt    = "occurred_at"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// outboxRepository is the slice of outbox.Repository the loop drives.
type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type (
	publisherFactory func(topic string) publisher

	publisher interface {
		Publish(context.Context, *gcppubsub.Message) publishResult
	}

	publishResult interface {
		Get(context.Context) (string, error)
	}
)

type ServiceParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.SettlementMetrics

	DB            dbClient
	PubSub        pubSubClient
	Repository    outboxRepository
	DLQRepository dlqRepository
	Registry      registryResolver

	// PublisherFactory overrides how a topic publisher is obtained. Nil
	// means PubSub.Publisher.
	PublisherFactory publisherFactory
}

func (p ServiceParams) check() error {
	missing := []struct {
		absent bool
		name   string
	}{
		{p.Config == nil, "config"},
		{p.Logger == nil, "logger"},
		{p.DB == nil, "database client"},
		{p.PubSub == nil, "pubsub client"},
		{p.Repository == nil, "outbox repository"},
		{p.Registry == nil, "event registry"},
		{p.DLQRepository == nil, "dlq repository"},
	}
	for _, dep := range missing {
		if dep.absent {
			return fmt.Errorf("%s is required", dep.name)
		}
	}
	return nil
}

// Service drains outbox_events to Pub/Sub. Each batch runs in one
// transaction holding row locks taken with SKIP LOCKED, so several
// publishers can run side by side.
type Service struct {
	logg    *logger.Logger
	metrics *metrics.SettlementMetrics

	db       dbClient
	pubsub   pubSubClient
	repo     outboxRepository
	dlq      dlqRepository
	registry registryResolver

	publisherFactory publisherFactory
	publishers       map[string]publisher

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

type batchStats struct {
	fetched      int
	published    int
	retried      int
	deadLettered int
}

func (b *batchStats) count(outcome string) {
	switch outcome {
	case outcomePublished:
		b.published++
	case outcomeRetry:
		b.retried++
	case outcomeDeadLettered:
		b.deadLettered++
	}
}

func (b batchStats) fields() map[string]any {
	return map[string]any{
		"fetched":       b.fetched,
		"published":     b.published,
		"retried":       b.retried,
		"dead_lettered": b.deadLettered,
	}
}

func NewService(params ServiceParams) (*Service, error) {
	if err := params.check(); err != nil {
		return nil, err
	}

	factory := params.PublisherFactory
	if factory == nil {
		pubsubClient := params.PubSub
		factory = func(topic string) publisher {
			return newTopicPublisher(pubsubClient.Publisher(topic))
		}
	}

	outboxCfg := params.Config.Outbox
	return &Service{
		logg:             params.Logger,
		metrics:          params.Metrics,
		db:               params.DB,
		pubsub:           params.PubSub,
		repo:             params.Repository,
		dlq:              params.DLQRepository,
		registry:         params.Registry,
		publisherFactory: factory,
		publishers:       map[string]publisher{},
		batchSize:        positiveOr(outboxCfg.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(outboxCfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(positiveOr(outboxCfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		publishTimeout:   positiveOr(params.Config.PubSub.PublishTimeout, defaultPublishTimeout),
	}, nil
}

func positiveOr[T int | time.Duration](value, fallback T) T {
	if value <= 0 {
		return fallback
	}
	return value
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	return nil
}

// Run polls until ctx is cancelled. Full batches are followed immediately
// by the next one; errors back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	delay := s.pollInterval
	for ctx.Err() == nil {
		stats, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			delay = nextBackoff(delay, s.pollInterval, maxBackoff)
		case stats.fetched >= s.batchSize:
			s.logg.Info(s.logg.WithFields(ctx, stats.fields()), "outbox batch processed")
			delay = s.pollInterval
			continue
		default:
			if stats.fetched > 0 {
				s.logg.Info(s.logg.WithFields(ctx, stats.fields()), "outbox batch processed")
			}
			delay = s.pollInterval
		}
		if err := sleepCtx(ctx, withJitter(delay)); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Service) processBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		stats = batchStats{}
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch unpublished: %w", err)
		}
		stats.fetched = len(events)

		for _, event := range events {
			outcome, err := s.dispatch(ctx, tx, event)
			if err != nil {
				return err
			}
			stats.count(outcome)
			s.metrics.IncPublish(outcome)
		}
		return nil
	})
	return stats, err
}

// dispatch publishes one row and records the result on it. The returned error
// is a store failure that aborts the batch; publish failures are outcomes.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (string, error) {
	fields := logFields(event)

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	fields["topic"] = resolved.Descriptor.Topic
	fields[attrEventID] = resolved.Envelope.EventID

	publishErr := s.publish(ctx, resolved.Descriptor.Topic, buildMessage(event, resolved))
	var terminal registry.NonRetryableError
	switch {
	case publishErr == nil:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return outcomePublished, nil
	case errors.As(publishErr, &terminal):
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, publishErr, fields)
	}

	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		exhausted := fmt.Errorf("max publish attempts reached: %w", publishErr)
		return outcomeDeadLettered, s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, exhausted, fields)
	}

	fields["error"] = publishErr.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, publishErr); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return outcomeRetry, nil
}

// deadLetter copies the row into outbox_dlq and stops it from being fetched
// again. Both writes share the batch transaction.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	message := cause.Error()
	fields["error_reason"] = reason
	fields["error"] = message
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	if err := s.dlq.InsertTx(tx, newDLQEntry(event, reason, message)); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func newDLQEntry(event models.OutboxEvent, reason enums.OutboxDLQErrorReason, message string) models.OutboxDLQ {
	return models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  event.AttemptCount + 1,
		FailedAt:      time.Now().UTC(),
	}
}

// publish sends msg and waits for the server ack within publishTimeout.
// A missing publisher is terminal because retrying cannot create one.
func (s *Service) publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub, ok := s.publishers[topic]
	if !ok {
		if pub = s.publisherFactory(topic); pub != nil {
			s.publishers[topic] = pub
		}
	}
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	ackCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	result := pub.Publish(ackCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(ackCtx)
	return err
}

// buildMessage carries the stored envelope as the message body. Attributes
// repeat the routing fields so subscribers can filter without decoding.
func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			attrEventID:       resolved.Envelope.EventID,
			attrEventType:     string(event.EventType),
			attrAggregateType: string(event.AggregateType),
			attrAggregateID:   event.AggregateID,
			attrVersion:       strconv.Itoa(resolved.Envelope.Version),
			attrOccurredAt:    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func logFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":       event.ID.String(),
		attrEventType:     event.EventType,
		attrAggregateType: event.AggregateType,
		attrAggregateID:   event.AggregateID,
		"attempt_count":   event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nextBackoff doubles current, treating a non-positive value as base, and
// caps the result at max.
func nextBackoff(current, base, max time.Duration) time.Duration {
	return min(2*positiveOr(current, base), max)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

// topicPublisher adapts *pubsub.Publisher, whose Publish returns a concrete
// *PublishResult, to the publisher interface.
type topicPublisher struct {
	pub *gcppubsub.Publisher
}

func newTopicPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return topicPublisher{pub: p}
}

func (p topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.pub.Publish(ctx, msg)
}
