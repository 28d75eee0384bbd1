package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateBill          OutboxAggregateType = "bill"
	AggregateMedicine      OutboxAggregateType = "medicine"
	AggregateMedicineBatch OutboxAggregateType = "medicine_batch"
)

var aggregateTypes = []OutboxAggregateType{AggregateBill, AggregateMedicine, AggregateMedicineBatch}

func (a OutboxAggregateType) IsValid() bool { return isOneOf(a, aggregateTypes) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, aggregateTypes)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventPaymentSettled        OutboxEventType = "payment_settled"
	EventMedicinePurchased     OutboxEventType = "medicine_purchased"
	EventMedicineStockDepleted OutboxEventType = "medicine_stock_depleted"
)

var eventTypes = []OutboxEventType{EventPaymentSettled, EventMedicinePurchased, EventMedicineStockDepleted}

func (e OutboxEventType) IsValid() bool { return isOneOf(e, eventTypes) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, eventTypes)
}

// OutboxDLQErrorReason records why an outbox event was dead-lettered.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: retryable failures exhausted the attempt budget.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the row can never be published as stored.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var dlqReasons = []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}

func (r OutboxDLQErrorReason) String() string { return string(r) }

func (r OutboxDLQErrorReason) IsValid() bool { return isOneOf(r, dlqReasons) }

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return parse("dlq reason", value, dlqReasons)
}
