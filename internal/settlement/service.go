package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/medilink-backend/internal/ledger"
	"github.com/angelmondragon/medilink-backend/internal/settlement/allocation"
	"github.com/angelmondragon/medilink-backend/pkg/db/models"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
	"github.com/angelmondragon/medilink-backend/pkg/ids"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
	"github.com/angelmondragon/medilink-backend/pkg/metrics"
	"github.com/angelmondragon/medilink-backend/pkg/outbox"
	"github.com/angelmondragon/medilink-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type idGenerator interface {
	Next() int64
}

// Service settles bills and sells medicines against batch stock. Every call
// commits fully or leaves the store untouched.
type Service interface {
	Settle(ctx context.Context, input SettleInput) (*SettleResult, error)
	Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
}

// Options carries the optional collaborators of the service.
type Options struct {
	// Timeout bounds each transaction. Zero disables the bound.
	Timeout time.Duration
	Logger  *logger.Logger
	Metrics *metrics.SettlementMetrics
	Now     func() time.Time
}

type service struct {
	tx        txRunner
	repo      ledger.Repository
	allocator *allocation.Allocator
	outbox    outboxPublisher
	ids       idGenerator
	timeout   time.Duration
	logg      *logger.Logger
	metrics   *metrics.SettlementMetrics
	now       func() time.Time
}

// NewService builds the settlement service.
func NewService(
	tx txRunner,
	repo ledger.Repository,
	allocator *allocation.Allocator,
	publisher outboxPublisher,
	idgen idGenerator,
	opts Options,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if idgen == nil {
		return nil, fmt.Errorf("id generator required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:        tx,
		repo:      repo,
		allocator: allocator,
		outbox:    publisher,
		ids:       idgen,
		timeout:   opts.Timeout,
		logg:      opts.Logger,
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// itemPlan is the allocation for one merged line item together with the
// batches it was computed from.
type itemPlan struct {
	key      string
	quantity int
	plan     allocation.Plan
	batches  map[uuid.UUID]models.MedicineBatch
}

func (s *service) Settle(ctx context.Context, input SettleInput) (*SettleResult, error) {
	started := time.Now()
	if s.logg != nil {
		ctx = s.logg.WithBillID(ctx, input.BillID)
	}

	result, err := s.settle(ctx, input)
	units := 0
	if result != nil {
		for _, item := range result.Allocations {
			units += item.Quantity
		}
	}
	s.record(ctx, metrics.OperationSettle, started, units, err)
	if err == nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id": ids.FormatID(result.PaymentID),
			"units":      units,
		})
		s.logg.Info(logCtx, "settlement.completed")
	}
	return result, err
}

func (s *service) settle(ctx context.Context, input SettleInput) (*SettleResult, error) {
	items, card, err := validateSettleInput(input)
	if err != nil {
		return nil, err
	}

	txCtx, cancel := s.bound(ctx)
	defer cancel()

	var result *SettleResult
	err = s.tx.WithTx(txCtx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		bill, err := repo.FindBillForUpdate(txCtx, input.BillID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return reject(ReasonBillNotFound, fmt.Sprintf("bill %d does not exist", input.BillID), map[string]any{"billId": input.BillID})
			}
			return err
		}
		switch bill.Status {
		case enums.BillStatusPaid:
			return reject(ReasonBillAlreadyPaid, fmt.Sprintf("bill %d is already paid", bill.BillID), map[string]any{"billId": bill.BillID})
		case enums.BillStatusCancelled:
			return reject(ReasonBillCancelled, fmt.Sprintf("bill %d is cancelled and cannot be paid", bill.BillID), map[string]any{"billId": bill.BillID})
		default:
			if !bill.Status.Settleable() {
				return fmt.Errorf("bill %d has unrecognised status %q", bill.BillID, bill.Status)
			}
		}
		if !input.Amount.Equal(bill.TotalAmount) {
			return reject(ReasonAmountMismatch, "amount does not match the bill total", map[string]any{
				"billId":   bill.BillID,
				"expected": bill.TotalAmount.StringFixed(2),
				"received": input.Amount.String(),
			})
		}

		plans, err := s.planItems(txCtx, repo, items)
		if err != nil {
			return err
		}

		paidAt := s.now().UTC()
		patientID := input.PatientID
		if patientID == nil {
			patientID = bill.PatientID
		}
		payment := &models.Payment{
			PaymentID:     s.ids.Next(),
			BillID:        bill.BillID,
			PatientID:     patientID,
			Amount:        input.Amount,
			PaymentDate:   paidAt,
			PaymentMethod: input.PaymentMethod,
			Status:        enums.PaymentStatusCompleted,
		}
		if card != nil {
			cardType := card.CardType
			lastFour := card.LastFourDigits
			payment.CardType = &cardType
			payment.CardLastFour = &lastFour
		}
		if err := repo.CreatePayment(txCtx, payment); err != nil {
			return err
		}
		if err := repo.MarkBillPaid(txCtx, bill.BillID, paidAt); err != nil {
			return err
		}
		if err := applyPlans(txCtx, repo, plans); err != nil {
			return err
		}

		settled := payloads.PaymentSettledEvent{
			PaymentID:     ids.FormatID(payment.PaymentID),
			BillID:        bill.BillID,
			PatientID:     patientID,
			Amount:        payment.Amount,
			PaymentMethod: payment.PaymentMethod,
			PaidAt:        paidAt,
			Items:         make([]payloads.SettledItem, 0, len(plans)),
		}
		for _, item := range plans {
			settled.Items = append(settled.Items, payloads.SettledItem{
				MedicineKey: item.key,
				Quantity:    item.quantity,
				Allocations: toEventAllocations(item.plan),
			})
		}
		if err := s.outbox.Emit(txCtx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregateBill,
			AggregateID:   strconv.FormatInt(bill.BillID, 10),
			Data:          settled,
			Version:       1,
			OccurredAt:    paidAt,
		}); err != nil {
			return err
		}
		if err := s.emitDepleted(txCtx, tx, plans, paidAt); err != nil {
			return err
		}

		result = &SettleResult{
			PaymentID:   payment.PaymentID,
			BillID:      bill.BillID,
			PaidAt:      paidAt,
			Amount:      payment.Amount,
			Allocations: toItemAllocations(plans),
		}
		return nil
	})
	if err != nil {
		return nil, classify(txCtx, err)
	}
	return result, nil
}

func (s *service) Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	started := time.Now()
	key := models.MedicineKey(input.MedicineKey)
	if s.logg != nil {
		ctx = s.logg.WithMedicineKey(ctx, key)
	}

	result, err := s.purchase(ctx, key, input.Quantity)
	units := 0
	if result != nil {
		units = result.Quantity
	}
	s.record(ctx, metrics.OperationPurchase, started, units, err)
	if err == nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"units":       units,
			"total_price": result.TotalPrice.StringFixed(2),
		})
		s.logg.Info(logCtx, "purchase.completed")
	}
	return result, err
}

func (s *service) purchase(ctx context.Context, key string, quantity int) (*PurchaseResult, error) {
	if key == "" {
		return nil, validationError("medicineKey is required", "medicineKey")
	}
	if quantity < 1 {
		return nil, validationError("quantity must be at least 1", "quantity")
	}

	txCtx, cancel := s.bound(ctx)
	defer cancel()

	var result *PurchaseResult
	err := s.tx.WithTx(txCtx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		plans, err := s.planItems(txCtx, repo, []LineItem{{MedicineKey: key, Quantity: quantity}})
		if err != nil {
			return err
		}
		if err := applyPlans(txCtx, repo, plans); err != nil {
			return err
		}

		item := plans[0]
		total := decimal.Zero
		for _, entry := range item.plan {
			price := item.batches[entry.BatchID].Price
			total = total.Add(price.Mul(decimal.NewFromInt(int64(entry.Quantity))))
		}

		purchasedAt := s.now().UTC()
		if err := s.outbox.Emit(txCtx, tx, outbox.DomainEvent{
			EventType:     enums.EventMedicinePurchased,
			AggregateType: enums.AggregateMedicine,
			AggregateID:   key,
			Data: payloads.MedicinePurchasedEvent{
				MedicineKey: key,
				Quantity:    quantity,
				TotalPrice:  total,
				Allocations: toEventAllocations(item.plan),
				PurchasedAt: purchasedAt,
			},
			Version:    1,
			OccurredAt: purchasedAt,
		}); err != nil {
			return err
		}
		if err := s.emitDepleted(txCtx, tx, plans, purchasedAt); err != nil {
			return err
		}

		result = &PurchaseResult{
			MedicineKey: key,
			Quantity:    quantity,
			TotalPrice:  total,
			Allocations: toBatchAllocations(item.plan),
		}
		return nil
	})
	if err != nil {
		return nil, classify(txCtx, err)
	}
	return result, nil
}

// planItems locks and allocates every item in order. Nothing is written.
func (s *service) planItems(ctx context.Context, repo ledger.Repository, items []LineItem) ([]itemPlan, error) {
	plans := make([]itemPlan, 0, len(items))
	for _, item := range items {
		batches, err := repo.FindBatchesForUpdate(ctx, item.MedicineKey)
		if err != nil {
			return nil, err
		}
		if len(batches) == 0 {
			return nil, reject(ReasonMedicineNotFound, fmt.Sprintf("medicine %q does not exist", item.MedicineKey), map[string]any{"medicineKey": item.MedicineKey})
		}
		plan, err := s.allocator.Allocate(item.Quantity, batches)
		if err != nil {
			var insufficient *allocation.InsufficientStockError
			if errors.As(err, &insufficient) {
				return nil, reject(ReasonInsufficientStock, fmt.Sprintf("not enough stock for %q", item.MedicineKey), map[string]any{
					"medicineKey": item.MedicineKey,
					"requested":   insufficient.Requested,
					"available":   insufficient.Available,
				})
			}
			return nil, validationError(err.Error(), "quantity")
		}
		byID := make(map[uuid.UUID]models.MedicineBatch, len(batches))
		for _, batch := range batches {
			byID[batch.ID] = batch
		}
		plans = append(plans, itemPlan{key: item.MedicineKey, quantity: item.Quantity, plan: plan, batches: byID})
	}
	return plans, nil
}

func applyPlans(ctx context.Context, repo ledger.Repository, plans []itemPlan) error {
	for _, item := range plans {
		for _, entry := range item.plan {
			if err := repo.UpdateBatchStock(ctx, entry.BatchID, entry.StockBefore, entry.StockAfter); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) emitDepleted(ctx context.Context, tx *gorm.DB, plans []itemPlan, at time.Time) error {
	for _, item := range plans {
		for _, entry := range item.plan {
			if entry.StockAfter != 0 {
				continue
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventMedicineStockDepleted,
				AggregateType: enums.AggregateMedicineBatch,
				AggregateID:   entry.BatchID.String(),
				Data: payloads.MedicineStockDepletedEvent{
					BatchID:     entry.BatchID.String(),
					MedicineKey: item.key,
					Name:        item.batches[entry.BatchID].Name,
					DepletedAt:  at,
				},
				Version:    1,
				OccurredAt: at,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *service) record(ctx context.Context, operation string, started time.Time, units int, err error) {
	outcome := "success"
	if err != nil {
		reason := ReasonOf(err)
		outcome = reason.String()
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"operation": operation, "reason": outcome})
			if reason.Retryable() {
				s.logg.Error(logCtx, "settlement.failed", err)
			} else {
				s.logg.Warn(logCtx, "settlement.rejected")
			}
		}
	} else {
		s.metrics.AddAllocated(operation, units)
	}
	s.metrics.ObserveAttempt(operation, outcome, time.Since(started))
}

// validateSettleInput checks the request without touching the store and
// returns the merged line items in ascending key order. Card details are only
// returned for Card payments.
func validateSettleInput(input SettleInput) ([]LineItem, *CardDetails, error) {
	if input.BillID <= 0 {
		return nil, nil, validationError("billId must be a positive integer", "billId")
	}
	if !input.Amount.IsPositive() {
		return nil, nil, validationError("amount must be greater than zero", "amount")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, nil, validationError("paymentMethod must be one of Cash, Card, Online", "paymentMethod")
	}

	var card *CardDetails
	if input.PaymentMethod.RequiresCardDetails() {
		if input.CardDetails == nil || strings.TrimSpace(input.CardDetails.CardType) == "" {
			return nil, nil, validationError("cardDetails.cardType is required for Card payments", "cardDetails.cardType")
		}
		if !isFourDigits(input.CardDetails.LastFourDigits) {
			return nil, nil, validationError("cardDetails.lastFourDigits must be exactly 4 digits", "cardDetails.lastFourDigits")
		}
		card = &CardDetails{
			CardType:       strings.TrimSpace(input.CardDetails.CardType),
			LastFourDigits: input.CardDetails.LastFourDigits,
		}
	}

	merged := map[string]int{}
	for i, item := range input.LineItems {
		key := models.MedicineKey(item.MedicineKey)
		if key == "" {
			return nil, nil, validationError("medicineKey is required", fmt.Sprintf("lineItems[%d].medicineKey", i))
		}
		if item.Quantity < 1 {
			return nil, nil, validationError("quantity must be at least 1", fmt.Sprintf("lineItems[%d].quantity", i))
		}
		merged[key] += item.Quantity
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := make([]LineItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, LineItem{MedicineKey: key, Quantity: merged[key]})
	}
	return items, card, nil
}

func isFourDigits(value string) bool {
	if len(value) != 4 {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}

func validationError(message, field string) error {
	return reject(ReasonValidationFailed, message, map[string]any{"field": field})
}

func toItemAllocations(plans []itemPlan) []ItemAllocation {
	out := make([]ItemAllocation, 0, len(plans))
	for _, item := range plans {
		out = append(out, ItemAllocation{
			MedicineKey: item.key,
			Quantity:    item.quantity,
			Batches:     toBatchAllocations(item.plan),
		})
	}
	return out
}
