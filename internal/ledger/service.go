package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/medilink-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
)

// Service exposes read access to bills, payments and stock.
type Service interface {
	GetBill(ctx context.Context, billID int64) (*BillView, error)
	ListBillPayments(ctx context.Context, billID int64, limit int) ([]PaymentView, error)
	GetPayment(ctx context.Context, paymentID int64) (*PaymentView, error)
	StockSummary(ctx context.Context, medicineKey string) (*StockSummary, error)
}

// Page bounds for ListBillPayments.
const (
	DefaultPaymentsLimit = 20
	MaxPaymentsLimit     = 100
)

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetBill(ctx context.Context, billID int64) (*BillView, error) {
	if billID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billId must be a positive integer")
	}
	bill, err := s.repo.FindBill(ctx, billID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bill not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bill")
	}
	view := newBillView(*bill)
	return &view, nil
}

// ListBillPayments returns at most limit payments, newest first. A limit of
// zero or less means DefaultPaymentsLimit.
func (s *service) ListBillPayments(ctx context.Context, billID int64, limit int) ([]PaymentView, error) {
	if limit <= 0 {
		limit = DefaultPaymentsLimit
	}
	if limit > MaxPaymentsLimit {
		limit = MaxPaymentsLimit
	}
	if _, err := s.GetBill(ctx, billID); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPaymentsByBill(ctx, billID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	views := make([]PaymentView, 0, len(payments))
	for _, payment := range payments {
		views = append(views, newPaymentView(payment))
	}
	return views, nil
}

func (s *service) GetPayment(ctx context.Context, paymentID int64) (*PaymentView, error) {
	if paymentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paymentId must be a positive integer")
	}
	payment, err := s.repo.FindPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	view := newPaymentView(*payment)
	return &view, nil
}

func (s *service) StockSummary(ctx context.Context, medicineKey string) (*StockSummary, error) {
	key := models.MedicineKey(medicineKey)
	if strings.TrimSpace(key) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "medicineKey is required")
	}
	batches, err := s.repo.ListBatchesByKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list medicine batches")
	}
	if len(batches) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "medicine not found")
	}
	summary := newStockSummary(key, batches)
	return &summary, nil
}
