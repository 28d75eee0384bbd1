package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/medilink-backend/pkg/db/models"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrStaleWrite is returned when a conditional update matched no rows
	// because the record changed after it was read.
	ErrStaleWrite = errors.New("ledger: stale write")
)

// Repository manages persistence for bills, medicine batches and payments.
// Locking reads only hold their locks when called through WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindBillForUpdate(ctx context.Context, billID int64) (*models.Bill, error)
	FindBatchesForUpdate(ctx context.Context, medicineKey string) ([]models.MedicineBatch, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	MarkBillPaid(ctx context.Context, billID int64, paidAt time.Time) error
	UpdateBatchStock(ctx context.Context, batchID uuid.UUID, expectedStock, newStock int) error

	FindBill(ctx context.Context, billID int64) (*models.Bill, error)
	ListBatchesByKey(ctx context.Context, medicineKey string) ([]models.MedicineBatch, error)
	ListPaymentsByBill(ctx context.Context, billID int64, limit int) ([]models.Payment, error)
	FindPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBillForUpdate(ctx context.Context, billID int64) (*models.Bill, error) {
	var bill models.Bill
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("bill_id = ?", billID).
		First(&bill).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bill, nil
}

func (r *repository) FindBatchesForUpdate(ctx context.Context, medicineKey string) ([]models.MedicineBatch, error) {
	var batches []models.MedicineBatch
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("medicine_key = ?", medicineKey).
		Order("created_at ASC").
		Order("id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) MarkBillPaid(ctx context.Context, billID int64, paidAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Bill{}).
		Where("bill_id = ? AND status = ?", billID, enums.BillStatusPending).
		UpdateColumns(map[string]any{
			"status":     enums.BillStatusPaid,
			"paid_at":    paidAt,
			"updated_at": paidAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// UpdateBatchStock sets stock to newStock only if it still equals
// expectedStock. The status column is recomputed in the same statement.
func (r *repository) UpdateBatchStock(ctx context.Context, batchID uuid.UUID, expectedStock, newStock int) error {
	res := r.db.WithContext(ctx).
		Model(&models.MedicineBatch{}).
		Where("id = ? AND stock = ?", batchID, expectedStock).
		UpdateColumns(map[string]any{
			"stock":      newStock,
			"status":     enums.MedicineStatusForStock(newStock),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *repository) FindBill(ctx context.Context, billID int64) (*models.Bill, error) {
	var bill models.Bill
	if err := r.db.WithContext(ctx).Where("bill_id = ?", billID).First(&bill).Error; err != nil {
		return nil, translate(err)
	}
	return &bill, nil
}

func (r *repository) ListBatchesByKey(ctx context.Context, medicineKey string) ([]models.MedicineBatch, error) {
	var batches []models.MedicineBatch
	if err := r.db.WithContext(ctx).
		Where("medicine_key = ?", medicineKey).
		Order("created_at ASC").
		Order("id ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repository) ListPaymentsByBill(ctx context.Context, billID int64, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.db.WithContext(ctx).
		Where("bill_id = ?", billID).
		Order("created_at DESC").
		Order("payment_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) FindPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
