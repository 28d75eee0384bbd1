package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medilink-backend/pkg/db/models"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
	"github.com/angelmondragon/medilink-backend/pkg/ids"
)

// BillView is the read model returned for a bill.
type BillView struct {
	BillID      int64            `json:"billId"`
	PatientID   *int64           `json:"patientId,omitempty"`
	TotalAmount decimal.Decimal  `json:"totalAmount"`
	Status      enums.BillStatus `json:"status"`
	PaidAt      *time.Time       `json:"paidAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// PaymentView is the read model returned for a payment. The id is a string so
// 64-bit values survive JSON clients.
type PaymentView struct {
	PaymentID     string              `json:"paymentId"`
	BillID        int64               `json:"billId"`
	PatientID     *int64              `json:"patientId,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	PaymentDate   time.Time           `json:"paymentDate"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod"`
	CardType      *string             `json:"cardType,omitempty"`
	CardLastFour  *string             `json:"cardLastFour,omitempty"`
	Status        enums.PaymentStatus `json:"status"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// BatchStock describes one batch inside a stock summary.
type BatchStock struct {
	ID           string               `json:"id"`
	Manufacturer string               `json:"manufacturer,omitempty"`
	Dosage       string               `json:"dosage,omitempty"`
	Price        decimal.Decimal      `json:"price"`
	Stock        int                  `json:"stock"`
	Status       enums.MedicineStatus `json:"status"`
	CreatedAt    time.Time            `json:"createdAt"`
}

// StockSummary aggregates every batch that shares a medicine key.
type StockSummary struct {
	MedicineKey string               `json:"medicineKey"`
	Name        string               `json:"name"`
	TotalStock  int                  `json:"totalStock"`
	Status      enums.MedicineStatus `json:"status"`
	Batches     []BatchStock         `json:"batches"`
}

func newBillView(bill models.Bill) BillView {
	return BillView{
		BillID:      bill.BillID,
		PatientID:   bill.PatientID,
		TotalAmount: bill.TotalAmount,
		Status:      bill.Status,
		PaidAt:      bill.PaidAt,
		CreatedAt:   bill.CreatedAt,
		UpdatedAt:   bill.UpdatedAt,
	}
}

func newPaymentView(payment models.Payment) PaymentView {
	return PaymentView{
		PaymentID:     ids.FormatID(payment.PaymentID),
		BillID:        payment.BillID,
		PatientID:     payment.PatientID,
		Amount:        payment.Amount,
		PaymentDate:   payment.PaymentDate,
		PaymentMethod: payment.PaymentMethod,
		CardType:      payment.CardType,
		CardLastFour:  payment.CardLastFour,
		Status:        payment.Status,
		CreatedAt:     payment.CreatedAt,
	}
}

func newStockSummary(key string, batches []models.MedicineBatch) StockSummary {
	summary := StockSummary{
		MedicineKey: key,
		Batches:     make([]BatchStock, 0, len(batches)),
	}
	for i, batch := range batches {
		if i == 0 {
			summary.Name = batch.Name
		}
		if batch.Stock > 0 {
			summary.TotalStock += batch.Stock
		}
		summary.Batches = append(summary.Batches, BatchStock{
			ID:           batch.ID.String(),
			Manufacturer: batch.Manufacturer,
			Dosage:       batch.Dosage,
			Price:        batch.Price,
			Stock:        batch.Stock,
			Status:       batch.Status,
			CreatedAt:    batch.CreatedAt,
		})
	}
	summary.Status = enums.MedicineStatusForStock(summary.TotalStock)
	return summary
}
