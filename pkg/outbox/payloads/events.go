package payloads

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medilink-backend/pkg/enums"
)

// StockAllocation describes how many units one batch supplied.
type StockAllocation struct {
	BatchID     string `json:"batch_id" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
	StockBefore int    `json:"stock_before"`
	StockAfter  int    `json:"stock_after"`
}

// SettledItem groups the allocations made for one medicine.
type SettledItem struct {
	MedicineKey string            `json:"medicine_key" validate:"required"`
	Quantity    int               `json:"quantity" validate:"gt=0"`
	Allocations []StockAllocation `json:"allocations" validate:"dive"`
}

// PaymentSettledEvent is emitted when a bill is paid and its stock consumed.
type PaymentSettledEvent struct {
	PaymentID     string              `json:"payment_id" validate:"required"`
	BillID        int64               `json:"bill_id" validate:"gt=0"`
	PatientID     *int64              `json:"patient_id,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	PaymentMethod enums.PaymentMethod `json:"payment_method" validate:"required"`
	PaidAt        time.Time           `json:"paid_at"`
	Items         []SettledItem       `json:"items" validate:"dive"`
}

// MedicinePurchasedEvent is emitted for a direct purchase outside billing.
type MedicinePurchasedEvent struct {
	MedicineKey string            `json:"medicine_key" validate:"required"`
	Quantity    int               `json:"quantity" validate:"gt=0"`
	TotalPrice  decimal.Decimal   `json:"total_price"`
	Allocations []StockAllocation `json:"allocations" validate:"dive"`
	PurchasedAt time.Time         `json:"purchased_at"`
}

// MedicineStockDepletedEvent is emitted when a batch reaches zero stock.
type MedicineStockDepletedEvent struct {
	BatchID     string    `json:"batch_id" validate:"required"`
	MedicineKey string    `json:"medicine_key" validate:"required"`
	Name        string    `json:"name"`
	DepletedAt  time.Time `json:"depleted_at"`
}
