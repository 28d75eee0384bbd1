package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medilink-backend/internal/settlement/allocation"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
	"github.com/angelmondragon/medilink-backend/pkg/outbox/payloads"
)

// CardDetails identifies the card used for a Card payment. The full number is
// never accepted.
type CardDetails struct {
	CardType       string
	LastFourDigits string
}

// LineItem requests quantity units of the medicine named by MedicineKey.
type LineItem struct {
	MedicineKey string
	Quantity    int
}

// SettleInput is one request to pay a bill and consume its medicines.
type SettleInput struct {
	BillID        int64
	PatientID     *int64
	Amount        decimal.Decimal
	PaymentMethod enums.PaymentMethod
	CardDetails   *CardDetails
	LineItems     []LineItem
}

// BatchAllocation is the stock drawn from one batch.
type BatchAllocation struct {
	BatchID     string `json:"batchId"`
	Quantity    int    `json:"quantity"`
	StockBefore int    `json:"stockBefore"`
	StockAfter  int    `json:"stockAfter"`
}

// ItemAllocation groups the batches used for one medicine.
type ItemAllocation struct {
	MedicineKey string            `json:"medicineKey"`
	Quantity    int               `json:"quantity"`
	Batches     []BatchAllocation `json:"batches"`
}

// SettleResult describes a committed settlement.
type SettleResult struct {
	PaymentID   int64
	BillID      int64
	PaidAt      time.Time
	Amount      decimal.Decimal
	Allocations []ItemAllocation
}

// PurchaseInput is a direct purchase outside of a bill.
type PurchaseInput struct {
	MedicineKey string
	Quantity    int
}

// PurchaseResult describes a committed purchase.
type PurchaseResult struct {
	MedicineKey string            `json:"medicineKey"`
	Quantity    int               `json:"quantity"`
	TotalPrice  decimal.Decimal   `json:"totalPrice"`
	Allocations []BatchAllocation `json:"allocations"`
}

func toBatchAllocations(plan allocation.Plan) []BatchAllocation {
	out := make([]BatchAllocation, 0, len(plan))
	for _, entry := range plan {
		out = append(out, BatchAllocation{
			BatchID:     entry.BatchID.String(),
			Quantity:    entry.Quantity,
			StockBefore: entry.StockBefore,
			StockAfter:  entry.StockAfter,
		})
	}
	return out
}

func toEventAllocations(plan allocation.Plan) []payloads.StockAllocation {
	out := make([]payloads.StockAllocation, 0, len(plan))
	for _, entry := range plan {
		out = append(out, payloads.StockAllocation{
			BatchID:     entry.BatchID.String(),
			Quantity:    entry.Quantity,
			StockBefore: entry.StockBefore,
			StockAfter:  entry.StockAfter,
		})
	}
	return out
}
