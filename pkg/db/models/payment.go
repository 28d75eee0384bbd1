package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medilink-backend/pkg/enums"
)

// Payment records a completed settlement. At most one exists per bill.
type Payment struct {
	PaymentID     int64               `gorm:"column:payment_id;primaryKey;autoIncrement:false"`
	BillID        int64               `gorm:"column:bill_id;not null;uniqueIndex:ux_payments_bill_id"`
	PatientID     *int64              `gorm:"column:patient_id"`
	Amount        decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	PaymentDate   time.Time           `gorm:"column:payment_date;not null"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	CardType      *string             `gorm:"column:card_type;type:text"`
	CardLastFour  *string             `gorm:"column:card_last_four;type:text"`
	Status        enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (Payment) TableName() string { return "payments" }
