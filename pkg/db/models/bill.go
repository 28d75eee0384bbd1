package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/medilink-backend/pkg/enums"
)

// Bill is a patient invoice. Its id is assigned by the billing workflow.
type Bill struct {
	BillID      int64            `gorm:"column:bill_id;primaryKey;autoIncrement:false"`
	PatientID   *int64           `gorm:"column:patient_id"`
	TotalAmount decimal.Decimal  `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Status      enums.BillStatus `gorm:"column:status;type:text;not null"`
	PaidAt      *time.Time       `gorm:"column:paid_at"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Bill) TableName() string { return "bills" }

// BeforeCreate defaults new bills to Pending.
func (b *Bill) BeforeCreate(tx *gorm.DB) error {
	if b.Status == "" {
		b.Status = enums.BillStatusPending
	}
	return nil
}
