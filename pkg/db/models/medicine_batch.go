package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/medilink-backend/pkg/enums"
)

// MedicineBatch is one stocked lot of a medicine. Lots sharing a MedicineKey
// are allocated together.
type MedicineBatch struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	MedicineKey  string               `gorm:"column:medicine_key;type:text;not null;index:idx_medicines_key_created,priority:1"`
	Name         string               `gorm:"column:name;type:text;not null"`
	GenericName  string               `gorm:"column:generic_name;type:text"`
	Manufacturer string               `gorm:"column:manufacturer;type:text"`
	Dosage       string               `gorm:"column:dosage;type:text"`
	Price        decimal.Decimal      `gorm:"column:price;type:numeric(12,2);not null"`
	Stock        int                  `gorm:"column:stock;not null;check:chk_medicines_stock_nonnegative,stock >= 0"`
	Status       enums.MedicineStatus `gorm:"column:status;type:text;not null"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime;index:idx_medicines_key_created,priority:2"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (MedicineBatch) TableName() string { return "medicines" }

// BeforeSave derives the grouping key and stock status.
func (m *MedicineBatch) BeforeSave(tx *gorm.DB) error {
	m.MedicineKey = MedicineKey(m.Name)
	m.Status = enums.MedicineStatusForStock(m.Stock)
	return nil
}

// BeforeCreate assigns an id when the caller did not.
func (m *MedicineBatch) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// MedicineKey normalizes a medicine name: trimmed, single-spaced, lower-cased.
func MedicineKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
