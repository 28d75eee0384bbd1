package enums

// MedicineStatus is derived from a batch's stock level, never set directly.
type MedicineStatus string

const (
	MedicineStatusAvailable  MedicineStatus = "Available"
	MedicineStatusOutOfStock MedicineStatus = "Out of Stock"
)

var medicineStatuses = []MedicineStatus{MedicineStatusAvailable, MedicineStatusOutOfStock}

func (m MedicineStatus) String() string { return string(m) }

func (m MedicineStatus) IsValid() bool { return isOneOf(m, medicineStatuses) }

func ParseMedicineStatus(value string) (MedicineStatus, error) {
	return parse("medicine status", value, medicineStatuses)
}

// MedicineStatusForStock returns Out of Stock for an empty batch and Available otherwise.
func MedicineStatusForStock(stock int) MedicineStatus {
	if stock <= 0 {
		return MedicineStatusOutOfStock
	}
	return MedicineStatusAvailable
}
