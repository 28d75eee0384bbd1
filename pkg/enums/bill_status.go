package enums

// BillStatus tracks the lifecycle of a patient bill. Pending moves to Paid
// exactly once and never back.
type BillStatus string

const (
	BillStatusPending   BillStatus = "Pending"
	BillStatusPaid      BillStatus = "Paid"
	BillStatusCancelled BillStatus = "Cancelled"
)

var billStatuses = []BillStatus{BillStatusPending, BillStatusPaid, BillStatusCancelled}

func (b BillStatus) String() string { return string(b) }

func (b BillStatus) IsValid() bool { return isOneOf(b, billStatuses) }

// Settleable reports whether a settlement may still move the bill to Paid.
func (b BillStatus) Settleable() bool { return b == BillStatusPending }

func ParseBillStatus(value string) (BillStatus, error) {
	return parse("bill status", value, billStatuses)
}
