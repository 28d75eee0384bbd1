package enums

// PaymentMethod is the tender used to settle a bill.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "Cash"
	PaymentMethodCard   PaymentMethod = "Card"
	PaymentMethodOnline PaymentMethod = "Online"
)

var paymentMethods = []PaymentMethod{PaymentMethodCash, PaymentMethodCard, PaymentMethodOnline}

func (p PaymentMethod) String() string { return string(p) }

func (p PaymentMethod) IsValid() bool { return isOneOf(p, paymentMethods) }

// RequiresCardDetails reports whether a card type and last four digits must
// accompany the payment.
func (p PaymentMethod) RequiresCardDetails() bool { return p == PaymentMethodCard }

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return parse("payment method", value, paymentMethods)
}

// PaymentStatus of a persisted payment. Settlement only ever writes
// Completed: a payment row exists only once the whole settlement commits.
type PaymentStatus string

const PaymentStatusCompleted PaymentStatus = "Completed"

var paymentStatuses = []PaymentStatus{PaymentStatusCompleted}

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool { return isOneOf(p, paymentStatuses) }

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parse("payment status", value, paymentStatuses)
}
