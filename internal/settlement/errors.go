package settlement

import (
	"context"
	"errors"

	"github.com/angelmondragon/medilink-backend/internal/ledger"
	pkgdb "github.com/angelmondragon/medilink-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
)

// Reason names why a settlement or purchase did not commit.
type Reason string

const (
	ReasonValidationFailed       Reason = "ValidationFailed"
	ReasonBillNotFound           Reason = "BillNotFound"
	ReasonBillAlreadyPaid        Reason = "BillAlreadyPaid"
	ReasonBillCancelled          Reason = "BillCancelled"
	ReasonAmountMismatch         Reason = "AmountMismatch"
	ReasonMedicineNotFound       Reason = "MedicineNotFound"
	ReasonInsufficientStock      Reason = "InsufficientStock"
	ReasonConcurrentModification Reason = "ConcurrentModification"
	ReasonStoreTimeout           Reason = "StoreTimeout"
	ReasonStoreUnavailable       Reason = "StoreUnavailable"
)

const detailReason = "reason"

var codeByReason = map[Reason]pkgerrors.Code{
	ReasonValidationFailed:       pkgerrors.CodeValidation,
	ReasonBillNotFound:           pkgerrors.CodeNotFound,
	ReasonMedicineNotFound:       pkgerrors.CodeNotFound,
	ReasonBillAlreadyPaid:        pkgerrors.CodeConflict,
	ReasonAmountMismatch:         pkgerrors.CodeStateConflict,
	ReasonInsufficientStock:      pkgerrors.CodeStateConflict,
	ReasonBillCancelled:          pkgerrors.CodeStateConflict,
	ReasonConcurrentModification: pkgerrors.CodeConcurrency,
	ReasonStoreTimeout:           pkgerrors.CodeTimeout,
	ReasonStoreUnavailable:       pkgerrors.CodeDependency,
}

// Code returns the error code the reason is reported with.
func (r Reason) Code() pkgerrors.Code {
	if code, ok := codeByReason[r]; ok {
		return code
	}
	return pkgerrors.CodeInternal
}

// Retryable reports whether an identical resubmission may succeed.
func (r Reason) Retryable() bool {
	return pkgerrors.MetadataFor(r.Code()).Retryable
}

func (r Reason) String() string {
	return string(r)
}

// reject builds a typed error for reason. Extra detail pairs are merged into
// the details map next to the reason.
func reject(reason Reason, message string, details map[string]any) *pkgerrors.Error {
	merged := map[string]any{detailReason: reason}
	for k, v := range details {
		merged[k] = v
	}
	return pkgerrors.New(reason.Code(), message).WithDetails(merged)
}

func rejectWrap(reason Reason, cause error, message string) *pkgerrors.Error {
	return pkgerrors.Wrap(reason.Code(), cause, message).WithDetails(map[string]any{detailReason: reason})
}

// ReasonOf extracts the reason carried by err. Errors that did not come from
// this package report StoreUnavailable, or ValidationFailed for validation
// codes.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return ReasonStoreUnavailable
	}
	if details, ok := typed.Details().(map[string]any); ok {
		if reason, ok := details[detailReason].(Reason); ok {
			return reason
		}
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation:
		return ReasonValidationFailed
	case pkgerrors.CodeConcurrency:
		return ReasonConcurrentModification
	case pkgerrors.CodeTimeout:
		return ReasonStoreTimeout
	default:
		return ReasonStoreUnavailable
	}
}

// classify maps an error escaping the transaction to a typed error. Typed
// errors raised inside the transaction pass through unchanged.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	switch {
	case errors.Is(err, ledger.ErrStaleWrite),
		pkgdb.IsSerializationFailure(err),
		pkgdb.IsUniqueViolation(err, "ux_payments_bill_id"),
		pkgdb.IsUniqueViolation(err, "payments.bill_id"):
		return rejectWrap(ReasonConcurrentModification, err, "the bill or its stock changed concurrently; nothing was applied, resubmit the same request")
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		pkgdb.IsLockTimeout(err):
		return rejectWrap(ReasonStoreTimeout, err, "the store did not respond in time; nothing was applied, resubmit the same request")
	default:
		return rejectWrap(ReasonStoreUnavailable, err, "the store is unavailable; nothing was applied, resubmit the same request later")
	}
}
