package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeConcurrency, status: http.StatusConflict, publicMsg: "concurrent modification, nothing was applied", retryable: true, detailsOK: true},
		{code: CodeTimeout, status: http.StatusGatewayTimeout, publicMsg: "store timed out, nothing was applied", retryable: true, detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := fmt.Errorf("settle: %w", New(CodeNotFound, "bill 9 not found"))
	if got := As(err); got == nil || got.Code() != CodeNotFound {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeConcurrency, "bill row changed")) {
		t.Fatalf("concurrency errors should be retryable")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", New(CodeTimeout, "deadline"))) {
		t.Fatalf("wrapped timeout should be retryable")
	}
	if IsRetryable(New(CodeStateConflict, "amount mismatch")) {
		t.Fatalf("business errors should not be retryable")
	}
	if IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors should not be retryable")
	}
}

func TestDumpExtractsPostgresDiagnostics(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "payments_bill_id_key", TableName: "payments", Message: "duplicate key"}
	err := Wrap(CodeConflict, fmt.Errorf("insert payment: %w", pgErr), "payment exists")

	d := Dump(err)
	if d.Code != CodeConflict || d.PGCode != "23505" || d.PGConstraint != "payments_bill_id_key" {
		t.Fatalf("unexpected dump %+v", d)
	}
	fields := d.Fields()
	if fields["pg_table"] != "payments" || fields["error_code"] != string(CodeConflict) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["error_chain"]; !ok {
		t.Fatalf("expected chain for wrapped error")
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty diagnostics should be omitted")
	}

	pqDump := Dump(&pq.Error{Code: "40001", Message: "could not serialize access"})
	if pqDump.PGCode != "40001" {
		t.Fatalf("expected pq code, got %+v", pqDump)
	}
	if len(Dump(nil).Fields()) != 0 {
		t.Fatalf("nil error should dump nothing")
	}
}

func TestWithFieldMergesDetails(t *testing.T) {
	err := New(CodeValidation, "bad").WithDetails(map[string]any{"reason": "Validation"}).WithField("billId")
	details, ok := err.Details().(map[string]any)
	if !ok || details["field"] != "billId" || details["reason"] != "Validation" {
		t.Fatalf("unexpected details %v", err.Details())
	}
	if got := New(CodeValidation, "bad").WithDetails("raw").WithField("amount").Details().(map[string]any); got["field"] != "amount" {
		t.Fatalf("non-map details should be replaced, got %v", got)
	}
}

func TestNewfAndCodeOf(t *testing.T) {
	err := Newf(CodeNotFound, "bill %d not found", 42)
	if err.Message() != "bill 42 not found" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if CodeOf(fmt.Errorf("lookup: %w", err)) != CodeNotFound {
		t.Fatalf("CodeOf should unwrap")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("untyped errors map to internal")
	}
}
