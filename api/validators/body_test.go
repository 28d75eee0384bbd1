package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
)

type sampleRequest struct {
	Method   string `json:"paymentMethod" validate:"required,oneof=Cash Card Online"`
	Quantity int    `json:"quantity" validate:"gt=0"`
	Digits   string `json:"lastFourDigits" validate:"omitempty,len=4,numeric"`
}

func decode(t *testing.T, body string) (*sampleRequest, error) {
	t.Helper()
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	var dest sampleRequest
	err := DecodeJSONBody(req, &dest)
	return &dest, err
}

func TestDecodeJSONBodyValid(t *testing.T) {
	got, err := decode(t, `{"paymentMethod":"Card","quantity":2,"lastFourDigits":"4242"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Method != "Card" || got.Quantity != 2 {
		t.Fatalf("unexpected decode %+v", got)
	}
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	_, err := decode(t, `{"paymentMethod":"Cheque","quantity":0,"lastFourDigits":"12a"}`)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details got %T", typed.Details())
	}
	if details["paymentMethod"] != "must be one of Cash, Card, Online" {
		t.Fatalf("unexpected paymentMethod message %q", details["paymentMethod"])
	}
	if details["quantity"] != "must be greater than 0" {
		t.Fatalf("unexpected quantity message %q", details["quantity"])
	}
	if details["lastFourDigits"] != "must be exactly 4 characters" {
		t.Fatalf("unexpected digits message %q", details["lastFourDigits"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	_, err := decode(t, `{"paymentMethod":"Cash","quantity":1,"extra":true}`)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for unknown field, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsEmptyAndTrailingBodies(t *testing.T) {
	_, err := decode(t, ``)
	if typed := pkgerrors.As(err); typed == nil || typed.Message() != "request body is empty" {
		t.Fatalf("expected empty body error, got %v", err)
	}
	_, err = decode(t, `{"paymentMethod":"Cash","quantity":1}{"paymentMethod":"Cash","quantity":1}`)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for trailing object, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	padding := strings.Repeat(" ", int(MaxBodyBytes))
	_, err := decode(t, `{"paymentMethod":"Cash",`+padding+`"quantity":1}`)
	typed := pkgerrors.As(err)
	if typed == nil || !strings.Contains(typed.Message(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestDecodeJSONBodyReportsTypeMismatchField(t *testing.T) {
	_, err := decode(t, `{"paymentMethod":"Cash","quantity":"two"}`)
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok || details["quantity"] != "must be a int" {
		t.Fatalf("unexpected details %v", typed.Details())
	}
}

type nestedRequest struct {
	Items []struct {
		Quantity int `json:"quantity" validate:"gt=0"`
	} `json:"lineItems" validate:"dive"`
}

func TestDecodeJSONBodyNamesNestedFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"lineItems":[{"quantity":1},{"quantity":0}]}`))
	var dest nestedRequest
	typed := pkgerrors.As(DecodeJSONBody(req, &dest))
	if typed == nil {
		t.Fatalf("expected validation error")
	}
	details := typed.Details().(map[string]string)
	if details["lineItems[1].quantity"] != "must be greater than 0" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=7&bad=x&big=500", nil)
	if v, err := ParseQueryInt(req, "limit", 10, 1, 100); err != nil || v != 7 {
		t.Fatalf("expected 7 got %d %v", v, err)
	}
	if v, err := ParseQueryInt(req, "missing", 10, 1, 100); err != nil || v != 10 {
		t.Fatalf("expected default got %d %v", v, err)
	}
	if _, err := ParseQueryInt(req, "bad", 10, 1, 100); err == nil {
		t.Fatalf("expected error for non numeric")
	}
	if _, err := ParseQueryInt(req, "big", 10, 1, 100); err == nil {
		t.Fatalf("expected error for out of range")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  Visa Platinum ", 4); got != "Visa" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeString(" x ", 0); got != "x" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeString("Mäster\x00card", 5); got != "Mäste" {
		t.Fatalf("expected rune-safe truncation without control chars, got %q", got)
	}
}
