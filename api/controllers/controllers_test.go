package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medilink-backend/internal/ledger"
	"github.com/angelmondragon/medilink-backend/internal/settlement"
	"github.com/angelmondragon/medilink-backend/pkg/config"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
)

type stubSettlement struct {
	settleInput   *settlement.SettleInput
	purchaseInput *settlement.PurchaseInput
	settleResult  *settlement.SettleResult
	purchase      *settlement.PurchaseResult
	err           error
}

func (s *stubSettlement) Settle(_ context.Context, input settlement.SettleInput) (*settlement.SettleResult, error) {
	s.settleInput = &input
	return s.settleResult, s.err
}

func (s *stubSettlement) Purchase(_ context.Context, input settlement.PurchaseInput) (*settlement.PurchaseResult, error) {
	s.purchaseInput = &input
	return s.purchase, s.err
}

type stubLedger struct {
	ledger.Service
	bill      *ledger.BillView
	summary   *ledger.StockSummary
	err       error
	lastKey   string
	lastLimit int
}

func (s *stubLedger) ListBillPayments(_ context.Context, billID int64, limit int) ([]ledger.PaymentView, error) {
	s.lastLimit = limit
	return []ledger.PaymentView{{PaymentID: "42"}}, s.err
}

func (s *stubLedger) GetBill(_ context.Context, billID int64) (*ledger.BillView, error) {
	return s.bill, s.err
}

func (s *stubLedger) StockSummary(_ context.Context, key string) (*ledger.StockSummary, error) {
	s.lastKey = key
	return s.summary, s.err
}

func (s *stubLedger) GetPayment(_ context.Context, paymentID int64) (*ledger.PaymentView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.PaymentView{PaymentID: "42"}, nil
}

func serve(method, pattern, target, body string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, handler)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeMap(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestSettleBillSuccess(t *testing.T) {
	svc := &stubSettlement{settleResult: &settlement.SettleResult{PaymentID: 1234567890123, BillID: 501}}
	body := `{"billId":501,"amount":"250.00","paymentMethod":"Card","cardDetails":{"cardType":"Visa","lastFourDigits":"4242"},"lineItems":[{"medicineKey":"Amoxicillin","quantity":8},{"medId":"Zinc","quantity":1}]}`
	resp := serve(http.MethodPost, "/settlements", "/settlements", body, SettleBill(svc, nil))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	got := decodeMap(t, resp)
	if got["success"] != true || got["message"] != "Payment processed successfully" {
		t.Fatalf("unexpected body %v", got)
	}
	if got["paymentId"] != "1234567890123" || got["billId"] != float64(501) {
		t.Fatalf("unexpected ids %v", got)
	}

	in := svc.settleInput
	if in == nil || !in.Amount.Equal(decimal.RequireFromString("250")) || in.PaymentMethod != enums.PaymentMethodCard {
		t.Fatalf("unexpected input %+v", in)
	}
	if in.CardDetails == nil || in.CardDetails.LastFourDigits != "4242" {
		t.Fatalf("card details not mapped: %+v", in.CardDetails)
	}
	if len(in.LineItems) != 2 || in.LineItems[1].MedicineKey != "Zinc" {
		t.Fatalf("medId alias not mapped: %+v", in.LineItems)
	}
}

func TestSettleBillNumericMedID(t *testing.T) {
	svc := &stubSettlement{settleResult: &settlement.SettleResult{PaymentID: 7, BillID: 3}}
	body := `{"billId":3,"amount":"5.00","paymentMethod":"Cash","lineItems":[{"medId":42,"quantity":1},{"medId":"Zinc","quantity":2}]}`
	resp := serve(http.MethodPost, "/settlements", "/settlements", body, SettleBill(svc, nil))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	items := svc.settleInput.LineItems
	if len(items) != 2 || items[0].MedicineKey != "42" || items[1].MedicineKey != "Zinc" {
		t.Fatalf("unexpected line items %+v", items)
	}
}

func TestSettleBillRejectsBooleanMedID(t *testing.T) {
	svc := &stubSettlement{}
	body := `{"billId":3,"amount":"5.00","paymentMethod":"Cash","lineItems":[{"medId":true,"quantity":1}]}`
	resp := serve(http.MethodPost, "/settlements", "/settlements", body, SettleBill(svc, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.settleInput != nil {
		t.Fatal("service must not be called")
	}
}

func TestSettleBillNumericAmount(t *testing.T) {
	svc := &stubSettlement{settleResult: &settlement.SettleResult{PaymentID: 1, BillID: 2}}
	resp := serve(http.MethodPost, "/settlements", "/settlements", `{"billId":2,"amount":19.99,"paymentMethod":"Cash","lineItems":[]}`, SettleBill(svc, nil))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if !svc.settleInput.Amount.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("unexpected amount %s", svc.settleInput.Amount)
	}
}

func TestSettleBillValidationFailure(t *testing.T) {
	svc := &stubSettlement{}
	resp := serve(http.MethodPost, "/settlements", "/settlements", `{"billId":0,"amount":"1","paymentMethod":"Cheque"}`, SettleBill(svc, nil))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.settleInput != nil {
		t.Fatalf("service must not run for invalid payloads")
	}
	got := decodeMap(t, resp)
	if got["success"] != false || got["reason"] != "ValidationFailed" || got["action"] != "correct_and_resubmit" || got["retryable"] != false {
		t.Fatalf("unexpected failure body %v", got)
	}
	if resp.Header().Get("X-Retryable") != "false" {
		t.Fatalf("expected X-Retryable false")
	}
}

func TestSettleBillMapsReasons(t *testing.T) {
	cases := []struct {
		reason    string
		code      pkgerrors.Code
		status    int
		retryable string
	}{
		{"BillAlreadyPaid", pkgerrors.CodeConflict, http.StatusConflict, "false"},
		{"AmountMismatch", pkgerrors.CodeStateConflict, http.StatusUnprocessableEntity, "false"},
		{"BillNotFound", pkgerrors.CodeNotFound, http.StatusNotFound, "false"},
		{"ConcurrentModification", pkgerrors.CodeConcurrency, http.StatusConflict, "true"},
		{"StoreTimeout", pkgerrors.CodeTimeout, http.StatusGatewayTimeout, "true"},
		{"StoreUnavailable", pkgerrors.CodeDependency, http.StatusServiceUnavailable, "true"},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			err := pkgerrors.New(tc.code, "rejected").WithDetails(map[string]any{"reason": settlement.Reason(tc.reason)})
			svc := &stubSettlement{err: err}
			resp := serve(http.MethodPost, "/settlements", "/settlements", `{"billId":5,"amount":"1","paymentMethod":"Cash"}`, SettleBill(svc, nil))
			if resp.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.Code)
			}
			if resp.Header().Get("X-Retryable") != tc.retryable {
				t.Fatalf("expected X-Retryable %s got %q", tc.retryable, resp.Header().Get("X-Retryable"))
			}
			got := decodeMap(t, resp)
			if got["reason"] != tc.reason {
				t.Fatalf("expected reason %s got %v", tc.reason, got["reason"])
			}
			wantAction := "correct_and_resubmit"
			if tc.retryable == "true" {
				wantAction = "resubmit"
			}
			if got["action"] != wantAction {
				t.Fatalf("expected action %s got %v", wantAction, got["action"])
			}
		})
	}
}

func TestPurchaseMedicine(t *testing.T) {
	svc := &stubSettlement{purchase: &settlement.PurchaseResult{
		MedicineKey: "vitamin c",
		Quantity:    4,
		TotalPrice:  decimal.RequireFromString("7"),
		Allocations: []settlement.BatchAllocation{{BatchID: "b1", Quantity: 4, StockBefore: 5, StockAfter: 1}},
	}}
	resp := serve(http.MethodPost, "/medicines/{medicineKey}/purchase", "/medicines/Vitamin%20C/purchase", `{"quantity":4}`, PurchaseMedicine(svc, nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.purchaseInput == nil || svc.purchaseInput.MedicineKey != "Vitamin C" || svc.purchaseInput.Quantity != 4 {
		t.Fatalf("unexpected purchase input %+v", svc.purchaseInput)
	}
	got := decodeMap(t, resp)
	if got["message"] != "Purchase successful" || got["totalPrice"] != "7.00" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestPurchaseMedicineRejectsZeroQuantity(t *testing.T) {
	svc := &stubSettlement{}
	resp := serve(http.MethodPost, "/medicines/{medicineKey}/purchase", "/medicines/aspirin/purchase", `{"quantity":0}`, PurchaseMedicine(svc, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.purchaseInput != nil {
		t.Fatalf("service must not run")
	}
}

func TestMedicineStock(t *testing.T) {
	svc := &stubLedger{summary: &ledger.StockSummary{MedicineKey: "aspirin", TotalStock: 3, Status: enums.MedicineStatusAvailable}}
	resp := serve(http.MethodGet, "/medicines/{medicineKey}/stock", "/medicines/Aspirin/stock", "", MedicineStock(svc, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	data := decodeMap(t, resp)["data"].(map[string]any)
	if data["totalStock"] != float64(3) || svc.lastKey != "Aspirin" {
		t.Fatalf("unexpected summary %v key=%q", data, svc.lastKey)
	}
}

func TestGetBillHandlesErrors(t *testing.T) {
	resp := serve(http.MethodGet, "/bills/{billId}", "/bills/abc", "", GetBill(&stubLedger{}, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non numeric id got %d", resp.Code)
	}

	svc := &stubLedger{err: pkgerrors.New(pkgerrors.CodeNotFound, "bill not found")}
	resp = serve(http.MethodGet, "/bills/{billId}", "/bills/9", "", GetBill(svc, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}

	svc = &stubLedger{bill: &ledger.BillView{BillID: 9, Status: enums.BillStatusPaid}}
	resp = serve(http.MethodGet, "/bills/{billId}", "/bills/9", "", GetBill(svc, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	data := decodeMap(t, resp)["data"].(map[string]any)
	if data["status"] != "Paid" {
		t.Fatalf("unexpected bill %v", data)
	}
}

func TestGetPaymentParsesID(t *testing.T) {
	resp := serve(http.MethodGet, "/payments/{paymentId}", "/payments/-1", "", GetPayment(&stubLedger{}, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	resp = serve(http.MethodGet, "/payments/{paymentId}", "/payments/42", "", GetPayment(&stubLedger{}, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	resp := serve(http.MethodGet, "/ready", "/ready", "", HealthReady(cfg, ReadinessCheck{Name: "db", Pinger: stubPinger{}}, ReadinessCheck{Name: "redis"}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	resp = serve(http.MethodGet, "/ready", "/ready", "", HealthReady(cfg, ReadinessCheck{Name: "db", Pinger: stubPinger{err: errors.New("down")}}))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}

	resp = serve(http.MethodGet, "/live", "/live", "", HealthLive(cfg))
	if resp.Code != http.StatusOK || resp.Header().Get("X-MediLink-Env") != "test" {
		t.Fatalf("unexpected live response %d", resp.Code)
	}
}

func TestListBillPaymentsLimit(t *testing.T) {
	svc := &stubLedger{}
	resp := serve(http.MethodGet, "/bills/{billId}/payments", "/bills/7/payments", "", ListBillPayments(svc, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.lastLimit != ledger.DefaultPaymentsLimit {
		t.Fatalf("expected default limit, got %d", svc.lastLimit)
	}

	resp = serve(http.MethodGet, "/bills/{billId}/payments", "/bills/7/payments?limit=5", "", ListBillPayments(svc, nil))
	if resp.Code != http.StatusOK || svc.lastLimit != 5 {
		t.Fatalf("expected limit 5 honoured, code=%d limit=%d", resp.Code, svc.lastLimit)
	}

	for _, bad := range []string{"abc", "0", "101"} {
		resp = serve(http.MethodGet, "/bills/{billId}/payments", "/bills/7/payments?limit="+bad, "", ListBillPayments(svc, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400 got %d", bad, resp.Code)
		}
	}
}
