package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/medilink-backend/internal/ledger"
	"github.com/angelmondragon/medilink-backend/internal/settlement"
	"github.com/angelmondragon/medilink-backend/internal/settlement/allocation"
	"github.com/angelmondragon/medilink-backend/pkg/config"
	pkgdb "github.com/angelmondragon/medilink-backend/pkg/db"
	"github.com/angelmondragon/medilink-backend/pkg/db/models"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
	"github.com/angelmondragon/medilink-backend/pkg/ids"
	"github.com/angelmondragon/medilink-backend/pkg/metrics"
	"github.com/angelmondragon/medilink-backend/pkg/outbox"
	"github.com/angelmondragon/medilink-backend/pkg/redis"
)

type testServer struct {
	*httptest.Server
	db *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithStore(t, nil)
}

func newTestServerWithStore(t *testing.T, store Store) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:routes_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reg := prometheus.NewRegistry()
	gen, err := ids.NewGenerator(1)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	alloc, err := allocation.New(allocation.PolicyRetrieval)
	if err != nil {
		t.Fatalf("allocator: %v", err)
	}
	repo := ledger.NewRepository(conn)
	settleSvc, err := settlement.NewService(
		pkgdb.Wrap(conn),
		repo,
		alloc,
		outbox.NewService(outbox.NewRepository(conn), nil),
		gen,
		settlement.Options{Timeout: 5 * time.Second, Metrics: metrics.NewSettlementMetrics(reg)},
	)
	if err != nil {
		t.Fatalf("settlement service: %v", err)
	}
	ledgerSvc, err := ledger.NewService(repo)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}

	cfg := &config.Config{
		App:       config.AppConfig{Env: "test"},
		RateLimit: config.RateLimitConfig{Window: time.Minute, SettlementLimit: 10, PurchaseLimit: 10},
	}
	srv := httptest.NewServer(NewRouter(cfg, nil, pkgdb.Wrap(conn), store, reg, settleSvc, ledgerSvc))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, db: conn}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	return s.doWithHeaders(t, method, path, body, nil)
}

func (s *testServer) doWithHeaders(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var payload map[string]any
	_ = json.Unmarshal(raw, &payload)
	return resp, payload
}

func (s *testServer) seed(t *testing.T) {
	t.Helper()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	rows := []any{
		&models.Bill{BillID: 501, TotalAmount: decimal.RequireFromString("250.00"), Status: enums.BillStatusPending},
		&models.MedicineBatch{Name: "Amoxicillin", Stock: 5, Price: decimal.RequireFromString("10.00"), CreatedAt: base},
		&models.MedicineBatch{Name: "Amoxicillin", Stock: 10, Price: decimal.RequireFromString("12.00"), CreatedAt: base.Add(time.Hour)},
	}
	for _, row := range rows {
		if err := s.db.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestHealthRoutes(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, _ := srv.do(t, http.MethodGet, path, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.StatusCode)
		}
	}
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t)

	body := `{"billId":501,"amount":250.00,"paymentMethod":"Cash","lineItems":[{"medicineKey":"Amoxicillin","quantity":8}]}`
	resp, payload := srv.do(t, http.MethodPost, "/api/v1/settlements", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %v", resp.StatusCode, payload)
	}
	paymentID, _ := payload["paymentId"].(string)
	if paymentID == "" || payload["success"] != true {
		t.Fatalf("unexpected success payload %v", payload)
	}

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/settlements", body)
	if resp.StatusCode != http.StatusConflict || payload["reason"] != "BillAlreadyPaid" {
		t.Fatalf("expected BillAlreadyPaid 409 got %d %v", resp.StatusCode, payload)
	}
	if resp.Header.Get("X-Retryable") != "false" {
		t.Fatalf("expected X-Retryable false")
	}

	resp, payload = srv.do(t, http.MethodGet, "/api/v1/bills/501", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected bill 200 got %d", resp.StatusCode)
	}
	if payload["data"].(map[string]any)["status"] != "Paid" {
		t.Fatalf("expected paid bill %v", payload)
	}

	resp, payload = srv.do(t, http.MethodGet, "/api/v1/bills/501/payments", "")
	if resp.StatusCode != http.StatusOK || len(payload["data"].([]any)) != 1 {
		t.Fatalf("expected one payment got %d %v", resp.StatusCode, payload)
	}

	resp, payload = srv.do(t, http.MethodGet, "/api/v1/payments/"+paymentID, "")
	if resp.StatusCode != http.StatusOK || payload["data"].(map[string]any)["paymentId"] != paymentID {
		t.Fatalf("expected payment lookup got %d %v", resp.StatusCode, payload)
	}

	resp, payload = srv.do(t, http.MethodGet, "/api/v1/medicines/amoxicillin/stock", "")
	if resp.StatusCode != http.StatusOK || payload["data"].(map[string]any)["totalStock"] != float64(7) {
		t.Fatalf("expected 7 units left got %d %v", resp.StatusCode, payload)
	}
}

func TestSettlementRejectionsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t)

	resp, payload := srv.do(t, http.MethodPost, "/api/v1/settlements", `{"billId":501,"amount":"249.99","paymentMethod":"Cash","lineItems":[{"medicineKey":"Amoxicillin","quantity":8}]}`)
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["reason"] != "AmountMismatch" {
		t.Fatalf("expected AmountMismatch got %d %v", resp.StatusCode, payload)
	}

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/settlements", `{"billId":501,"amount":"250.00","paymentMethod":"Cash","lineItems":[{"medicineKey":"Amoxicillin","quantity":20}]}`)
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["reason"] != "InsufficientStock" {
		t.Fatalf("expected InsufficientStock got %d %v", resp.StatusCode, payload)
	}

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/settlements", `{"billId":501,"amount":"250.00","paymentMethod":"Card","cardDetails":{"cardType":"Visa","lastFourDigits":"12"}}`)
	if resp.StatusCode != http.StatusBadRequest || payload["reason"] != "ValidationFailed" {
		t.Fatalf("expected ValidationFailed got %d %v", resp.StatusCode, payload)
	}

	_, payload = srv.do(t, http.MethodGet, "/api/v1/medicines/amoxicillin/stock", "")
	if payload["data"].(map[string]any)["totalStock"] != float64(15) {
		t.Fatalf("rejections must leave stock untouched: %v", payload)
	}
}

func TestPurchaseOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t)

	resp, payload := srv.do(t, http.MethodPost, "/api/v1/medicines/Amoxicillin/purchase", `{"quantity":6}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d %v", resp.StatusCode, payload)
	}
	if payload["totalPrice"] != "62.00" || payload["medicineKey"] != "amoxicillin" {
		t.Fatalf("unexpected purchase payload %v", payload)
	}

	resp, payload = srv.do(t, http.MethodPost, "/api/v1/medicines/unknown/purchase", `{"quantity":1}`)
	if resp.StatusCode != http.StatusNotFound || payload["reason"] != "MedicineNotFound" {
		t.Fatalf("expected MedicineNotFound got %d %v", resp.StatusCode, payload)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t)
	srv.do(t, http.MethodPost, "/api/v1/settlements", `{"billId":999,"amount":"1","paymentMethod":"Cash"}`)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), "medilink_settlement_attempts_total") {
		t.Fatalf("expected settlement metrics exposed, got %s", raw)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := srv.do(t, http.MethodGet, "/api/v1/nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key], _ = value.(string)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

func (m *memoryStore) FixedWindowAllow(context.Context, string, int64, time.Duration) (redis.WindowResult, error) {
	return redis.WindowResult{Allowed: true, Count: 1, ResetIn: time.Minute}, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func TestIdempotentPurchaseOverHTTP(t *testing.T) {
	srv := newTestServerWithStore(t, newMemoryStore())
	srv.seed(t)
	keyed := map[string]string{"Idempotency-Key": "purchase-1"}

	first, firstPayload := srv.doWithHeaders(t, http.MethodPost, "/api/v1/medicines/Amoxicillin/purchase", `{"quantity":6}`, keyed)
	if first.StatusCode != http.StatusOK || first.Header.Get("Idempotent-Replayed") != "" {
		t.Fatalf("expected fresh 200, got %d %v", first.StatusCode, firstPayload)
	}
	second, secondPayload := srv.doWithHeaders(t, http.MethodPost, "/api/v1/medicines/Amoxicillin/purchase", `{"quantity":6}`, keyed)
	if second.StatusCode != http.StatusOK || second.Header.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed 200, got %d %v", second.StatusCode, secondPayload)
	}
	if secondPayload["totalPrice"] != firstPayload["totalPrice"] {
		t.Fatalf("replay should return the stored body: %v vs %v", secondPayload, firstPayload)
	}

	_, stock := srv.do(t, http.MethodGet, "/api/v1/medicines/amoxicillin/stock", "")
	if stock["data"].(map[string]any)["totalStock"] != float64(9) {
		t.Fatalf("stock must be decremented once: %v", stock)
	}

	reused, payload := srv.doWithHeaders(t, http.MethodPost, "/api/v1/medicines/Amoxicillin/purchase", `{"quantity":2}`, keyed)
	if reused.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d %v", reused.StatusCode, payload)
	}
}

func TestIdempotentSettlementOverHTTP(t *testing.T) {
	srv := newTestServerWithStore(t, newMemoryStore())
	srv.seed(t)
	keyed := map[string]string{"Idempotency-Key": "settle-501"}
	body := `{"billId":501,"amount":"250.00","paymentMethod":"Cash","lineItems":[{"medicineKey":"Amoxicillin","quantity":8}]}`

	for i := 0; i < 2; i++ {
		resp, payload := srv.doWithHeaders(t, http.MethodPost, "/api/v1/settlements", body, keyed)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d %v", i, resp.StatusCode, payload)
		}
		if i == 1 && resp.Header.Get("Idempotent-Replayed") != "true" {
			t.Fatalf("expected second attempt to be replayed")
		}
	}

	_, payload := srv.do(t, http.MethodGet, "/api/v1/bills/501/payments", "")
	if len(payload["data"].([]any)) != 1 {
		t.Fatalf("expected exactly one payment, got %v", payload)
	}
}
