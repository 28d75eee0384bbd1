package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/medilink-backend/api/responses"
	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/medilink-backend/pkg/redis"
)

const (
	purchaseIdempotencyTTL   = 24 * time.Hour
	settlementIdempotencyTTL = 7 * 24 * time.Hour
	// pendingTTL bounds how long a crashed request can hold its key.
	pendingTTL = 2 * time.Minute

	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

const (
	recordPending   = "pending"
	recordCompleted = "completed"
)

// idempotencyRule matches request paths, not chi route patterns: the
// middleware is mounted on the /api/v1 group, where chi has not yet resolved
// the final route.
type idempotencyRule struct {
	method string
	match  func(segments []string) bool
	ttl    time.Duration
}

var idempotencyRules = []idempotencyRule{
	{
		// /api/v1/settlements
		method: http.MethodPost,
		match: func(seg []string) bool {
			return len(seg) == 3 && seg[0] == "api" && seg[1] == "v1" && seg[2] == "settlements"
		},
		ttl: settlementIdempotencyTTL,
	},
	{
		// /api/v1/medicines/{medicineKey}/purchase
		method: http.MethodPost,
		match: func(seg []string) bool {
			return len(seg) == 5 && seg[0] == "api" && seg[1] == "v1" && seg[2] == "medicines" &&
				seg[3] != "" && seg[4] == "purchase"
		},
		ttl: purchaseIdempotencyTTL,
	},
}

// Headers copied into a stored record and restored on replay.
var replayedHeaders = []string{"Content-Type", responses.HeaderRetryable}

type idempotencyRecord struct {
	State       string            `json:"state"`
	RequestHash string            `json:"request_hash"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the settlement and purchase routes. The key is reserved before the handler
// runs, so a concurrent duplicate gets a retryable conflict instead of a
// second execution. Requests without a key pass through untouched.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			clientKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
			if !ok || store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unable to read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(buildScope(r), clientKey)

			reserved, err := reserve(ctx, store, key, requestHash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayExisting(ctx, logg, w, store, key, requestHash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if !cacheable(rec) {
				if err := store.Del(ctx, key); err != nil {
					logError(ctx, logg, "release idempotency key", err)
				}
				return
			}
			if err := complete(ctx, store, key, requestHash, rec, ttl); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func reserve(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string) (bool, error) {
	payload, err := json.Marshal(idempotencyRecord{State: recordPending, RequestHash: requestHash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(payload), pendingTTL)
}

func complete(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string, rec *responseCapture, ttl time.Duration) error {
	record := idempotencyRecord{
		State:       recordCompleted,
		RequestHash: requestHash,
		Status:      defaultStatus(rec.status),
		Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
	}
	for _, name := range replayedHeaders {
		if v := rec.Header().Get(name); v != "" {
			if record.Headers == nil {
				record.Headers = map[string]string{}
			}
			record.Headers[name] = v
		}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload), ttl)
}

func replayExisting(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, requestHash string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Released between our reservation attempt and this read.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConcurrency, "request with this idempotency key is in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.State != recordCompleted {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConcurrency, "request with this idempotency key is in progress"))
		return
	}
	writeStoredResponse(w, record)
}

func buildScope(r *http.Request) string {
	return r.Method + "|" + r.URL.Path
}

// cacheable reports whether a response may be replayed. Server errors and
// responses marked retryable are never stored.
func cacheable(rec *responseCapture) bool {
	if defaultStatus(rec.status) >= http.StatusInternalServerError {
		return false
	}
	return rec.Header().Get(responses.HeaderRetryable) != "true"
}

func writeStoredResponse(w http.ResponseWriter, record idempotencyRecord) {
	for name, value := range record.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func routeTTL(method, path string) (time.Duration, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.match(segments) {
			return rule.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
