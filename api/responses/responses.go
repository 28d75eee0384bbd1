package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
	"github.com/angelmondragon/medilink-backend/pkg/types"
)

const (
	ActionCorrect  = "correct_and_resubmit"
	ActionResubmit = "resubmit"

	// HeaderRetryable mirrors the retryable flag of settlement failures.
	HeaderRetryable = "X-Retryable"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteJSON writes payload as is, without an envelope.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := typedError(err)
	meta := pkgerrors.MetadataFor(typed.Code())

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:    string(typed.Code()),
			Message: publicMessage(typed, meta),
		},
	}

	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	logFailure(ctx, logg, err, typed, meta.HTTPStatus)
	writeJSON(w, meta.HTTPStatus, payload)
}

// WriteSettlementFailure writes the rejection body of a settlement or
// purchase. The reason detail is lifted to the top level.
func WriteSettlementFailure(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, reason string, err error) {
	typed := typedError(err)
	meta := pkgerrors.MetadataFor(typed.Code())

	body := types.SettlementFailure{
		Success:   false,
		Message:   publicMessage(typed, meta),
		Reason:    reason,
		Retryable: meta.Retryable,
		Action:    ActionCorrect,
	}
	if meta.Retryable {
		body.Action = ActionResubmit
	}
	if meta.DetailsAllowed {
		body.Details = publicDetails(typed.Details())
	}

	if meta.Retryable {
		logFailure(ctx, logg, err, typed, meta.HTTPStatus)
	}
	w.Header().Set(HeaderRetryable, strconv.FormatBool(meta.Retryable))
	writeJSON(w, meta.HTTPStatus, body)
}

func typedError(err error) *pkgerrors.Error {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	return typed
}

func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	msg := meta.PublicMessage
	switch typed.Code() {
	case pkgerrors.CodeInternal:
		return msg
	}
	if m := typed.Message(); m != "" {
		msg = m
	}
	return msg
}

func publicDetails(details any) any {
	dm, ok := details.(map[string]any)
	if !ok {
		return details
	}
	out := make(map[string]any, len(dm))
	for k, v := range dm {
		if k == "reason" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// logFailure records rejected requests as warnings and server-side failures
// as errors, with any postgres diagnostics attached.
func logFailure(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error, status int) {
	if logg == nil {
		return
	}
	fields := pkgerrors.Dump(err).Fields()
	fields["status"] = status
	if dm, ok := typed.Details().(map[string]any); ok {
		if reason, ok := dm["reason"]; ok {
			fields["reason"] = reason
		}
	}
	ctx = logg.WithFields(ctx, fields)
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
