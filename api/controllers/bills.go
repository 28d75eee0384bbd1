package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/medilink-backend/api/responses"
	"github.com/angelmondragon/medilink-backend/api/validators"
	"github.com/angelmondragon/medilink-backend/internal/ledger"
	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
	"github.com/angelmondragon/medilink-backend/pkg/ids"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
)

func GetBill(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "ledger service unavailable"))
			return
		}
		billID, err := billIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bill, err := svc.GetBill(r.Context(), billID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bill)
	}
}

func ListBillPayments(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "ledger service unavailable"))
			return
		}
		billID, err := billIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", ledger.DefaultPaymentsLimit, 1, ledger.MaxPaymentsLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payments, err := svc.ListBillPayments(r.Context(), billID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payments)
	}
}

func GetPayment(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "ledger service unavailable"))
			return
		}
		paymentID, err := ids.ParseID(chi.URLParam(r, "paymentId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id").WithField("paymentId"))
			return
		}
		payment, err := svc.GetPayment(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

func billIDParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "billId"))
	billID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || billID <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "billId must be a positive integer").WithField("billId")
	}
	return billID, nil
}
