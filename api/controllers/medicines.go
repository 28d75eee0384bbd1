package controllers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/medilink-backend/api/responses"
	"github.com/angelmondragon/medilink-backend/api/validators"
	"github.com/angelmondragon/medilink-backend/internal/ledger"
	"github.com/angelmondragon/medilink-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
)

type purchaseRequest struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

type purchaseResponse struct {
	Success     bool                         `json:"success"`
	Message     string                       `json:"message"`
	MedicineKey string                       `json:"medicineKey"`
	Quantity    int                          `json:"quantity"`
	TotalPrice  string                       `json:"totalPrice"`
	Allocations []settlement.BatchAllocation `json:"allocations"`
}

// PurchaseMedicine sells stock of one medicine without a bill.
func PurchaseMedicine(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			writeSettlementError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "settlement service unavailable"))
			return
		}

		key, err := medicineKeyParam(r)
		if err != nil {
			writeSettlementError(ctx, logg, w, err)
			return
		}

		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			writeSettlementError(ctx, logg, w, err)
			return
		}

		result, err := svc.Purchase(ctx, settlement.PurchaseInput{MedicineKey: key, Quantity: payload.Quantity})
		if err != nil {
			writeSettlementError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, purchaseResponse{
			Success:     true,
			Message:     "Purchase successful",
			MedicineKey: result.MedicineKey,
			Quantity:    result.Quantity,
			TotalPrice:  result.TotalPrice.StringFixed(2),
			Allocations: result.Allocations,
		})
	}
}

// MedicineStock reports the combined stock of every batch of a medicine.
func MedicineStock(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "ledger service unavailable"))
			return
		}

		key, err := medicineKeyParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.StockSummary(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func medicineKeyParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "medicineKey")
	key, err := url.PathUnescape(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid medicine key").WithField("medicineKey")
	}
	return key, nil
}
