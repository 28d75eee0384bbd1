package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/medilink-backend/api/responses"
	"github.com/angelmondragon/medilink-backend/api/validators"
	"github.com/angelmondragon/medilink-backend/internal/settlement"
	"github.com/angelmondragon/medilink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/medilink-backend/pkg/errors"
	"github.com/angelmondragon/medilink-backend/pkg/ids"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
)

const maxCardTypeLen = 32

type settleRequest struct {
	BillID        int64             `json:"billId" validate:"required,gt=0"`
	PatientID     *int64            `json:"patientId,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	PaymentMethod string            `json:"paymentMethod" validate:"required,oneof=Cash Card Online"`
	CardDetails   *cardDetailsInput `json:"cardDetails,omitempty"`
	LineItems     []lineItemRequest `json:"lineItems" validate:"dive"`
}

type cardDetailsInput struct {
	CardType       string `json:"cardType"`
	LastFourDigits string `json:"lastFourDigits"`
}

// lineItemRequest accepts medId as an alias of medicineKey for older clients.
type lineItemRequest struct {
	MedicineKey string      `json:"medicineKey,omitempty"`
	MedID       medicineRef `json:"medId,omitempty"`
	Quantity    int         `json:"quantity" validate:"gt=0"`
}

// medicineRef is a medId sent either as a string or as a JSON number. Numbers
// are kept as their literal text and resolved like any other medicine key.
type medicineRef string

func (m *medicineRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*m = medicineRef(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err == nil {
		*m = medicineRef(number.String())
		return nil
	}
	return &json.UnmarshalTypeError{Value: "medId", Type: reflect.TypeOf(""), Field: "medId"}
}

func (r settleRequest) toInput() settlement.SettleInput {
	input := settlement.SettleInput{
		BillID:        r.BillID,
		PatientID:     r.PatientID,
		Amount:        r.Amount,
		PaymentMethod: enums.PaymentMethod(strings.TrimSpace(r.PaymentMethod)),
		LineItems:     make([]settlement.LineItem, 0, len(r.LineItems)),
	}
	if r.CardDetails != nil {
		input.CardDetails = &settlement.CardDetails{
			CardType:       validators.SanitizeString(r.CardDetails.CardType, maxCardTypeLen),
			LastFourDigits: strings.TrimSpace(r.CardDetails.LastFourDigits),
		}
	}
	for _, item := range r.LineItems {
		key := item.MedicineKey
		if strings.TrimSpace(key) == "" {
			key = string(item.MedID)
		}
		input.LineItems = append(input.LineItems, settlement.LineItem{MedicineKey: key, Quantity: item.Quantity})
	}
	return input
}

type settleResponse struct {
	Success     bool                        `json:"success"`
	Message     string                      `json:"message"`
	PaymentID   string                      `json:"paymentId"`
	BillID      int64                       `json:"billId"`
	Allocations []settlement.ItemAllocation `json:"allocations"`
}

// SettleBill pays a bill and consumes the medicines it lists in one
// transaction.
func SettleBill(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			writeSettlementError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "settlement service unavailable"))
			return
		}

		var payload settleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			writeSettlementError(ctx, logg, w, err)
			return
		}

		result, err := svc.Settle(ctx, payload.toInput())
		if err != nil {
			writeSettlementError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusCreated, settleResponse{
			Success:     true,
			Message:     "Payment processed successfully",
			PaymentID:   ids.FormatID(result.PaymentID),
			BillID:      result.BillID,
			Allocations: result.Allocations,
		})
	}
}

func writeSettlementError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	responses.WriteSettlementFailure(ctx, logg, w, settlement.ReasonOf(err).String(), err)
}
