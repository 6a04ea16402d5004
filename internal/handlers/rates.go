package handlers

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"strings"

	"pos/internal/logx"
	"pos/internal/middleware"
	"pos/internal/models"
	"pos/internal/money"
	"pos/internal/validator"
	"pos/internal/websocket"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const convertPlaces = 2

// defaultRate is served for a pair that has never been set. The rate of 1
// keeps POS price calculations total; clients tell it apart by IsDefault.
type defaultRate struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	IsDefault    bool            `json:"is_default"`
}

func (h *Handler) GetCurrentRate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pair, err := h.rates.ResolvePair(query.Get("from"), query.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok, err := h.rates.GetCurrent(r.Context(), pair)
	if err != nil {
		status, msg := rateErrorStatus(err)
		respondError(w, status, msg)
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, defaultRate{
			FromCurrency: pair.From,
			ToCurrency:   pair.To,
			Rate:         decimal.NewFromInt(1),
			IsDefault:    true,
		})
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handler) GetRateHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pair, err := h.rates.ResolvePair(query.Get("from"), query.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.rates.GetHistory(r.Context(), pair, parseInt(query.Get("limit"), 0))
	if err != nil {
		status, msg := rateErrorStatus(err)
		respondError(w, status, msg)
		return
	}
	if records == nil {
		records = []models.RateRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	records, err := h.rates.ListCurrent(r.Context())
	if err != nil {
		status, msg := rateErrorStatus(err)
		respondError(w, status, msg)
		return
	}
	if records == nil {
		records = []models.RateRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) ConvertAmount(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pair, err := h.rates.ResolvePair(query.Get("from"), query.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := money.ParseDecimal(query.Get("amount"))
	if err != nil || amount.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	rec, ok, err := h.rates.GetCurrent(r.Context(), pair)
	if err != nil {
		status, msg := rateErrorStatus(err)
		respondError(w, status, msg)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no rate set for "+pair.String())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"from_currency": pair.From,
		"to_currency":   pair.To,
		"amount":        amount,
		"rate":          rec.Rate,
		"converted":     money.Convert(amount, rec.Rate, convertPlaces),
		"rate_id":       rec.ID,
	})
}

type setRateRequest struct {
	FromCurrency string `json:"from_currency" validate:"omitempty,currency"`
	ToCurrency   string `json:"to_currency" validate:"omitempty,currency"`
	Rate         any    `json:"rate" validate:"required"`
}

// SetRate records a new active rate for the pair. Failures are answered with
// a plain-text body.
func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req setRateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	rate, err := money.ParseRate(req.Rate)
	if err != nil {
		http.Error(w, "invalid rate: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validator.Struct(req); err != nil {
		http.Error(w, "invalid payload: "+fieldSummary(err), http.StatusBadRequest)
		return
	}
	pair, err := h.rates.ResolvePair(req.FromCurrency, req.ToCurrency)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Header.Get("X-Idempotency-Key")
	if key != "" {
		key = actorID + ":" + key
		reserved, err := h.idem.TryReserve(r.Context(), key)
		if err != nil {
			logx.From(r.Context()).Error("idempotency reserve failed", zap.Error(err))
			http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
			return
		}
		if !reserved {
			http.Error(w, "duplicate request", http.StatusConflict)
			return
		}
	}

	rec, err := h.rates.SetRate(r.Context(), pair, rate, actorID)
	if err != nil {
		if key != "" {
			if relErr := h.idem.Release(r.Context(), key); relErr != nil {
				logx.From(r.Context()).Warn("idempotency release failed", zap.Error(relErr))
			}
		}
		status, msg := rateErrorStatus(err)
		http.Error(w, msg, status)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (h *Handler) WSRates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pair, err := h.rates.ResolvePair(query.Get("from"), query.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	websocket.ServeWS(w, r, h.hub, pair)
}

func fieldSummary(err error) string {
	fields := validator.FieldErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for _, field := range slices.Sorted(maps.Keys(fields)) {
		parts = append(parts, field+" "+fields[field])
	}
	return strings.Join(parts, ", ")
}
