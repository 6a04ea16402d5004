package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pos/internal/middleware"
	"pos/internal/models"
	"pos/internal/store"
	"pos/internal/validator"

	"github.com/jmoiron/sqlx"
)

const maxAuditPage = 200

type repairRequest struct {
	FromCurrency string `json:"from_currency" validate:"required,currency"`
	ToCurrency   string `json:"to_currency" validate:"required,currency"`
}

func (h *Handler) RepairRate(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload: "+fieldSummary(err))
		return
	}
	pair := models.NewCurrencyPair(req.FromCurrency, req.ToCurrency)
	corrected, err := h.rates.RepairInvariant(r.Context(), pair)
	if err != nil {
		status, msg := rateErrorStatus(err)
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"from_currency": pair.From,
		"to_currency":   pair.To,
		"corrected":     corrected,
	})
}

func (h *Handler) RepairAllRates(w http.ResponseWriter, r *http.Request) {
	changed, err := h.rates.RepairAll(r.Context())
	if err != nil {
		status, msg := rateErrorStatus(err)
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"changed_rows": changed})
}

func (h *Handler) RateViolations(w http.ResponseWriter, r *http.Request) {
	violations, err := h.rates.Violations(r.Context())
	if err != nil {
		status, msg := rateErrorStatus(err)
		respondError(w, status, msg)
		return
	}
	if violations == nil {
		violations = []store.PairViolation{}
	}
	respondJSON(w, http.StatusOK, violations)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := min(parseInt(query.Get("limit"), 50), maxAuditPage)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	rows, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

type promoteRequest struct {
	Identifier string `json:"identifier" validate:"required"`
}

// PromoteAdmin makes a user a regular admin. The identifier is an email or a
// user id.
func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || validator.Struct(req) != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	var target models.User
	var err error
	if strings.Contains(req.Identifier, "@") {
		target, err = h.users.GetByEmail(r.Context(), req.Identifier)
	} else {
		target, err = h.users.GetByID(r.Context(), req.Identifier)
	}
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to resolve user")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.CreateAdmin(r.Context(), tx, target.ID, false, &userID); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"target_user_id": target.ID,
		})
		return h.audit.Log(r.Context(), tx, userID, store.ActionPromote, "admin", target.ID, string(data))
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to promote admin")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted", "user_id": target.ID})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=CanSetRates CanRepairRates CanViewAudit"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req grantRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload: "+fieldSummary(err))
		return
	}
	target, isAdmin, err := h.admin.Lookup(r.Context(), req.AdminUserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to verify target admin")
		return
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "target is not an admin")
		return
	}
	if target.IsSuper {
		respondError(w, http.StatusBadRequest, "cannot assign roles to super admin")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminUserID, req.Role); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"admin_user_id": req.AdminUserID,
			"role":          req.Role,
		})
		return h.audit.Log(r.Context(), tx, userID, store.ActionGrantRole, "admin_role", req.AdminUserID, string(data))
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to grant role")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "role_granted"})
}
