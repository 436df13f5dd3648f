package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-system/internal/model"
)

type rewardResponse struct {
	ID          int64  `json:"id"`
	ReferralID  int64  `json:"referral_id"`
	TriggerType string `json:"reward_type"`
	Value       int64  `json:"reward_value"`
	Unit        string `json:"reward_unit"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func newRewardResponse(e model.RewardEntry) rewardResponse {
	return rewardResponse{
		ID:          e.ID,
		ReferralID:  e.ReferralID,
		TriggerType: string(e.TriggerType),
		Value:       e.Value,
		Unit:        string(e.Unit),
		Status:      string(e.Status),
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

type rewardConfigRequest struct {
	TriggerType string `json:"reward_type" validate:"required,oneof=SIGNUP FIRST_ORDER"`
	Value       *int64 `json:"reward_value" validate:"required,gte=0"`
	Unit        string `json:"reward_unit" validate:"required,oneof=POINTS CASH"`
	Active      *bool  `json:"is_active"`
}

type rewardConfigResponse struct {
	ID          int64  `json:"id"`
	TriggerType string `json:"reward_type"`
	Value       int64  `json:"reward_value"`
	Unit        string `json:"reward_unit"`
	Active      bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
}

func newRewardConfigResponse(c model.RewardConfig) rewardConfigResponse {
	return rewardConfigResponse{
		ID:          c.ID,
		TriggerType: string(c.TriggerType),
		Value:       c.Value,
		Unit:        string(c.Unit),
		Active:      c.Active,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
}

type activeRequest struct {
	Active *bool `json:"is_active" validate:"required"`
}

// GetRewardSummary возвращает суммы вознаграждений текущего пользователя.
func (h *Handler) GetRewardSummary(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetRewardSummary(r.Context(), caller.UserID)
	if err != nil {
		h.fail(w, r, "get reward summary", err, zap.Int64("userID", caller.UserID))
		return
	}

	h.respond(w, r, http.StatusOK, summary)
}

// GetRewardHistory возвращает историю вознаграждений текущего пользователя, новые первыми.
func (h *Handler) GetRewardHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	history, err := h.service.GetRewardHistory(r.Context(), caller.UserID)
	if err != nil {
		h.fail(w, r, "get reward history", err, zap.Int64("userID", caller.UserID))
		return
	}

	resp := make([]rewardResponse, 0, len(history))
	for _, e := range history {
		resp = append(resp, newRewardResponse(e))
	}

	h.respond(w, r, http.StatusOK, resp)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, r, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// CreditReward зачисляет вознаграждение.
func (h *Handler) CreditReward(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	entry, err := h.service.CreditReward(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, "credit reward", err, zap.Int64("rewardID", id))
		return
	}

	h.respond(w, r, http.StatusOK, newRewardResponse(*entry))
}

// RevokeReward отменяет вознаграждение.
func (h *Handler) RevokeReward(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	entry, err := h.service.RevokeReward(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, "revoke reward", err, zap.Int64("rewardID", id))
		return
	}

	h.respond(w, r, http.StatusOK, newRewardResponse(*entry))
}

// ListRewardConfigs возвращает все правила начисления.
func (h *Handler) ListRewardConfigs(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	configs, err := h.service.ListRewardConfigs(r.Context(), caller)
	if err != nil {
		h.fail(w, r, "list reward configs", err)
		return
	}

	resp := make([]rewardConfigResponse, 0, len(configs))
	for _, c := range configs {
		resp = append(resp, newRewardConfigResponse(c))
	}

	h.respond(w, r, http.StatusOK, resp)
}

// CreateRewardConfig создаёт правило начисления. Без is_active правило создаётся активным.
func (h *Handler) CreateRewardConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req rewardConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := model.RewardConfig{
		TriggerType: model.TriggerType(req.TriggerType),
		Value:       *req.Value,
		Unit:        model.RewardUnit(req.Unit),
		Active:      req.Active == nil || *req.Active,
	}

	created, err := h.service.CreateRewardConfig(r.Context(), caller, cfg)
	if err != nil {
		h.fail(w, r, "create reward config", err)
		return
	}

	h.respond(w, r, http.StatusCreated, newRewardConfigResponse(*created))
}

// SetRewardConfigActive включает или выключает правило начисления.
func (h *Handler) SetRewardConfigActive(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req activeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.SetRewardConfigActive(r.Context(), caller, id, *req.Active); err != nil {
		h.fail(w, r, "set reward config active", err, zap.Int64("configID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
