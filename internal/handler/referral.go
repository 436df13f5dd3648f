package handler

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/referral-system/internal/model"
)

const dateLayout = "2006-01-02"

type codeResponse struct {
	Code string `json:"referral_code"`
}

type applyRequest struct {
	Code string `json:"referral_code"`
}

type referralResponse struct {
	Code       string  `json:"referral_code"`
	Redeemed   bool    `json:"redeemed"`
	RedeemedAt *string `json:"referral_used_at"`
	Status     string  `json:"status"`
}

type timelineResponse struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type topReferrerResponse struct {
	OwnerID             int64  `json:"referred_by"`
	Login               string `json:"login"`
	SuccessfulReferrals int64  `json:"successful_referrals"`
}

// GenerateCode выдаёт реферальный код текущему пользователю; повторный вызов возвращает тот же код.
func (h *Handler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	code, err := h.service.GenerateCode(r.Context(), caller.UserID)
	if err != nil {
		h.fail(w, r, "generate code", err, zap.Int64("userID", caller.UserID))
		return
	}

	h.respond(w, r, http.StatusOK, codeResponse{Code: code})
}

// ApplyCode применяет чужой реферальный код от имени текущего пользователя.
func (h *Handler) ApplyCode(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req applyRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ApplyCode(r.Context(), caller.UserID, req.Code); err != nil {
		h.fail(w, r, "apply code", err, zap.Int64("userID", caller.UserID))
		return
	}

	h.respond(w, r, http.StatusOK, messageResponse{Message: "Referral applied successfully"})
}

// GetSummary возвращает сводку по кодам текущего пользователя.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetSummary(r.Context(), caller.UserID)
	if err != nil {
		h.fail(w, r, "get summary", err, zap.Int64("userID", caller.UserID))
		return
	}

	h.respond(w, r, http.StatusOK, summary)
}

// GetReferrals возвращает коды текущего пользователя и их статус.
// Идентификатор использовавшего код пользователя наружу не отдаётся.
func (h *Handler) GetReferrals(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	refs, err := h.service.GetReferrals(r.Context(), caller.UserID)
	if err != nil {
		h.fail(w, r, "get referrals", err, zap.Int64("userID", caller.UserID))
		return
	}

	resp := make([]referralResponse, 0, len(refs))
	for _, ref := range refs {
		item := referralResponse{
			Code:     ref.Code,
			Redeemed: ref.Redeemed(),
			Status:   string(ref.Status()),
		}
		if ref.RedeemedAt != nil {
			at := ref.RedeemedAt.Format(time.RFC3339)
			item.RedeemedAt = &at
		}
		resp = append(resp, item)
	}

	h.respond(w, r, http.StatusOK, resp)
}

// GetTimeline возвращает число созданных кодов текущего пользователя по дням.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	points, err := h.service.GetTimeline(r.Context(), caller.UserID)
	if err != nil {
		h.fail(w, r, "get timeline", err, zap.Int64("userID", caller.UserID))
		return
	}

	resp := make([]timelineResponse, 0, len(points))
	for _, p := range points {
		resp = append(resp, timelineResponse{Date: p.Date.Format(dateLayout), Count: p.Count})
	}

	h.respond(w, r, http.StatusOK, resp)
}

// GetTopReferrers возвращает рейтинг владельцев кодов. Параметр limit необязателен.
func (h *Handler) GetTopReferrers(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	top, err := h.service.GetTopReferrers(r.Context(), caller, limit)
	if err != nil {
		h.fail(w, r, "get top referrers", err)
		return
	}

	h.respond(w, r, http.StatusOK, topReferrers(top))
}

func topReferrers(top []model.TopReferrer) []topReferrerResponse {
	resp := make([]topReferrerResponse, 0, len(top))
	for _, t := range top {
		resp = append(resp, topReferrerResponse{
			OwnerID:             t.OwnerID,
			Login:               t.Login,
			SuccessfulReferrals: t.SuccessfulReferrals,
		})
	}
	return resp
}
