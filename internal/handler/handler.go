// Package handler содержит HTTP-обработчики API реферального сервиса.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-system/internal/middleware"
	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/repository"
	"github.com/mmeshcher/referral-system/internal/service"
	"github.com/mmeshcher/referral-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)

	GenerateCode(ctx context.Context, userID int64) (string, error)
	ApplyCode(ctx context.Context, userID int64, code string) error
	GetSummary(ctx context.Context, userID int64) (*model.ReferralSummary, error)
	GetReferrals(ctx context.Context, userID int64) ([]model.Referral, error)
	GetTimeline(ctx context.Context, userID int64) ([]model.TimelinePoint, error)
	GetTopReferrers(ctx context.Context, caller model.Caller, limit int) ([]model.TopReferrer, error)

	GetRewardSummary(ctx context.Context, userID int64) (*model.RewardSummary, error)
	GetRewardHistory(ctx context.Context, userID int64) ([]model.RewardEntry, error)
	CreditReward(ctx context.Context, caller model.Caller, rewardID int64) (*model.RewardEntry, error)
	RevokeReward(ctx context.Context, caller model.Caller, rewardID int64) (*model.RewardEntry, error)

	ListRewardConfigs(ctx context.Context, caller model.Caller) ([]model.RewardConfig, error)
	CreateRewardConfig(ctx context.Context, caller model.Caller, cfg model.RewardConfig) (*model.RewardConfig, error)
	SetRewardConfigActive(ctx context.Context, caller model.Caller, id int64, active bool) error
}

// Handler реализует HTTP-обработчики API реферального сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.respond(w, r, status, errorResponse{Error: msg})
}

// statusFor сопоставляет доменную ошибку с HTTP-статусом. Для неизвестных ошибок возвращает 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrCodeRequired),
		errors.Is(err, service.ErrMalformedCode),
		errors.Is(err, service.ErrInvalidRewardConfig):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, repository.ErrUserNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrReferralNotFound),
		errors.Is(err, repository.ErrRewardNotFound),
		errors.Is(err, repository.ErrRewardConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrAlreadyRedeemed),
		errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, repository.ErrSelfReferral):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail пишет ответ об ошибке; непредвиденные ошибки журналируются и скрываются от клиента.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		h.respondError(w, r, status, http.StatusText(status))
		return
	}
	h.respondError(w, r, status, err.Error())
}

// decode читает JSON-тело запроса и проверяет его теги validate.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validation.Struct(v); err != nil {
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (model.Caller, bool) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}
	return caller, ok
}

type credentialsRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.fail(w, r, "register user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, model.Caller{UserID: u.ID, Admin: u.IsAdmin})
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.fail(w, r, "login user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, model.Caller{UserID: u.ID, Admin: u.IsAdmin})
	w.WriteHeader(http.StatusOK)
}
