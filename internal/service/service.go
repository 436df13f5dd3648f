// Package service реализует бизнес-логику реферальной системы.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/referral-system/internal/analytics"
	"github.com/mmeshcher/referral-system/internal/codegen"
	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/repository"
	"github.com/mmeshcher/referral-system/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCodeRequired возвращается, если реферальный код не передан.
	ErrCodeRequired = errors.New("referral code is required")
	// ErrMalformedCode возвращается, если код не соответствует формату генератора.
	ErrMalformedCode = errors.New("malformed referral code")
	// ErrForbidden возвращается при вызове административной операции без прав администратора.
	ErrForbidden = errors.New("admin privileges required")
	// ErrInvalidRewardConfig возвращается при некорректном правиле начисления.
	ErrInvalidRewardConfig = errors.New("invalid reward config")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, isAdmin bool) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetOrCreateReferral(ctx context.Context, ownerID int64, generate func() string) (*model.Referral, error)
	RedeemReferral(ctx context.Context, code string, redeemerID int64, trigger model.TriggerType) (*model.Referral, *model.RewardEntry, error)
	GetReferralsByOwner(ctx context.Context, ownerID int64) ([]model.Referral, error)
	CountReferralsByOwner(ctx context.Context, ownerID int64) (int64, int64, error)
	GetReferralTimeline(ctx context.Context, ownerID int64) ([]model.TimelinePoint, error)
	GetTopReferrers(ctx context.Context, limit int) ([]model.TopReferrer, error)
	ListRewardConfigs(ctx context.Context) ([]model.RewardConfig, error)
	CreateRewardConfig(ctx context.Context, cfg model.RewardConfig) (*model.RewardConfig, error)
	SetRewardConfigActive(ctx context.Context, id int64, active bool) error
	TransitionReward(ctx context.Context, id int64, to model.RewardStatus) (*model.RewardEntry, error)
	SumRewardsByStatus(ctx context.Context, beneficiaryID int64, status model.RewardStatus) (int64, error)
	GetRewardsByBeneficiary(ctx context.Context, beneficiaryID int64) ([]model.RewardEntry, error)
}

// Service содержит бизнес-логику реферальной системы.
type Service struct {
	repo        Repository
	logger      *zap.Logger
	adminLogins map[string]struct{}
	generate    func() string
}

// NewService создаёт сервис. Пользователи с логинами из adminLogins получают права администратора.
func NewService(repo Repository, logger *zap.Logger, adminLogins []string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	admins := make(map[string]struct{}, len(adminLogins))
	for _, login := range adminLogins {
		if login != "" {
			admins[login] = struct{}{}
		}
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		adminLogins: admins,
		generate:    codegen.Generate,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) isAdminLogin(login string) bool {
	_, ok := s.adminLogins[login]
	return ok
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (*model.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	admin := s.isAdminLogin(login)
	id, err := s.repo.CreateUser(ctx, login, hashed, admin)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, repository.ErrUserExists
		}
		return nil, err
	}

	return &model.User{ID: id, Login: login, IsAdmin: admin}, nil
}

// AuthenticateUser проверяет логин и пароль пользователя.
// Признак администратора выставляется по текущему списку adminLogins.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// Права определяются текущим списком администраторов, а не значением на момент регистрации.
	u.IsAdmin = s.isAdminLogin(login)
	return u, nil
}

// GenerateCode возвращает реферальный код пользователя, создавая его при первом обращении.
func (s *Service) GenerateCode(ctx context.Context, userID int64) (string, error) {
	ref, err := s.repo.GetOrCreateReferral(ctx, userID, s.generate)
	if err != nil {
		return "", err
	}

	s.logger.Info("referral code issued", zap.Int64("userID", userID), zap.String("code", ref.Code))
	return ref.Code, nil
}

// ApplyCode применяет чужой реферальный код. При наличии активного правила SIGNUP
// владельцу кода создаётся вознаграждение в статусе PENDING.
func (s *Service) ApplyCode(ctx context.Context, userID int64, code string) error {
	code = validation.NormalizeCode(code)
	if code == "" {
		return ErrCodeRequired
	}
	if !validation.IsValidReferralCode(code) {
		return ErrMalformedCode
	}

	ref, entry, err := s.repo.RedeemReferral(ctx, code, userID, model.TriggerSignup)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("code", ref.Code),
		zap.Int64("ownerID", ref.OwnerID),
		zap.Int64("redeemerID", userID),
	}
	if entry != nil {
		fields = append(fields,
			zap.Int64("rewardID", entry.ID),
			zap.Int64("rewardValue", entry.Value),
			zap.String("rewardUnit", string(entry.Unit)),
		)
	}
	s.logger.Info("referral applied", fields...)

	return nil
}

// GetSummary возвращает сводку по реферальному коду пользователя.
func (s *Service) GetSummary(ctx context.Context, userID int64) (*model.ReferralSummary, error) {
	total, successful, err := s.repo.CountReferralsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	refs, err := s.repo.GetReferralsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	var code string
	if len(refs) > 0 {
		code = refs[0].Code
	}

	summary := analytics.NewSummary(code, total, successful)
	return &summary, nil
}

// GetReferrals возвращает коды пользователя с их статусом.
func (s *Service) GetReferrals(ctx context.Context, userID int64) ([]model.Referral, error) {
	return s.repo.GetReferralsByOwner(ctx, userID)
}

// GetTimeline возвращает число созданных кодов пользователя по дням.
func (s *Service) GetTimeline(ctx context.Context, userID int64) ([]model.TimelinePoint, error) {
	return s.repo.GetReferralTimeline(ctx, userID)
}

// GetTopReferrers возвращает рейтинг владельцев по успешным приглашениям. Только для администраторов.
func (s *Service) GetTopReferrers(ctx context.Context, caller model.Caller, limit int) ([]model.TopReferrer, error) {
	if !caller.Admin {
		return nil, ErrForbidden
	}
	return s.repo.GetTopReferrers(ctx, limit)
}

// GetRewardSummary возвращает суммы вознаграждений пользователя.
// Единица измерения берётся из самой ранней записи, по умолчанию POINTS.
func (s *Service) GetRewardSummary(ctx context.Context, userID int64) (*model.RewardSummary, error) {
	pending, err := s.repo.SumRewardsByStatus(ctx, userID, model.RewardStatusPending)
	if err != nil {
		return nil, err
	}

	credited, err := s.repo.SumRewardsByStatus(ctx, userID, model.RewardStatusCredited)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.GetRewardsByBeneficiary(ctx, userID)
	if err != nil {
		return nil, err
	}

	unit := model.RewardUnitPoints
	if len(history) > 0 {
		unit = history[len(history)-1].Unit
	}

	return &model.RewardSummary{
		TotalEarned: pending + credited,
		Pending:     pending,
		Credited:    credited,
		Unit:        unit,
	}, nil
}

// GetRewardHistory возвращает историю вознаграждений пользователя, новые первыми.
func (s *Service) GetRewardHistory(ctx context.Context, userID int64) ([]model.RewardEntry, error) {
	return s.repo.GetRewardsByBeneficiary(ctx, userID)
}

// CreditReward зачисляет вознаграждение в статусе PENDING. Только для администраторов.
func (s *Service) CreditReward(ctx context.Context, caller model.Caller, rewardID int64) (*model.RewardEntry, error) {
	return s.transitionReward(ctx, caller, rewardID, model.RewardStatusCredited)
}

// RevokeReward отменяет вознаграждение в статусе PENDING. Только для администраторов.
func (s *Service) RevokeReward(ctx context.Context, caller model.Caller, rewardID int64) (*model.RewardEntry, error) {
	return s.transitionReward(ctx, caller, rewardID, model.RewardStatusRevoked)
}

func (s *Service) transitionReward(ctx context.Context, caller model.Caller, rewardID int64, to model.RewardStatus) (*model.RewardEntry, error) {
	if !caller.Admin {
		return nil, ErrForbidden
	}

	entry, err := s.repo.TransitionReward(ctx, rewardID, to)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reward status changed",
		zap.Int64("rewardID", entry.ID),
		zap.String("status", string(entry.Status)),
		zap.Int64("adminID", caller.UserID),
	)
	return entry, nil
}

// ListRewardConfigs возвращает все правила начисления. Только для администраторов.
func (s *Service) ListRewardConfigs(ctx context.Context, caller model.Caller) ([]model.RewardConfig, error) {
	if !caller.Admin {
		return nil, ErrForbidden
	}
	return s.repo.ListRewardConfigs(ctx)
}

// CreateRewardConfig создаёт правило начисления. Только для администраторов.
func (s *Service) CreateRewardConfig(ctx context.Context, caller model.Caller, cfg model.RewardConfig) (*model.RewardConfig, error) {
	if !caller.Admin {
		return nil, ErrForbidden
	}
	if !cfg.TriggerType.Valid() || !cfg.Unit.Valid() || cfg.Value < 0 {
		return nil, ErrInvalidRewardConfig
	}

	created, err := s.repo.CreateRewardConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reward config created",
		zap.Int64("configID", created.ID),
		zap.String("trigger", string(created.TriggerType)),
		zap.Bool("active", created.Active),
		zap.Int64("adminID", caller.UserID),
	)
	return created, nil
}

// SetRewardConfigActive включает или выключает правило начисления. Только для администраторов.
func (s *Service) SetRewardConfigActive(ctx context.Context, caller model.Caller, id int64, active bool) error {
	if !caller.Admin {
		return ErrForbidden
	}

	if err := s.repo.SetRewardConfigActive(ctx, id, active); err != nil {
		return err
	}

	s.logger.Info("reward config toggled",
		zap.Int64("configID", id),
		zap.Bool("active", active),
		zap.Int64("adminID", caller.UserID),
	)
	return nil
}
