package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition возвращается при попытке недопустимой смены статуса вознаграждения.
var ErrInvalidTransition = errors.New("invalid reward status transition")

// TriggerType описывает событие, за которое начисляется вознаграждение.
type TriggerType string

const (
	TriggerSignup     TriggerType = "SIGNUP"
	TriggerFirstOrder TriggerType = "FIRST_ORDER"
)

// Valid сообщает, известен ли тип события.
func (t TriggerType) Valid() bool {
	return t == TriggerSignup || t == TriggerFirstOrder
}

// RewardUnit описывает единицу измерения вознаграждения.
type RewardUnit string

const (
	RewardUnitPoints RewardUnit = "POINTS"
	RewardUnitCash   RewardUnit = "CASH"
)

// Valid сообщает, известна ли единица измерения.
func (u RewardUnit) Valid() bool {
	return u == RewardUnitPoints || u == RewardUnitCash
}

// RewardConfig описывает правило начисления вознаграждения за событие.
type RewardConfig struct {
	ID          int64
	TriggerType TriggerType
	Value       int64
	Unit        RewardUnit
	Active      bool
	CreatedAt   time.Time
}

// RewardStatus описывает статус записи в журнале вознаграждений.
type RewardStatus string

const (
	RewardStatusPending  RewardStatus = "PENDING"
	RewardStatusCredited RewardStatus = "CREDITED"
	RewardStatusRevoked  RewardStatus = "REVOKED"
)

// Terminal сообщает, что из статуса нет переходов.
func (s RewardStatus) Terminal() bool {
	return s == RewardStatusCredited || s == RewardStatusRevoked
}

// CanTransitionTo разрешает только переходы PENDING → CREDITED и PENDING → REVOKED.
func (s RewardStatus) CanTransitionTo(next RewardStatus) bool {
	if s != RewardStatusPending {
		return false
	}
	return next == RewardStatusCredited || next == RewardStatusRevoked
}

// Transition проверяет переход и возвращает ошибку, оборачивающую ErrInvalidTransition.
func (s RewardStatus) Transition(next RewardStatus) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// RewardEntry описывает одну запись журнала вознаграждений.
// TriggerType, Value и Unit копируются из RewardConfig в момент создания.
type RewardEntry struct {
	ID            int64
	BeneficiaryID int64
	ReferralID    int64
	TriggerType   TriggerType
	Value         int64
	Unit          RewardUnit
	Status        RewardStatus
	CreatedAt     time.Time
}

// NewPendingReward создаёт запись в статусе PENDING по снимку правила начисления.
func NewPendingReward(beneficiaryID, referralID int64, cfg RewardConfig, now time.Time) RewardEntry {
	return RewardEntry{
		BeneficiaryID: beneficiaryID,
		ReferralID:    referralID,
		TriggerType:   cfg.TriggerType,
		Value:         cfg.Value,
		Unit:          cfg.Unit,
		Status:        RewardStatusPending,
		CreatedAt:     now,
	}
}

// RewardSummary содержит агрегаты вознаграждений пользователя.
type RewardSummary struct {
	TotalEarned int64      `json:"total_earned"`
	Pending     int64      `json:"pending"`
	Credited    int64      `json:"credited"`
	Unit        RewardUnit `json:"unit"`
}
