// Package model содержит доменные сущности реферальной системы.
package model

import "time"

// User представляет зарегистрированного пользователя.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	IsAdmin      bool
	CreatedAt    time.Time
}

// Caller описывает пользователя, от имени которого выполняется операция.
type Caller struct {
	UserID int64
	Admin  bool
}

// ReferralStatus описывает состояние реферального кода с точки зрения аналитики.
type ReferralStatus string

const (
	ReferralStatusPending ReferralStatus = "PENDING"
	ReferralStatusSuccess ReferralStatus = "SUCCESS"
)

// Referral описывает реферальный код владельца и факт его использования.
// RedeemedBy и RedeemedAt либо оба заданы, либо оба пусты.
type Referral struct {
	ID         int64
	Code       string
	OwnerID    int64
	CreatedAt  time.Time
	RedeemedBy *int64
	RedeemedAt *time.Time
}

// Redeemed сообщает, был ли код уже использован.
func (r Referral) Redeemed() bool {
	return r.RedeemedBy != nil
}

// Status возвращает SUCCESS для использованного кода и PENDING для остальных.
func (r Referral) Status() ReferralStatus {
	if r.Redeemed() {
		return ReferralStatusSuccess
	}
	return ReferralStatusPending
}

// ReferralSummary содержит сводку по реферальному коду пользователя.
type ReferralSummary struct {
	Code                *string `json:"my_referral_code"`
	TotalReferrals      int64   `json:"total_referrals"`
	SuccessfulReferrals int64   `json:"successful_referrals"`
	ConversionRate      string  `json:"conversion_rate"`
}

// TimelinePoint содержит количество созданных кодов за календарный день (UTC).
type TimelinePoint struct {
	Date  time.Time
	Count int64
}

// TopReferrer описывает позицию владельца кода в рейтинге успешных приглашений.
type TopReferrer struct {
	OwnerID             int64
	Login               string
	SuccessfulReferrals int64
}
