package repository

import "errors"

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrReferralNotFound возвращается, если реферальный код не существует.
	ErrReferralNotFound = errors.New("referral code not found")
	// ErrSelfReferral возвращается при попытке использовать собственный код.
	ErrSelfReferral = errors.New("self referral is not allowed")
	// ErrAlreadyRedeemed возвращается, если пользователь уже использовал код
	// или код уже использован другим пользователем.
	ErrAlreadyRedeemed = errors.New("referral already redeemed")
	// ErrCodeSpaceExhausted возвращается, если не удалось подобрать свободный код.
	ErrCodeSpaceExhausted = errors.New("could not allocate unique referral code")
	// ErrRewardNotFound возвращается, если запись журнала вознаграждений не найдена.
	ErrRewardNotFound = errors.New("reward not found")
	// ErrRewardConfigNotFound возвращается, если правило начисления не найдено.
	ErrRewardConfigNotFound = errors.New("reward config not found")
)

// maxCodeAttempts ограничивает число попыток подобрать код при коллизиях.
const maxCodeAttempts = 5
