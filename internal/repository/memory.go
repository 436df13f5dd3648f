package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/referral-system/internal/analytics"
	"github.com/mmeshcher/referral-system/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Все операции выполняются
// под одним мьютексом, поэтому проверка и запись в каждой из них атомарны.
type MemoryRepository struct {
	mu  sync.Mutex
	now func() time.Time

	users       []model.User
	userByLogin map[string]int64

	referrals       []model.Referral
	referralByCode  map[string]int64
	referralByOwner map[int64]int64
	redeemers       map[int64]int64

	configs []model.RewardConfig
	rewards []model.RewardEntry
}

// NewMemoryRepository создаёт пустое хранилище с указанными правилами начисления.
func NewMemoryRepository(configs ...model.RewardConfig) *MemoryRepository {
	r := &MemoryRepository{
		now:             time.Now,
		userByLogin:     make(map[string]int64),
		referralByCode:  make(map[string]int64),
		referralByOwner: make(map[int64]int64),
		redeemers:       make(map[int64]int64),
	}
	for _, cfg := range configs {
		r.addRewardConfigLocked(cfg)
	}
	return r
}

// Close ничего не освобождает и существует для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

func cloneReferral(ref model.Referral) model.Referral {
	if ref.RedeemedBy != nil {
		by := *ref.RedeemedBy
		ref.RedeemedBy = &by
	}
	if ref.RedeemedAt != nil {
		at := *ref.RedeemedAt
		ref.RedeemedAt = &at
	}
	return ref
}

// CreateUser создаёт нового пользователя.
func (r *MemoryRepository) CreateUser(_ context.Context, login string, passwordHash []byte, isAdmin bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.userByLogin[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
	}

	id := int64(len(r.users) + 1)
	r.users = append(r.users, model.User{
		ID:           id,
		Login:        login,
		PasswordHash: append([]byte(nil), passwordHash...),
		IsAdmin:      isAdmin,
		CreatedAt:    r.now(),
	})
	r.userByLogin[login] = id

	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.userByLogin[login]
	if !ok {
		return nil, ErrUserNotFound
	}

	u := r.users[id-1]
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return &u, nil
}

// GetOrCreateReferral возвращает код владельца или создаёт его.
func (r *MemoryRepository) GetOrCreateReferral(_ context.Context, ownerID int64, generate func() string) (*model.Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.referralByOwner[ownerID]; ok {
		ref := cloneReferral(r.referrals[id-1])
		return &ref, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := generate()
		if _, taken := r.referralByCode[code]; taken {
			continue
		}

		id := int64(len(r.referrals) + 1)
		ref := model.Referral{
			ID:        id,
			Code:      code,
			OwnerID:   ownerID,
			CreatedAt: r.now(),
		}
		r.referrals = append(r.referrals, ref)
		r.referralByCode[code] = id
		r.referralByOwner[ownerID] = id

		return &ref, nil
	}

	return nil, ErrCodeSpaceExhausted
}

// RedeemReferral помечает код использованным и создаёт вознаграждение владельцу,
// если для trigger есть активное правило.
func (r *MemoryRepository) RedeemReferral(_ context.Context, code string, redeemerID int64, trigger model.TriggerType) (*model.Referral, *model.RewardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.referralByCode[code]
	if !ok {
		return nil, nil, ErrReferralNotFound
	}

	ref := &r.referrals[id-1]
	if ref.OwnerID == redeemerID {
		return nil, nil, ErrSelfReferral
	}
	if _, used := r.redeemers[redeemerID]; used || ref.Redeemed() {
		return nil, nil, ErrAlreadyRedeemed
	}

	now := r.now()
	by := redeemerID
	ref.RedeemedBy = &by
	ref.RedeemedAt = &now
	r.redeemers[redeemerID] = id

	var entry *model.RewardEntry
	if cfg, ok := r.activeRewardConfigLocked(trigger); ok {
		e := model.NewPendingReward(ref.OwnerID, ref.ID, cfg, now)
		e.ID = int64(len(r.rewards) + 1)
		r.rewards = append(r.rewards, e)
		entry = &e
	}

	res := cloneReferral(*ref)
	return &res, entry, nil
}

// GetReferralsByOwner возвращает коды владельца в порядке создания.
func (r *MemoryRepository) GetReferralsByOwner(_ context.Context, ownerID int64) ([]model.Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.referralsByOwnerLocked(ownerID), nil
}

func (r *MemoryRepository) referralsByOwnerLocked(ownerID int64) []model.Referral {
	var res []model.Referral
	for _, ref := range r.referrals {
		if ref.OwnerID == ownerID {
			res = append(res, cloneReferral(ref))
		}
	}
	return res
}

// CountReferralsByOwner возвращает общее число кодов владельца и число использованных.
func (r *MemoryRepository) CountReferralsByOwner(_ context.Context, ownerID int64) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total, redeemed int64
	for _, ref := range r.referrals {
		if ref.OwnerID != ownerID {
			continue
		}
		total++
		if ref.Redeemed() {
			redeemed++
		}
	}
	return total, redeemed, nil
}

// GetReferralTimeline возвращает число созданных кодов владельца по дням (UTC).
func (r *MemoryRepository) GetReferralTimeline(_ context.Context, ownerID int64) ([]model.TimelinePoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return analytics.Timeline(r.referralsByOwnerLocked(ownerID)), nil
}

// GetTopReferrers возвращает владельцев по убыванию числа использованных кодов.
func (r *MemoryRepository) GetTopReferrers(_ context.Context, limit int) ([]model.TopReferrer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logins := make(map[int64]string, len(r.users))
	for _, u := range r.users {
		logins[u.ID] = u.Login
	}

	return analytics.Leaderboard(r.referrals, logins, limit), nil
}

func (r *MemoryRepository) addRewardConfigLocked(cfg model.RewardConfig) model.RewardConfig {
	cfg.ID = int64(len(r.configs) + 1)
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = r.now()
	}
	r.configs = append(r.configs, cfg)
	return cfg
}

// activeRewardConfigLocked выбирает первое по порядку создания активное правило.
func (r *MemoryRepository) activeRewardConfigLocked(trigger model.TriggerType) (model.RewardConfig, bool) {
	for _, cfg := range r.configs {
		if cfg.Active && cfg.TriggerType == trigger {
			return cfg, true
		}
	}
	return model.RewardConfig{}, false
}

// ListRewardConfigs возвращает все правила начисления.
func (r *MemoryRepository) ListRewardConfigs(_ context.Context) ([]model.RewardConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]model.RewardConfig(nil), r.configs...), nil
}

// CreateRewardConfig сохраняет новое правило начисления.
func (r *MemoryRepository) CreateRewardConfig(_ context.Context, cfg model.RewardConfig) (*model.RewardConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg.CreatedAt = time.Time{}
	created := r.addRewardConfigLocked(cfg)
	return &created, nil
}

// SetRewardConfigActive включает или выключает правило начисления.
func (r *MemoryRepository) SetRewardConfigActive(_ context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id <= 0 || id > int64(len(r.configs)) {
		return ErrRewardConfigNotFound
	}
	r.configs[id-1].Active = active
	return nil
}

// TransitionReward переводит запись вознаграждения в статус to.
func (r *MemoryRepository) TransitionReward(_ context.Context, id int64, to model.RewardStatus) (*model.RewardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id <= 0 || id > int64(len(r.rewards)) {
		return nil, ErrRewardNotFound
	}

	entry := &r.rewards[id-1]
	if err := entry.Status.Transition(to); err != nil {
		return nil, err
	}
	entry.Status = to

	res := *entry
	return &res, nil
}

// SumRewardsByStatus возвращает сумму вознаграждений пользователя в указанном статусе.
func (r *MemoryRepository) SumRewardsByStatus(_ context.Context, beneficiaryID int64, status model.RewardStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, e := range r.rewards {
		if e.BeneficiaryID == beneficiaryID && e.Status == status {
			total += e.Value
		}
	}
	return total, nil
}

// GetRewardsByBeneficiary возвращает историю вознаграждений пользователя, новые первыми.
func (r *MemoryRepository) GetRewardsByBeneficiary(_ context.Context, beneficiaryID int64) ([]model.RewardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.RewardEntry
	for _, e := range r.rewards {
		if e.BeneficiaryID == beneficiaryID {
			res = append(res, e)
		}
	}

	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})

	return res, nil
}
