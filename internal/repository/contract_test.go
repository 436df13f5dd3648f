package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/referral-system/internal/model"
)

// store перечисляет методы, общие для PostgresRepository и MemoryRepository.
type store interface {
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

var (
	_ store = (*MemoryRepository)(nil)
	_ store = (*PostgresRepository)(nil)
)

var signupConfig = model.RewardConfig{
	TriggerType: model.TriggerSignup,
	Value:       100,
	Unit:        model.RewardUnitPoints,
	Active:      true,
}

// sequence возвращает генератор, выдающий коды по очереди, а затем повторяющий последний.
func sequence(codes ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code
	}
}

func mustUser(t *testing.T, s store, login string) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), login, []byte("hash"), false)
	require.NoError(t, err)
	return id
}

func mustCode(t *testing.T, s store, ownerID int64, code string) string {
	t.Helper()
	ref, err := s.GetOrCreateReferral(context.Background(), ownerID, sequence(code))
	require.NoError(t, err)
	return ref.Code
}

func runContract(t *testing.T, newStore func(t *testing.T) store) {
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateUser(ctx, "alice", []byte("hash"), true)
		require.NoError(t, err)

		_, err = s.CreateUser(ctx, "alice", []byte("other"), false)
		assert.ErrorIs(t, err, ErrUserExists)

		u, err := s.GetUserByLogin(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
		assert.True(t, u.IsAdmin)
		assert.Equal(t, []byte("hash"), u.PasswordHash)

		_, err = s.GetUserByLogin(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("get or create is idempotent", func(t *testing.T) {
		s := newStore(t)
		owner := mustUser(t, s, "owner")

		var calls int32
		gen := func() string {
			atomic.AddInt32(&calls, 1)
			return "SVH-AB12CD"
		}

		first, err := s.GetOrCreateReferral(ctx, owner, gen)
		require.NoError(t, err)
		second, err := s.GetOrCreateReferral(ctx, owner, gen)
		require.NoError(t, err)

		assert.Equal(t, "SVH-AB12CD", first.Code)
		assert.Equal(t, first.Code, second.Code)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.False(t, first.Redeemed())
		assert.Nil(t, first.RedeemedAt)
		assert.False(t, first.CreatedAt.IsZero())
	})

	t.Run("code collision is retried", func(t *testing.T) {
		s := newStore(t)
		a := mustUser(t, s, "a")
		b := mustUser(t, s, "b")

		mustCode(t, s, a, "SVH-AAAAAA")
		ref, err := s.GetOrCreateReferral(ctx, b, sequence("SVH-AAAAAA", "SVH-BBBBBB"))
		require.NoError(t, err)
		assert.Equal(t, "SVH-BBBBBB", ref.Code)
	})

	t.Run("code space exhausted", func(t *testing.T) {
		s := newStore(t)
		a := mustUser(t, s, "a")
		b := mustUser(t, s, "b")

		mustCode(t, s, a, "SVH-AAAAAA")
		_, err := s.GetOrCreateReferral(ctx, b, sequence("SVH-AAAAAA"))
		assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	})

	t.Run("redemption scenario", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateRewardConfig(ctx, signupConfig)
		require.NoError(t, err)

		a := mustUser(t, s, "a")
		b := mustUser(t, s, "b")
		c := mustUser(t, s, "c")
		codeA := mustCode(t, s, a, "SVH-AB12CD")
		codeC := mustCode(t, s, c, "SVH-CCCCCC")

		ref, entry, err := s.RedeemReferral(ctx, codeA, b, model.TriggerSignup)
		require.NoError(t, err)
		require.NotNil(t, ref.RedeemedBy)
		require.NotNil(t, ref.RedeemedAt)
		assert.Equal(t, b, *ref.RedeemedBy)
		assert.Equal(t, a, ref.OwnerID)

		require.NotNil(t, entry)
		assert.Equal(t, a, entry.BeneficiaryID)
		assert.Equal(t, ref.ID, entry.ReferralID)
		assert.Equal(t, model.RewardStatusPending, entry.Status)
		assert.Equal(t, int64(100), entry.Value)
		assert.Equal(t, model.RewardUnitPoints, entry.Unit)
		assert.Equal(t, model.TriggerSignup, entry.TriggerType)

		_, _, err = s.RedeemReferral(ctx, codeC, b, model.TriggerSignup)
		assert.ErrorIs(t, err, ErrAlreadyRedeemed)

		_, _, err = s.RedeemReferral(ctx, codeA, c, model.TriggerSignup)
		assert.ErrorIs(t, err, ErrAlreadyRedeemed)

		rewards, err := s.GetRewardsByBeneficiary(ctx, a)
		require.NoError(t, err)
		assert.Len(t, rewards, 1)

		rewardsC, err := s.GetRewardsByBeneficiary(ctx, c)
		require.NoError(t, err)
		assert.Empty(t, rewardsC)
	})

	t.Run("redemption validation order", func(t *testing.T) {
		s := newStore(t)
		a := mustUser(t, s, "a")
		b := mustUser(t, s, "b")
		codeA := mustCode(t, s, a, "SVH-AAAAAA")
		codeB := mustCode(t, s, b, "SVH-BBBBBB")

		_, _, err := s.RedeemReferral(ctx, "SVH-ZZZZZZ", a, model.TriggerSignup)
		assert.ErrorIs(t, err, ErrReferralNotFound)

		_, _, err = s.RedeemReferral(ctx, codeA, a, model.TriggerSignup)
		assert.ErrorIs(t, err, ErrSelfReferral)

		_, _, err = s.RedeemReferral(ctx, codeB, a, model.TriggerSignup)
		require.NoError(t, err)

		// Самоприглашение проверяется раньше повторного использования.
		_, _, err = s.RedeemReferral(ctx, codeA, a, model.TriggerSignup)
		assert.ErrorIs(t, err, ErrSelfReferral)
	})

	t.Run("no active config issues no reward", func(t *testing.T) {
		s := newStore(t)
		inactive := signupConfig
		inactive.Active = false
		_, err := s.CreateRewardConfig(ctx, inactive)
		require.NoError(t, err)
		firstOrder := signupConfig
		firstOrder.TriggerType = model.TriggerFirstOrder
		_, err = s.CreateRewardConfig(ctx, firstOrder)
		require.NoError(t, err)

		a := mustUser(t, s, "a")
		b := mustUser(t, s, "b")
		code := mustCode(t, s, a, "SVH-AAAAAA")

		ref, entry, err := s.RedeemReferral(ctx, code, b, model.TriggerSignup)
		require.NoError(t, err)
		assert.True(t, ref.Redeemed())
		assert.Nil(t, entry)

		rewards, err := s.GetRewardsByBeneficiary(ctx, a)
		require.NoError(t, err)
		assert.Empty(t, rewards)
	})

	t.Run("first active config wins and is snapshotted", func(t *testing.T) {
		s := newStore(t)
		inactive := model.RewardConfig{TriggerType: model.TriggerSignup, Value: 1, Unit: model.RewardUnitCash}
		_, err := s.CreateRewardConfig(ctx, inactive)
		require.NoError(t, err)
		first, err := s.CreateRewardConfig(ctx, model.RewardConfig{TriggerType: model.TriggerSignup, Value: 50, Unit: model.RewardUnitCash, Active: true})
		require.NoError(t, err)
		_, err = s.CreateRewardConfig(ctx, model.RewardConfig{TriggerType: model.TriggerSignup, Value: 70, Unit: model.RewardUnitPoints, Active: true})
		require.NoError(t, err)

		a := mustUser(t, s, "a")
		b := mustUser(t, s, "b")
		code := mustCode(t, s, a, "SVH-AAAAAA")

		_, entry, err := s.RedeemReferral(ctx, code, b, model.TriggerSignup)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, int64(50), entry.Value)
		assert.Equal(t, model.RewardUnitCash, entry.Unit)

		require.NoError(t, s.SetRewardConfigActive(ctx, first.ID, false))

		rewards, err := s.GetRewardsByBeneficiary(ctx, a)
		require.NoError(t, err)
		require.Len(t, rewards, 1)
		assert.Equal(t, int64(50), rewards[0].Value)
		assert.Equal(t, model.RewardUnitCash, rewards[0].Unit)

		configs, err := s.ListRewardConfigs(ctx)
		require.NoError(t, err)
		require.Len(t, configs, 3)
		assert.False(t, configs[1].Active)

		assert.ErrorIs(t, s.SetRewardConfigActive(ctx, 999, true), ErrRewardConfigNotFound)
	})

	t.Run("reward transitions", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateRewardConfig(ctx, signupConfig)
		require.NoError(t, err)

		a := mustUser(t, s, "a")
		b := mustUser(t, s, "b")
		c := mustUser(t, s, "c")
		d := mustUser(t, s, "d")
		codeA := mustCode(t, s, a, "SVH-AAAAAA")
		codeC := mustCode(t, s, c, "SVH-CCCCCC")

		_, credited, err := s.RedeemReferral(ctx, codeA, b, model.TriggerSignup)
		require.NoError(t, err)
		_, revoked, err := s.RedeemReferral(ctx, codeC, d, model.TriggerSignup)
		require.NoError(t, err)

		got, err := s.TransitionReward(ctx, credited.ID, model.RewardStatusCredited)
		require.NoError(t, err)
		assert.Equal(t, model.RewardStatusCredited, got.Status)
		assert.Equal(t, credited.Value, got.Value)
		assert.Equal(t, credited.BeneficiaryID, got.BeneficiaryID)

		_, err = s.TransitionReward(ctx, credited.ID, model.RewardStatusCredited)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
		_, err = s.TransitionReward(ctx, credited.ID, model.RewardStatusRevoked)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)

		got, err = s.TransitionReward(ctx, revoked.ID, model.RewardStatusRevoked)
		require.NoError(t, err)
		assert.Equal(t, model.RewardStatusRevoked, got.Status)

		_, err = s.TransitionReward(ctx, revoked.ID, model.RewardStatusCredited)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)

		_, err = s.TransitionReward(ctx, 999, model.RewardStatusCredited)
		assert.ErrorIs(t, err, ErrRewardNotFound)

		pending, err := s.SumRewardsByStatus(ctx, a, model.RewardStatusPending)
		require.NoError(t, err)
		creditedSum, err := s.SumRewardsByStatus(ctx, a, model.RewardStatusCredited)
		require.NoError(t, err)
		assert.Equal(t, int64(0), pending)
		assert.Equal(t, int64(100), creditedSum)

		revokedCredited, err := s.SumRewardsByStatus(ctx, c, model.RewardStatusCredited)
		require.NoError(t, err)
		assert.Equal(t, int64(0), revokedCredited)
	})

	t.Run("analytics reads", func(t *testing.T) {
		s := newStore(t)
		a := mustUser(t, s, "a")
		b := mustUser(t, s, "b")
		c := mustUser(t, s, "c")
		codeA := mustCode(t, s, a, "SVH-AAAAAA")
		mustCode(t, s, b, "SVH-BBBBBB")

		total, redeemed, err := s.CountReferralsByOwner(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, int64(0), redeemed)

		_, _, err = s.RedeemReferral(ctx, codeA, c, model.TriggerSignup)
		require.NoError(t, err)

		total, redeemed, err = s.CountReferralsByOwner(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, int64(1), redeemed)

		refs, err := s.GetReferralsByOwner(ctx, a)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, model.ReferralStatusSuccess, refs[0].Status())

		timeline, err := s.GetReferralTimeline(ctx, a)
		require.NoError(t, err)
		require.Len(t, timeline, 1)
		assert.Equal(t, int64(1), timeline[0].Count)

		top, err := s.GetTopReferrers(ctx, 0)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, a, top[0].OwnerID)
		assert.Equal(t, "a", top[0].Login)
		assert.Equal(t, int64(1), top[0].SuccessfulReferrals)

		none, err := s.GetReferralsByOwner(ctx, c)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("concurrent redemption by one user", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateRewardConfig(ctx, signupConfig)
		require.NoError(t, err)

		redeemer := mustUser(t, s, "redeemer")
		codes := make([]string, 8)
		for i := range codes {
			owner := mustUser(t, s, "owner"+string(rune('a'+i)))
			codes[i] = mustCode(t, s, owner, "SVH-00000"+string(rune('0'+i)))
		}

		var (
			wg        sync.WaitGroup
			successes int32
			conflicts int32
		)
		for _, code := range codes {
			wg.Add(1)
			go func(code string) {
				defer wg.Done()
				_, _, err := s.RedeemReferral(ctx, code, redeemer, model.TriggerSignup)
				switch {
				case err == nil:
					atomic.AddInt32(&successes, 1)
				case errors.Is(err, ErrAlreadyRedeemed):
					atomic.AddInt32(&conflicts, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(code)
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes)
		assert.Equal(t, int32(len(codes)-1), conflicts)

		top, err := s.GetTopReferrers(ctx, 0)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, int64(1), top[0].SuccessfulReferrals)
	})

	t.Run("concurrent redemption of one code", func(t *testing.T) {
		s := newStore(t)
		owner := mustUser(t, s, "owner")
		code := mustCode(t, s, owner, "SVH-AAAAAA")

		users := make([]int64, 8)
		for i := range users {
			users[i] = mustUser(t, s, "user"+string(rune('a'+i)))
		}

		var (
			wg        sync.WaitGroup
			successes int32
		)
		for _, u := range users {
			wg.Add(1)
			go func(u int64) {
				defer wg.Done()
				_, _, err := s.RedeemReferral(ctx, code, u, model.TriggerSignup)
				if err == nil {
					atomic.AddInt32(&successes, 1)
					return
				}
				if !errors.Is(err, ErrAlreadyRedeemed) {
					t.Errorf("unexpected error: %v", err)
				}
			}(u)
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes)
	})

	t.Run("concurrent code generation for one owner", func(t *testing.T) {
		s := newStore(t)
		owner := mustUser(t, s, "owner")

		var counter int32
		gen := func() string {
			n := atomic.AddInt32(&counter, 1)
			return "SVH-00000" + string(rune('0'+n%10))
		}

		codes := make([]string, 8)
		var wg sync.WaitGroup
		for i := range codes {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ref, err := s.GetOrCreateReferral(ctx, owner, gen)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				codes[i] = ref.Code
			}(i)
		}
		wg.Wait()

		for _, code := range codes {
			assert.Equal(t, codes[0], code)
		}

		total, _, err := s.CountReferralsByOwner(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})
}
