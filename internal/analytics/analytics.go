// Package analytics строит сводки по реферальным кодам без изменения журналов.
package analytics

import (
	"sort"
	"strconv"
	"time"

	"github.com/mmeshcher/referral-system/internal/model"
)

// ZeroConversionRate возвращается, когда у пользователя нет ни одного кода.
const ZeroConversionRate = "0%"

// ConversionRate возвращает долю успешных приглашений в процентах.
// Дробная часть отбрасывается, результат ограничен диапазоном [0, 100].
func ConversionRate(total, successful int64) string {
	if total <= 0 || successful <= 0 {
		return ZeroConversionRate
	}
	if successful > total {
		successful = total
	}
	return strconv.FormatInt(successful*100/total, 10) + "%"
}

// NewSummary собирает сводку; code пуст, если пользователь ещё не получил код.
func NewSummary(code string, total, successful int64) model.ReferralSummary {
	s := model.ReferralSummary{
		TotalReferrals:      total,
		SuccessfulReferrals: successful,
		ConversionRate:      ConversionRate(total, successful),
	}
	if code != "" {
		s.Code = &code
	}
	return s
}

// Day приводит момент времени к началу календарного дня в UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Timeline группирует коды по дате создания в порядке возрастания даты.
func Timeline(referrals []model.Referral) []model.TimelinePoint {
	counts := make(map[time.Time]int64)
	for _, r := range referrals {
		counts[Day(r.CreatedAt)]++
	}

	res := make([]model.TimelinePoint, 0, len(counts))
	for day, n := range counts {
		res = append(res, model.TimelinePoint{Date: day, Count: n})
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Date.Before(res[j].Date)
	})

	return res
}

// Leaderboard считает использованные коды по владельцам: по убыванию количества,
// при равенстве по возрастанию идентификатора владельца. limit <= 0 снимает ограничение.
func Leaderboard(referrals []model.Referral, logins map[int64]string, limit int) []model.TopReferrer {
	counts := make(map[int64]int64)
	for _, r := range referrals {
		if r.Redeemed() {
			counts[r.OwnerID]++
		}
	}

	res := make([]model.TopReferrer, 0, len(counts))
	for owner, n := range counts {
		res = append(res, model.TopReferrer{
			OwnerID:             owner,
			Login:               logins[owner],
			SuccessfulReferrals: n,
		})
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].SuccessfulReferrals != res[j].SuccessfulReferrals {
			return res[i].SuccessfulReferrals > res[j].SuccessfulReferrals
		}
		return res[i].OwnerID < res[j].OwnerID
	})

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}

	return res
}
