package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/referral-system/internal/model"
)

func TestConversionRate(t *testing.T) {
	tests := []struct {
		name       string
		total      int64
		successful int64
		want       string
	}{
		{name: "quarter", total: 4, successful: 1, want: "25%"},
		{name: "no referrals", total: 0, successful: 0, want: "0%"},
		{name: "all successful", total: 3, successful: 3, want: "100%"},
		{name: "one third truncates", total: 3, successful: 1, want: "33%"},
		{name: "two thirds truncates", total: 3, successful: 2, want: "66%"},
		{name: "none successful", total: 5, successful: 0, want: "0%"},
		{name: "negative total", total: -1, successful: 1, want: "0%"},
		{name: "negative successful", total: 2, successful: -1, want: "0%"},
		{name: "successful above total clamps", total: 2, successful: 5, want: "100%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConversionRate(tt.total, tt.successful))
		})
	}
}

func TestNewSummary(t *testing.T) {
	s := NewSummary("SVH-AB12CD", 4, 1)
	require.NotNil(t, s.Code)
	assert.Equal(t, "SVH-AB12CD", *s.Code)
	assert.Equal(t, int64(4), s.TotalReferrals)
	assert.Equal(t, int64(1), s.SuccessfulReferrals)
	assert.Equal(t, "25%", s.ConversionRate)

	empty := NewSummary("", 0, 0)
	assert.Nil(t, empty.Code)
	assert.Equal(t, ZeroConversionRate, empty.ConversionRate)
}

func TestTimeline(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)

	refs := []model.Referral{
		{Code: "SVH-000003", CreatedAt: day2},
		{Code: "SVH-000001", CreatedAt: day1},
		{Code: "SVH-000002", CreatedAt: day1.Add(2 * time.Hour)},
	}

	got := Timeline(refs)

	want := []model.TimelinePoint{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Count: 2},
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Count: 1},
	}
	assert.Equal(t, want, got)
	assert.Empty(t, Timeline(nil))
}

func TestDayUsesUTC(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2024, 1, 2, 1, 0, 0, 0, zone)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Day(local))
}

func TestLeaderboard(t *testing.T) {
	redeemer := func(id int64) *int64 { return &id }
	now := time.Now()

	refs := []model.Referral{
		{OwnerID: 1, RedeemedBy: redeemer(10), RedeemedAt: &now},
		{OwnerID: 2, RedeemedBy: redeemer(11), RedeemedAt: &now},
		{OwnerID: 2, RedeemedBy: redeemer(12), RedeemedAt: &now},
		{OwnerID: 3},
		{OwnerID: 4, RedeemedBy: redeemer(13), RedeemedAt: &now},
	}
	logins := map[int64]string{1: "alice", 2: "bob", 4: "dave"}

	got := Leaderboard(refs, logins, 0)

	want := []model.TopReferrer{
		{OwnerID: 2, Login: "bob", SuccessfulReferrals: 2},
		{OwnerID: 1, Login: "alice", SuccessfulReferrals: 1},
		{OwnerID: 4, Login: "dave", SuccessfulReferrals: 1},
	}
	assert.Equal(t, want, got)

	limited := Leaderboard(refs, logins, 1)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(2), limited[0].OwnerID)
}
