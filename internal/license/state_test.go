package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"prolicense/internal/shared/testutil"
)

func TestStateAt(t *testing.T) {
	rec := testRecord(baseTime)

	tests := []struct {
		name          string
		elapsed       time.Duration
		wantState     State
		wantExpired   bool
		wantGrace     bool
		wantRemaining int
	}{
		{"just activated", 0, StateActive, false, false, 30},
		{"29 days", testutil.Days(29), StateActive, false, false, 1},
		{"exactly 30 days", testutil.Days(30), StateActive, false, false, 0},
		{"30 days and a second", testutil.Days(30) + time.Second, StateGrace, true, true, 0},
		{"31 days", testutil.Days(31), StateGrace, true, true, -1},
		{"exactly 37 days", testutil.Days(37), StateGrace, true, true, -7},
		{"38 days", testutil.Days(38), StateExpired, true, false, -8},
		{"clock behind activation", -time.Hour, StateActive, false, false, 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := baseTime.Add(tt.elapsed)
			assert.Equal(t, tt.wantState, StateAt(rec, now))
			assert.Equal(t, tt.wantExpired, IsExpired(rec, now))
			assert.Equal(t, tt.wantGrace, IsInGrace(rec, now))
			assert.Equal(t, tt.wantRemaining, DaysRemaining(rec, now))
		})
	}
}

func TestStateWithoutRecord(t *testing.T) {
	assert.Equal(t, StateNotActivated, StateAt(nil, baseTime))
	assert.True(t, IsExpired(nil, baseTime))
	assert.False(t, IsInGrace(nil, baseTime))
	assert.Equal(t, -1, DaysRemaining(nil, baseTime))
	assert.True(t, ExpiryDate(nil).IsZero())

	undated := &Record{Key: testutil.ValidKey, Features: []string{}}
	assert.True(t, IsExpired(undated, baseTime))
	assert.False(t, IsInGrace(undated, baseTime))
	assert.Equal(t, -1, DaysRemaining(undated, baseTime))
}

func TestStateDefaults(t *testing.T) {
	rec := &Record{Key: testutil.ValidKey, ActivatedAt: baseTime, Features: []string{}}

	assert.Equal(t, baseTime.Add(testutil.Days(30)), ExpiryDate(rec))
	assert.Equal(t, baseTime.Add(testutil.Days(37)), GraceEndDate(rec))
	assert.Equal(t, StateGrace, StateAt(rec, baseTime.Add(testutil.Days(36))))
	assert.Equal(t, StateExpired, StateAt(rec, baseTime.Add(testutil.Days(38))))
}

func TestStateCustomWindows(t *testing.T) {
	rec := testRecord(baseTime)
	rec.CacheValidDays = 10
	rec.GracePeriodDays = 2

	assert.Equal(t, StateActive, StateAt(rec, baseTime.Add(testutil.Days(10))))
	assert.Equal(t, StateGrace, StateAt(rec, baseTime.Add(testutil.Days(11))))
	assert.Equal(t, StateExpired, StateAt(rec, baseTime.Add(testutil.Days(13))))
	assert.Equal(t, 7, DaysRemaining(rec, baseTime.Add(testutil.Days(3)+time.Hour)))
}

func TestStateUsable(t *testing.T) {
	assert.True(t, StateActive.Usable())
	assert.True(t, StateGrace.Usable())
	assert.False(t, StateExpired.Usable())
	assert.False(t, StateNotActivated.Usable())
}

func TestNewInfo(t *testing.T) {
	assert.Nil(t, NewInfo(nil, baseTime))

	rec := testRecord(baseTime, "pro.squads.*")
	info := NewInfo(rec, baseTime.Add(testutil.Days(31)))

	assert.Equal(t, StateGrace, info.State)
	assert.Equal(t, "PRO-ABCD-****-****-MNOP", info.Key)
	assert.Equal(t, []string{"pro.squads.*"}, info.Features)
	assert.True(t, info.InGrace)
	assert.True(t, info.IsExpired)
	assert.Equal(t, -1, info.DaysRemaining)
	assert.Equal(t, baseTime.Add(testutil.Days(30)), info.CacheExpiresAt)

	info.Features[0] = "changed"
	assert.Equal(t, "pro.squads.*", rec.Features[0])
}
