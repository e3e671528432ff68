package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedCall struct {
	cctvID int64
	day    int
	clock  string
}

type schedRepoStub struct {
	active bool
	err    error
	calls  []schedCall
}

func (s *schedRepoStub) IsActiveNow(_ context.Context, cctvID int64, day int, clock string) (bool, error) {
	s.calls = append(s.calls, schedCall{cctvID: cctvID, day: day, clock: clock})
	return s.active, s.err
}

func TestActiveNow_QueriesLocalDayAndClock(t *testing.T) {
	repo := &schedRepoStub{active: true}
	ev := NewEvaluator(repo, time.FixedZone("", 7*3600))
	// 2025-06-02 01:30 UTC is Monday 08:30 in the +07:00 schedule zone
	ev.now = func() time.Time { return time.Date(2025, 6, 2, 1, 30, 0, 0, time.UTC) }

	assert.True(t, ev.ActiveNow(7))
	require.Len(t, repo.calls, 1)
	assert.Equal(t, schedCall{cctvID: 7, day: 1, clock: "08:30:00"}, repo.calls[0])
}

func TestActiveNow_ZoneShiftsWeekday(t *testing.T) {
	repo := &schedRepoStub{active: true}
	ev := NewEvaluator(repo, time.FixedZone("", 7*3600))
	// Monday 20:00 UTC is already Tuesday 03:00 local
	ev.now = func() time.Time { return time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC) }

	ev.ActiveNow(7)
	require.Len(t, repo.calls, 1)
	assert.Equal(t, 2, repo.calls[0].day)
	assert.Equal(t, "03:00:00", repo.calls[0].clock)
}

func TestActiveNow_SundayIsDayZero(t *testing.T) {
	repo := &schedRepoStub{active: true}
	ev := NewEvaluator(repo, time.UTC)
	ev.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }

	ev.ActiveNow(1)
	require.Len(t, repo.calls, 1)
	assert.Equal(t, 0, repo.calls[0].day)
}

func TestActiveNow_CachesPerCamera(t *testing.T) {
	repo := &schedRepoStub{active: true}
	ev := NewEvaluator(repo, time.UTC)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	ev.now = func() time.Time { return now }

	assert.True(t, ev.ActiveNow(1))
	assert.True(t, ev.ActiveNow(1))
	assert.Len(t, repo.calls, 1, "second lookup must come from cache")

	ev.ActiveNow(2)
	assert.Len(t, repo.calls, 2, "each camera has its own entry")

	now = now.Add(defaultCacheTTL + time.Second)
	ev.ActiveNow(1)
	assert.Len(t, repo.calls, 3, "expired entry must hit the repository again")
}

func TestActiveNow_LookupErrorFailsClosed(t *testing.T) {
	repo := &schedRepoStub{active: true, err: errors.New("connection refused")}
	ev := NewEvaluator(repo, time.UTC)
	ev.now = func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }

	assert.False(t, ev.ActiveNow(1))
	// the inactive answer is cached like any other
	assert.False(t, ev.ActiveNow(1))
	assert.Len(t, repo.calls, 1)
}

func TestInvalidate_DropsAllEntries(t *testing.T) {
	repo := &schedRepoStub{active: true}
	ev := NewEvaluator(repo, time.UTC)
	ev.now = func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }

	ev.ActiveNow(1)
	ev.Invalidate()
	ev.ActiveNow(1)
	assert.Len(t, repo.calls, 2)
}
