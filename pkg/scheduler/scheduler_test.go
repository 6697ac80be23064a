package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/replicator/pkg/logging"
	syncpkg "github.com/ledgersync/replicator/pkg/sync"
)

type fakeTrigger struct {
	mu    sync.Mutex
	fired []syncpkg.Kind
	fail  error
}

func (f *fakeTrigger) Run(ctx context.Context, kind syncpkg.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, kind)
	return f.fail
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func TestUpdateRejectsInvalidConfig(t *testing.T) {
	s := New(&fakeTrigger{}, logging.Discard())
	err := s.Update(Config{Enabled: true, Kind: syncpkg.KindIncremental, TimeOfDay: "25:00", DaysOfWeek: []string{"mon"}})
	require.Error(t, err)

	err = s.Update(Config{Enabled: true, Kind: syncpkg.KindIncremental, TimeOfDay: "06:00"})
	require.Error(t, err, "empty days_of_week must be rejected")

	err = s.Update(Config{Enabled: true, Kind: "bogus", TimeOfDay: "06:00", DaysOfWeek: []string{"mon"}})
	require.Error(t, err, "unknown kind must be rejected")
}

func TestUpdateArmsAndReplacesSchedule(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, logging.Discard())
	s.Start()
	defer s.Stop()

	require.NoError(t, s.Update(Config{
		Enabled: true, Kind: syncpkg.KindIncremental,
		TimeOfDay: "06:00", DaysOfWeek: []string{"mon", "tue", "wed", "thu", "fri"},
	}))
	st := s.CurrentStatus()
	assert.True(t, st.Armed)
	assert.False(t, st.NextRun.IsZero())

	require.NoError(t, s.Update(Config{
		Enabled: true, Kind: syncpkg.KindFull,
		TimeOfDay: "23:30", DaysOfWeek: []string{"sun"},
	}))
	st = s.CurrentStatus()
	assert.True(t, st.Armed)
	assert.Equal(t, syncpkg.KindFull, st.Config.Kind)
}

func TestUpdateDisabledDisarmsSchedule(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, logging.Discard())
	s.Start()
	defer s.Stop()

	require.NoError(t, s.Update(Config{
		Enabled: true, Kind: syncpkg.KindIncremental,
		TimeOfDay: "06:00", DaysOfWeek: []string{"mon"},
	}))
	require.True(t, s.CurrentStatus().Armed)

	require.NoError(t, s.Update(Config{Enabled: false}))
	st := s.CurrentStatus()
	assert.False(t, st.Armed)
	assert.True(t, st.NextRun.IsZero())
}

func TestRunNowCallsTriggerImmediately(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, logging.Discard())
	require.NoError(t, s.Update(Config{
		Enabled: true, Kind: syncpkg.KindFull,
		TimeOfDay: "06:00", DaysOfWeek: []string{"mon"},
	}))

	require.NoError(t, s.RunNow(context.Background()))
	assert.Equal(t, 1, trigger.count())
	assert.Equal(t, syncpkg.KindFull, trigger.fired[0])
}

func TestRunNowDefaultsToIncrementalWhenUnconfigured(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, logging.Discard())
	require.NoError(t, s.RunNow(context.Background()))
	require.Len(t, trigger.fired, 1)
	assert.Equal(t, syncpkg.KindIncremental, trigger.fired[0])
}

func TestSpecFormatsMinuteHourAndDays(t *testing.T) {
	cfg := Config{TimeOfDay: "06:05", DaysOfWeek: []string{"Mon", "Wed", "FRI"}}
	assert.Equal(t, "5 6 * * mon,wed,fri", cfg.spec())
}

// robfig/cron resolves schedules at minute granularity, so a real-time fire
// test would need to sleep up to a minute; instead this checks that the
// computed next-run lands on the requested weekday at the requested time,
// which is what actually determines whether the schedule ever fires.
func TestNextRunLandsOnRequestedWeekdayAndTime(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, logging.Discard())
	s.Start()
	defer s.Stop()

	require.NoError(t, s.Update(Config{
		Enabled: true, Kind: syncpkg.KindIncremental,
		TimeOfDay:  "09:30",
		DaysOfWeek: []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"},
	}))

	st := s.CurrentStatus()
	require.True(t, st.Armed)
	require.False(t, st.NextRun.IsZero())
	assert.True(t, st.NextRun.After(time.Now()))
	assert.True(t, st.NextRun.Before(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 9, st.NextRun.Hour())
	assert.Equal(t, 30, st.NextRun.Minute())
}
