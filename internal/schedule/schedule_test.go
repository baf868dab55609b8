package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklab/podium/internal/database/models"
)

func intervalTask(seconds int) *models.ScheduledTask {
	return &models.ScheduledTask{
		Name:            "interval-task",
		ScheduleType:    models.ScheduleInterval,
		IntervalSeconds: seconds,
	}
}

func cronTask(expr string) *models.ScheduledTask {
	return &models.ScheduledTask{
		Name:         "cron-task",
		ScheduleType: models.ScheduleCron,
		CronExpr:     expr,
	}
}

func oneTimeTask(at time.Time) *models.ScheduledTask {
	return &models.ScheduledTask{
		Name:         "one-time-task",
		ScheduleType: models.ScheduleOneTime,
		ScheduledAt:  &at,
	}
}

func TestFromTask_Interval(t *testing.T) {
	spec, err := FromTask(intervalTask(300))
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleInterval, spec.Type)
	assert.Equal(t, 5*time.Minute, spec.Every)
}

func TestFromTask_Cron(t *testing.T) {
	spec, err := FromTask(cronTask("0 19 * * 6"))
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleCron, spec.Type)
	require.NotNil(t, spec.Cron)
}

func TestFromTask_CronWithSeconds(t *testing.T) {
	// Six-field expressions (leading seconds) are accepted too.
	spec, err := FromTask(cronTask("30 */5 * * * *"))
	require.NoError(t, err)
	require.NotNil(t, spec.Cron)
}

func TestFromTask_CronDescriptor(t *testing.T) {
	spec, err := FromTask(cronTask("@hourly"))
	require.NoError(t, err)
	require.NotNil(t, spec.Cron)
}

func TestFromTask_InvalidCron(t *testing.T) {
	_, err := FromTask(cronTask("not a cron expr"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestFromTask_RejectsMalformedRows(t *testing.T) {
	at := time.Now()

	tests := []struct {
		name string
		task *models.ScheduledTask
	}{
		{"interval without seconds", &models.ScheduledTask{ScheduleType: models.ScheduleInterval}},
		{"negative interval", &models.ScheduledTask{ScheduleType: models.ScheduleInterval, IntervalSeconds: -5}},
		{"cron without expression", &models.ScheduledTask{ScheduleType: models.ScheduleCron}},
		{"one-time without timestamp", &models.ScheduledTask{ScheduleType: models.ScheduleOneTime}},
		{"unknown type", &models.ScheduledTask{ScheduleType: "weekly"}},
		{
			"interval with stray cron expr",
			&models.ScheduledTask{ScheduleType: models.ScheduleInterval, IntervalSeconds: 60, CronExpr: "* * * * *"},
		},
		{
			"cron with stray scheduled_at",
			&models.ScheduledTask{ScheduleType: models.ScheduleCron, CronExpr: "* * * * *", ScheduledAt: &at},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromTask(tt.task)
			assert.Error(t, err)
		})
	}
}

func TestNextRun_Interval(t *testing.T) {
	now := time.Date(2025, 6, 14, 18, 0, 0, 0, time.UTC)

	spec, err := FromTask(intervalTask(90))
	require.NoError(t, err)

	next, ok := NextRun(spec, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(90*time.Second), next)
}

func TestNextRun_IntervalNormalizesToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(2025, 6, 14, 14, 0, 0, 0, loc)

	spec, err := FromTask(intervalTask(60))
	require.NoError(t, err)

	next, ok := NextRun(spec, now)
	require.True(t, ok)
	assert.Equal(t, time.UTC, next.Location())
	assert.True(t, next.Equal(now.Add(time.Minute)))
}

func TestNextRun_Cron(t *testing.T) {
	// Saturday 19:00. From a Wednesday the next occurrence is that week's
	// Saturday evening.
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC) // Wednesday

	spec, err := FromTask(cronTask("0 19 * * 6"))
	require.NoError(t, err)

	next, ok := NextRun(spec, now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 14, 19, 0, 0, 0, time.UTC), next)
}

func TestNextRun_CronStrictlyAfterNow(t *testing.T) {
	// When now sits exactly on a cron boundary, the next run is the
	// following occurrence, not now itself.
	now := time.Date(2025, 6, 14, 19, 0, 0, 0, time.UTC) // Saturday 19:00

	spec, err := FromTask(cronTask("0 19 * * 6"))
	require.NoError(t, err)

	next, ok := NextRun(spec, now)
	require.True(t, ok)
	assert.True(t, next.After(now))
	assert.Equal(t, time.Date(2025, 6, 21, 19, 0, 0, 0, time.UTC), next)
}

func TestNextRun_OneTimeFuture(t *testing.T) {
	now := time.Date(2025, 6, 14, 18, 0, 0, 0, time.UTC)
	at := now.Add(2 * time.Hour)

	spec, err := FromTask(oneTimeTask(at))
	require.NoError(t, err)

	next, ok := NextRun(spec, now)
	require.True(t, ok)
	assert.True(t, next.Equal(at))
}

func TestNextRun_OneTimePast(t *testing.T) {
	now := time.Date(2025, 6, 14, 18, 0, 0, 0, time.UTC)

	spec, err := FromTask(oneTimeTask(now.Add(-time.Minute)))
	require.NoError(t, err)

	_, ok := NextRun(spec, now)
	assert.False(t, ok, "a one-time schedule in the past has no next run")
}

func TestNextRun_OneTimeExactlyNow(t *testing.T) {
	now := time.Date(2025, 6, 14, 18, 0, 0, 0, time.UTC)

	spec, err := FromTask(oneTimeTask(now))
	require.NoError(t, err)

	_, ok := NextRun(spec, now)
	assert.False(t, ok, "firing at the scheduled instant must not re-arm the task")
}
