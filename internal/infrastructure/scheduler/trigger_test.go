package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronTriggerNext(t *testing.T) {
	t.Parallel()

	trig, err := NewCronTrigger("0 */6 * * *", time.UTC)
	require.NoError(t, err)

	after := time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), trig.Next(after))
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), trig.Next(time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)))
	assert.Equal(t, "0 */6 * * *", trig.String())
}

func TestCronTriggerHonoursLocation(t *testing.T) {
	t.Parallel()

	shanghai := time.FixedZone("CST", 8*3600)
	trig, err := NewCronTrigger("0 8 * * *", shanghai)
	require.NoError(t, err)

	next := trig.Next(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)), "got %s", next)
}

func TestCronTriggerRejectsBadExpression(t *testing.T) {
	t.Parallel()

	_, err := NewCronTrigger("every day", nil)
	require.Error(t, err)

	_, err = NewCronTrigger("0 0 * *", nil)
	require.Error(t, err)
}

func TestIntervalTrigger(t *testing.T) {
	t.Parallel()

	trig, err := NewIntervalTrigger(90 * time.Second)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(90*time.Second), trig.Next(at))
	assert.Equal(t, "every 1m30s", trig.String())

	_, err = NewIntervalTrigger(0)
	require.Error(t, err)
}

func TestParseTrigger(t *testing.T) {
	t.Parallel()

	cronTrig, err := ParseTrigger("@daily", time.Hour, time.UTC)
	require.NoError(t, err)
	assert.IsType(t, &CronTrigger{}, cronTrig)

	interval, err := ParseTrigger("", time.Hour, nil)
	require.NoError(t, err)
	assert.IsType(t, &IntervalTrigger{}, interval)

	_, err = ParseTrigger("", 0, nil)
	require.Error(t, err)
}
