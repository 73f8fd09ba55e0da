package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionless(t *testing.T) {
	m := Connectionless(40 * time.Millisecond)
	assert.Zero(t, m.Setup)
	assert.Zero(t, m.Teardown)
	assert.Equal(t, m.Total, m.Transfer)
}

func TestMeasureReturnsError(t *testing.T) {
	boom := errors.New("boom")
	d, err := Measure(func() error {
		time.Sleep(5 * time.Millisecond)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.GreaterOrEqual(t, d, 5*time.Millisecond)
}

func TestStopwatchPhasesFitInTotal(t *testing.T) {
	sw := StartStopwatch()
	require.NoError(t, sw.Setup(func() error { time.Sleep(2 * time.Millisecond); return nil }))
	require.NoError(t, sw.Transfer(func() error { time.Sleep(4 * time.Millisecond); return nil }))
	require.NoError(t, sw.Teardown(func() error { time.Sleep(2 * time.Millisecond); return nil }))
	m := sw.Stop()

	assert.GreaterOrEqual(t, m.Setup, 2*time.Millisecond)
	assert.GreaterOrEqual(t, m.Transfer, 4*time.Millisecond)
	assert.GreaterOrEqual(t, m.Total, m.Setup+m.Transfer+m.Teardown)
}

func TestSummarize(t *testing.T) {
	samples := []Metrics{
		{Setup: 10 * time.Millisecond, Transfer: 60 * time.Millisecond, Teardown: 10 * time.Millisecond, Total: 80 * time.Millisecond},
		{Setup: 30 * time.Millisecond, Transfer: 80 * time.Millisecond, Teardown: 10 * time.Millisecond, Total: 120 * time.Millisecond},
	}

	s := Summarize(samples)

	assert.Equal(t, 2, s.Trials)
	assert.Equal(t, Stat{Min: 10 * time.Millisecond, Max: 30 * time.Millisecond, Avg: 20 * time.Millisecond}, s.Setup)
	assert.Equal(t, 100*time.Millisecond, s.Total.Avg)
	assert.InDelta(t, 20.0, s.Breakdown.Setup, 0.001)
	assert.InDelta(t, 70.0, s.Breakdown.Transfer, 0.001)
	assert.InDelta(t, 10.0, s.Breakdown.Teardown, 0.001)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}
