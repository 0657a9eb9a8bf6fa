package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/promalert/pkg/models"
)

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestTransitionScenarios(t *testing.T) {
	limits := Limits{Repeat: 300 * time.Second, MaxDuration: time.Hour}

	// A: ok -> alerting with one notification.
	a := Transition(Snapshot{State: models.StateOK}, true, noon, limits)
	require.Equal(t, models.StateAlerting, a.Next.State)
	require.True(t, a.Notify)
	afterA := a.RecordSend(noon)
	assert.Equal(t, 1, afterA.SendCount)
	require.NotNil(t, afterA.AlertEpisodeStart)
	assert.Equal(t, noon, *afterA.AlertEpisodeStart)

	// B: 30s later, still triggered, inside the repeat window.
	tickB := noon.Add(30 * time.Second)
	b := Transition(afterA, true, tickB, limits)
	assert.Equal(t, models.StateSilenced, b.Next.State)
	assert.Equal(t, ReasonRepeat, b.Reason)
	assert.False(t, b.Notify)
	assert.Equal(t, 1, b.Next.SendCount)

	// C: 310s after B the repeat window has cleared.
	tickC := tickB.Add(310 * time.Second)
	c := Transition(b.Next, true, tickC, limits)
	assert.Equal(t, models.StateAlerting, c.Next.State)
	require.True(t, c.Notify)
	afterC := c.RecordSend(tickC)
	assert.Equal(t, 2, afterC.SendCount)
	assert.Equal(t, noon, *afterC.AlertEpisodeStart, "episode start is kept across re-alerts")

	// D: value drops, condition false.
	d := Transition(afterC, false, tickC.Add(30*time.Second), limits)
	assert.Equal(t, models.StateOK, d.Next.State)
	assert.Equal(t, 0, d.Next.SendCount)
	assert.Nil(t, d.Next.AlertEpisodeStart)
	assert.False(t, d.Notify)
}

func TestTransitionMaxDurationWins(t *testing.T) {
	// E: episode has lasted an hour, repeat and suppress windows are clear.
	prev := Snapshot{
		State:              models.StateSilenced,
		SendCount:          2,
		AlertEpisodeStart:  ptr(noon.Add(-time.Hour)),
		LastNotificationAt: ptr(noon.Add(-20 * time.Minute)),
	}
	d := Transition(prev, true, noon, Limits{
		MaxDuration: time.Hour,
		Repeat:      5 * time.Minute,
		Suppress:    5 * time.Minute,
	})
	assert.Equal(t, models.StateSilenced, d.Next.State)
	assert.Equal(t, ReasonMaxDuration, d.Reason)
	assert.False(t, d.Notify)
}

func TestTransitionPrecedence(t *testing.T) {
	last := noon.Add(-time.Minute)
	start := noon.Add(-10 * time.Minute)

	tests := []struct {
		name   string
		prev   Snapshot
		limits Limits
		want   models.AlertState
		reason Reason
		notify bool
	}{
		{
			name:   "send count cap",
			prev:   Snapshot{State: models.StateAlerting, SendCount: 3, AlertEpisodeStart: &start, LastNotificationAt: &last},
			limits: Limits{MaxSendCount: 3, Suppress: time.Hour},
			want:   models.StateSilenced,
			reason: ReasonMaxSendCount,
		},
		{
			name:   "suppress before repeat",
			prev:   Snapshot{State: models.StateAlerting, SendCount: 1, AlertEpisodeStart: &start, LastNotificationAt: &last},
			limits: Limits{Suppress: 2 * time.Minute, Repeat: 2 * time.Minute},
			want:   models.StateSilenced,
			reason: ReasonSuppress,
		},
		{
			name:   "silenced promoted when windows clear",
			prev:   Snapshot{State: models.StateSilenced, SendCount: 1, AlertEpisodeStart: &start, LastNotificationAt: &last},
			limits: Limits{Suppress: 30 * time.Second, Repeat: 30 * time.Second},
			want:   models.StateAlerting,
			reason: ReasonTriggered,
			notify: true,
		},
		{
			name:   "continuous alerting does not renotify",
			prev:   Snapshot{State: models.StateAlerting, SendCount: 1, AlertEpisodeStart: &start, LastNotificationAt: &last},
			limits: Limits{},
			want:   models.StateAlerting,
			reason: ReasonTriggered,
		},
		{
			name:   "windows ignored without a previous notification",
			prev:   Snapshot{State: models.StateSilenced, AlertEpisodeStart: &start},
			limits: Limits{Suppress: time.Hour, Repeat: time.Hour},
			want:   models.StateAlerting,
			reason: ReasonTriggered,
			notify: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Transition(tt.prev, true, noon, tt.limits)
			assert.Equal(t, tt.want, d.Next.State)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.notify, d.Notify)
		})
	}
}

func TestTransitionDayRollover(t *testing.T) {
	yesterday := noon.Add(-24 * time.Hour)
	prev := Snapshot{
		State:              models.StateSilenced,
		SendCount:          5,
		AlertEpisodeStart:  ptr(yesterday.Add(-time.Hour)),
		LastNotificationAt: &yesterday,
	}

	d := Transition(prev, true, noon, Limits{MaxSendCount: 5, MaxDuration: 2 * time.Hour})
	assert.Equal(t, 0, d.Next.SendCount)
	require.NotNil(t, d.Next.AlertEpisodeStart)
	assert.Equal(t, noon, *d.Next.AlertEpisodeStart)
	assert.Equal(t, models.StateAlerting, d.Next.State)
	assert.True(t, d.Notify)
}

func TestTransitionNotTriggeredIsIdempotent(t *testing.T) {
	s := Snapshot{State: models.StateAlerting, SendCount: 2, AlertEpisodeStart: ptr(noon), LastNotificationAt: ptr(noon)}
	now := noon
	for i := 0; i < 5; i++ {
		now = now.Add(30 * time.Second)
		d := Transition(s, false, now, Limits{})
		assert.Equal(t, models.StateOK, d.Next.State)
		assert.Zero(t, d.Next.SendCount)
		assert.Nil(t, d.Next.AlertEpisodeStart)
		assert.False(t, d.Notify)
		s = d.Next
	}
}

func TestTransitionInvariants(t *testing.T) {
	limits := Limits{Repeat: 90 * time.Second, Suppress: 45 * time.Second, MaxSendCount: 4, MaxDuration: 20 * time.Minute}
	pattern := []bool{true, true, false, true, true, true, true, true, false, false, true}

	s := Snapshot{State: models.StateOK}
	now := noon
	sends := 0
	for i := 0; i < 200; i++ {
		now = now.Add(30 * time.Second)
		triggered := pattern[i%len(pattern)]
		d := Transition(s, triggered, now, limits)
		next := d.Next
		if d.Notify {
			require.Contains(t, []models.AlertState{models.StateOK, models.StateSilenced}, d.Prev)
			next = d.RecordSend(now)
			require.Equal(t, d.Next.SendCount+1, next.SendCount)
			sends++
		}

		require.True(t, next.State.IsValid())
		if next.State == models.StateOK {
			require.Zero(t, next.SendCount)
			require.Nil(t, next.AlertEpisodeStart)
		} else {
			require.NotNil(t, next.AlertEpisodeStart)
		}
		s = next
	}
	assert.Positive(t, sends)
}

func TestTransitionUnknownPreviousStateTreatedAsOK(t *testing.T) {
	d := Transition(Snapshot{State: "paused"}, true, noon, Limits{})
	assert.Equal(t, models.StateOK, d.Prev)
	assert.Equal(t, models.StateAlerting, d.Next.State)
	assert.True(t, d.Notify)
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"300", 300 * time.Second, false},
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{" 10M ", 10 * time.Minute, false},
		{"abc", 0, true},
		{"-5m", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseWindow(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLimitsForBadSuppress(t *testing.T) {
	l, err := LimitsFor(&models.Rule{Suppress: "soon", RepeatSeconds: 60, MaxSendCount: 2})
	require.Error(t, err)
	assert.Zero(t, l.Suppress)
	assert.Equal(t, time.Minute, l.Repeat)
	assert.Equal(t, 2, l.MaxSendCount)
}
