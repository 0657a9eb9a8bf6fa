package alerts

import (
	"time"

	"github.com/mr-karan/promalert/pkg/models"
)

// Snapshot holds the engine-owned state fields of a rule.
type Snapshot struct {
	State              models.AlertState
	SendCount          int
	AlertEpisodeStart  *time.Time
	LastNotificationAt *time.Time
}

// SnapshotOf extracts the state fields of r.
func SnapshotOf(r *models.Rule) Snapshot {
	return Snapshot{
		State:              r.State,
		SendCount:          r.SendCount,
		AlertEpisodeStart:  r.AlertEpisodeStart,
		LastNotificationAt: r.LastNotificationAt,
	}
}

// Limits are the timing and count limits of a rule. Zero disables a limit.
type Limits struct {
	MaxDuration  time.Duration
	MaxSendCount int
	Suppress     time.Duration
	Repeat       time.Duration
}

// LimitsFor derives the limits of r. An unparsable suppress interval is
// returned as an error alongside limits that leave suppression disabled.
func LimitsFor(r *models.Rule) (Limits, error) {
	l := Limits{
		MaxDuration:  time.Duration(r.MaxDurationSeconds) * time.Second,
		MaxSendCount: r.MaxSendCount,
		Repeat:       time.Duration(r.RepeatSeconds) * time.Second,
	}
	suppress, err := ParseWindow(r.Suppress)
	if err != nil {
		return l, err
	}
	l.Suppress = suppress
	return l, nil
}

// Reason explains the state chosen by Transition.
type Reason string

const (
	ReasonNotTriggered Reason = "not_triggered"
	ReasonTriggered    Reason = "triggered"
	ReasonMaxDuration  Reason = "max_duration"
	ReasonMaxSendCount Reason = "max_send_count"
	ReasonSuppress     Reason = "suppress_window"
	ReasonRepeat       Reason = "repeat_window"
)

// Decision is the outcome of one state transition.
type Decision struct {
	Prev   models.AlertState
	Next   Snapshot
	Reason Reason
	// Notify is set on edges into alerting from ok or silenced.
	Notify bool
}

// RecordSend returns the next snapshot with a notification attempt at now
// accounted for.
func (d Decision) RecordSend(now time.Time) Snapshot {
	s := d.Next
	s.SendCount++
	t := now
	s.LastNotificationAt = &t
	return s
}

// Transition computes the next state of a rule. It performs no I/O.
func Transition(prev Snapshot, triggered bool, now time.Time, l Limits) Decision {
	prevState := prev.State
	if !prevState.IsValid() {
		prevState = models.StateOK
	}

	next := prev
	next.State = prevState

	if next.LastNotificationAt != nil && dateBefore(*next.LastNotificationAt, now) {
		next.SendCount = 0
		next.AlertEpisodeStart = nil
	}

	if !triggered {
		next.State = models.StateOK
		next.SendCount = 0
		next.AlertEpisodeStart = nil
		return Decision{Prev: prevState, Next: next, Reason: ReasonNotTriggered}
	}

	if next.AlertEpisodeStart == nil {
		t := now
		next.AlertEpisodeStart = &t
	}

	reason := ReasonTriggered
	if prevState == models.StateOK {
		next.State = models.StateAlerting
	} else {
		next.State, reason = limitState(next, now, l)
	}

	return Decision{
		Prev:   prevState,
		Next:   next,
		Reason: reason,
		Notify: prevState != models.StateAlerting && next.State == models.StateAlerting,
	}
}

// limitState applies the silencing checks in precedence order.
func limitState(s Snapshot, now time.Time, l Limits) (models.AlertState, Reason) {
	if l.MaxDuration > 0 && s.AlertEpisodeStart != nil && !now.Before(s.AlertEpisodeStart.Add(l.MaxDuration)) {
		return models.StateSilenced, ReasonMaxDuration
	}
	if l.MaxSendCount > 0 && s.SendCount >= l.MaxSendCount {
		return models.StateSilenced, ReasonMaxSendCount
	}
	if s.LastNotificationAt != nil {
		if l.Suppress > 0 && now.Before(s.LastNotificationAt.Add(l.Suppress)) {
			return models.StateSilenced, ReasonSuppress
		}
		if l.Repeat > 0 && now.Before(s.LastNotificationAt.Add(l.Repeat)) {
			return models.StateSilenced, ReasonRepeat
		}
	}
	return models.StateAlerting, ReasonTriggered
}

// dateBefore reports whether t falls on an earlier calendar day than now,
// in now's location.
func dateBefore(t, now time.Time) bool {
	ty, tm, td := t.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	if ty != ny {
		return ty < ny
	}
	if tm != nm {
		return tm < nm
	}
	return td < nd
}
