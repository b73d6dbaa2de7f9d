package idle

import "time"

// Tracker holds the idle timer state for one server instance.
//
// The threshold grows by one base period every time it fires and only drops
// back to the base value once a player is seen again.
type Tracker struct {
	base       time.Duration
	threshold  time.Duration
	lastActive time.Time
	wasEmpty   bool
}

// Decision is the outcome of one observation
type Decision int

const (
	// NoChange means the sample did not change the idle state
	NoChange Decision = iota
	// TimerStarted means the first empty sample was seen
	TimerStarted
	// TimerReset means players came back after an empty period
	TimerReset
	// ThresholdReached means the server has been empty long enough to restart
	ThresholdReached
)

// NewTracker creates a tracker whose last activity is start
func NewTracker(base time.Duration, start time.Time) *Tracker {
	return &Tracker{
		base:       base,
		threshold:  base,
		lastActive: start,
	}
}

// Observe applies one successful player count sample taken at now
func (t *Tracker) Observe(now time.Time, count int) Decision {
	if count > 0 {
		decision := NoChange
		if t.wasEmpty {
			decision = TimerReset
		}
		t.wasEmpty = false
		t.threshold = t.base
		t.lastActive = now
		return decision
	}

	decision := NoChange
	if !t.wasEmpty {
		t.wasEmpty = true
		t.lastActive = now
		decision = TimerStarted
	}

	if now.Sub(t.lastActive) >= t.threshold {
		t.threshold += t.base
		return ThresholdReached
	}
	return decision
}

// Threshold returns the current idle threshold
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// IdleFor returns how long the server has been empty, or zero
func (t *Tracker) IdleFor(now time.Time) time.Duration {
	if !t.wasEmpty {
		return 0
	}
	return now.Sub(t.lastActive)
}
