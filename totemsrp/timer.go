package totemsrp

import "time"

// timer wraps a time.Timer with an explicit active flag, since spec.md §5
// requires synchronous cancellation ("a timer's callback runs only if not
// cancelled before firing") and Go's time.Timer.Stop does not guarantee a
// pending send is drained from the channel.
type timer struct {
	t      *time.Timer
	active bool
}

func newTimer() *timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &timer{t: t}
}

// Arm (re)schedules the timer to fire after d, cancelling any pending fire.
func (tm *timer) Arm(d time.Duration) {
	tm.Cancel()
	tm.t.Reset(d)
	tm.active = true
}

// Cancel stops the timer and drains a pending fire, if any.
func (tm *timer) Cancel() {
	if !tm.t.Stop() && tm.active {
		select {
		case <-tm.t.C:
		default:
		}
	}
	tm.active = false
}

// Fire marks the timer as no longer pending and reports whether the fire
// should be honored (it was still active when the channel sent).
func (tm *timer) Fire() bool {
	was := tm.active
	tm.active = false
	return was
}

// C exposes the underlying channel for select statements.
func (tm *timer) C() <-chan time.Time {
	return tm.t.C
}
