package node

import "time"

// timer is a deadline polled by the loop. A zero period makes it one-shot.
type timer struct {
	deadline time.Time
	period   time.Duration
	armed    bool
}

func (t *timer) once(now time.Time, d time.Duration) {
	t.deadline = now.Add(d)
	t.period = 0
	t.armed = true
}

func (t *timer) every(now time.Time, d time.Duration) {
	t.deadline = now.Add(d)
	t.period = d
	t.armed = true
}

func (t *timer) stop() {
	t.armed = false
}

func (t *timer) active() bool {
	return t.armed
}

// fired reports whether the deadline has passed. Repeating timers move to the
// next period after now; missed periods are not replayed.
func (t *timer) fired(now time.Time) bool {
	if !t.armed || now.Before(t.deadline) {
		return false
	}
	if t.period > 0 {
		for !t.deadline.After(now) {
			t.deadline = t.deadline.Add(t.period)
		}
	} else {
		t.armed = false
	}
	return true
}
