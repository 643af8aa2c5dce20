// Package workers implements the per-client goroutine set: the accept
// loop and, per connected client, the receive/video-render/audio-render/
// send workers.
package workers

import "time"

// Pacer encapsulates adaptive-sleep pacing as a tiny state struct. The
// render workers always call Tick(0, 0), yielding a constant-rate sleep;
// the queue-depth signature stays generic so an adaptive policy can be
// dropped in later without reshaping callers.
type Pacer struct {
	interval time.Duration
	last     time.Time
}

// NewPacer creates a Pacer targeting the given constant-rate interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval, last: time.Now()}
}

// Tick returns the duration to sleep before the next iteration of the
// caller's loop, given the current and target queue depth. This core
// always calls Tick(0, 0), yielding a constant-rate sleep; the signature
// stays generic so a future adaptive policy can be dropped in without
// changing any caller.
func (p *Pacer) Tick(queueDepth, targetDepth int) time.Duration {
	now := time.Now()
	elapsed := now.Sub(p.last)
	p.last = now

	sleep := p.interval - elapsed
	if sleep < 0 {
		sleep = 0
	}
	return sleep
}

// Interval returns the pacer's configured target interval.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// LastTickAt returns the wall-clock time of the most recent Tick call.
func (p *Pacer) LastTickAt() time.Time {
	return p.last
}
