package report

import (
	"time"

	log "github.com/sirupsen/logrus"
)

//statusLogInterval throttles the periodic "still rate limited" status line
const statusLogInterval = 10 * time.Minute

type limiterState int

const (
	//stateNormal submits reports directly
	stateNormal limiterState = iota
	//stateLimited buffers reports until the daily quota resets
	stateLimited
)

type (
	//Limiter tracks whether the remote API is in a daily-quota-exceeded
	//condition and schedules the next reset. It is not safe for concurrent
	//use on its own; the Dispatcher serializes access.
	Limiter struct {
		logger *log.Logger

		state      limiterState
		resetAt    time.Time
		sentBulk   bool
		lastStatus time.Time
		now        func() time.Time
	}
)

//NewLimiter creates a Limiter in the normal, direct-submission state
func NewLimiter(logger *log.Logger) *Limiter {
	return &Limiter{
		logger: logger,
		now:    time.Now,
	}
}

//Limited returns true while the daily quota is exhausted
func (l *Limiter) Limited() bool {
	return l.state == stateLimited
}

//Trip transitions to the limited state after a quota-exceeded response.
//Returns true only on the transition itself so a burst of rejected
//submissions produces a single notification.
func (l *Limiter) Trip() bool {
	if l.state == stateLimited {
		return false
	}
	l.state = stateLimited
	l.sentBulk = false
	l.resetAt = NextUTCMidnight(l.now())
	l.lastStatus = time.Time{}

	l.logger.WithFields(log.Fields{
		"reset_at": l.resetAt.Format(time.RFC3339),
	}).Warn("Daily report quota exceeded, buffering reports until reset")
	return true
}

//ResetDue returns true when the limited period has elapsed
func (l *Limiter) ResetDue() bool {
	return l.state == stateLimited && !l.now().Before(l.resetAt)
}

//Clear returns to the normal state after a completed reset
func (l *Limiter) Clear() {
	l.state = stateNormal
	l.sentBulk = false
	l.resetAt = time.Time{}
	l.lastStatus = time.Time{}
	l.logger.Info("Daily report quota reset, resuming direct submissions")
}

//MarkBulkSent records that the pending bulk flush succeeded for this
//limited period
func (l *Limiter) MarkBulkSent() {
	l.sentBulk = true
}

//BulkSent returns true if a bulk submission already succeeded for this
//limited period
func (l *Limiter) BulkSent() bool {
	return l.sentBulk
}

//LogStatus emits a throttled status line with the minutes remaining until
//reset and the current buffer size
func (l *Limiter) LogStatus(buffered int) {
	if l.state != stateLimited {
		return
	}
	now := l.now()
	if !l.lastStatus.IsZero() && now.Sub(l.lastStatus) < statusLogInterval {
		return
	}
	l.lastStatus = now

	remaining := l.resetAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	l.logger.WithFields(log.Fields{
		"minutes_remaining": int(remaining.Minutes()),
		"buffered_ips":      buffered,
	}).Info("Rate limited, reports are being buffered")
}

//NextUTCMidnight returns the first UTC midnight after the given time
func NextUTCMidnight(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
