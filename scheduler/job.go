package scheduler

import (
	"sync"
	"time"

	"github.com/liamcoop/automate/cronspec"
)

// job binds a rule ID to a running timer loop. It holds no rule data; the
// rule is fetched fresh on every firing.
type job struct {
	ruleID   string
	schedule *cronspec.Schedule

	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	next   time.Time
	firing bool
}

func newJob(ruleID string, sched *cronspec.Schedule) *job {
	return &job{ruleID: ruleID, schedule: sched, stop: make(chan struct{})}
}

// halt stops the timer loop. Safe to call more than once.
func (j *job) halt() {
	j.stopOnce.Do(func() { close(j.stop) })
}

func (j *job) stopped() bool {
	select {
	case <-j.stop:
		return true
	default:
		return false
	}
}

func (j *job) run(s *Scheduler) {
	var last time.Time
	for {
		from := s.clock.Now()
		if from.Before(last) {
			from = last
		}
		next := j.schedule.Next(from)
		if next.IsZero() {
			return
		}
		j.setNext(next)

		timer := time.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-j.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		last = next

		j.setFiring(true)
		s.ExecuteScheduledRule(s.base, j.ruleID)
		j.setFiring(false)

		if j.stopped() {
			return
		}
	}
}

func (j *job) setNext(t time.Time) {
	j.mu.Lock()
	j.next = t
	j.mu.Unlock()
}

func (j *job) setFiring(v bool) {
	j.mu.Lock()
	j.firing = v
	j.mu.Unlock()
}

func (j *job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		RuleID:   j.ruleID,
		Schedule: j.schedule.String(),
		Running:  !j.stopped(),
		Firing:   j.firing,
	}
	if !j.next.IsZero() {
		next := j.next
		st.NextFireTime = &next
	}
	return st
}
