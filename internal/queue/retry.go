package queue

import "time"

// RetryPolicy bounds how often a failed job is re-run. A job is executed
// once and then retried up to MaxRetries times; the n-th retry waits
// Intervals[n-1], or the last interval when the list is shorter.
type RetryPolicy struct {
	MaxRetries int
	Intervals  []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Intervals:  []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second},
	}
}

// Next returns the delay before the next execution of a job that has
// already been executed attempts times. ok is false once retries are
// exhausted.
func (p RetryPolicy) Next(attempts int) (delay time.Duration, ok bool) {
	// after n executions the upcoming run is retry number n
	retry := attempts
	if retry < 1 || retry > p.MaxRetries {
		return 0, false
	}
	if len(p.Intervals) == 0 {
		return 0, true
	}
	if retry > len(p.Intervals) {
		return p.Intervals[len(p.Intervals)-1], true
	}
	return p.Intervals[retry-1], true
}
