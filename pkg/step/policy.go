package step

import (
	"math/rand"
	"time"
)

// Policy controls how a failing step is retried.
type Policy struct {
	// MaxRetries is the number of attempts made after the first one fails.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultPolicy retries each step three times with jittered exponential backoff.
var DefaultPolicy = Policy{
	MaxRetries: 3,
	BaseDelay:  200 * time.Millisecond,
	MaxDelay:   5 * time.Second,
	Jitter:     true,
}

func (p Policy) normalized() Policy {
	q := p
	if q.BaseDelay <= 0 {
		q.BaseDelay = 200 * time.Millisecond
	}
	if q.MaxDelay <= 0 {
		q.MaxDelay = 5 * time.Second
	}
	if q.MaxDelay < q.BaseDelay {
		q.MaxDelay = q.BaseDelay
	}
	if q.MaxRetries < 0 {
		q.MaxRetries = 0
	}
	return q
}

// Backoff returns how long to wait before the given retry attempt (starting at 0).
func (p Policy) Backoff(attempt int) time.Duration {
	q := p.normalized()
	d := q.BaseDelay << attempt
	if d > q.MaxDelay || d <= 0 {
		d = q.MaxDelay
	}
	if !q.Jitter {
		return d
	}
	// pick a delay between half and all of d
	half := d / 2
	if half <= 0 {
		return d
	}
	delta := time.Duration(rand.Int63n(int64(half))) // #nosec G404 non-crypto
	return half + delta
}
