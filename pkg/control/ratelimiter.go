package control

import (
	"sync"

	"golang.org/x/time/rate"
)

// ClientRateLimiter bounds one client's request rate with a token bucket
// and caps its in-flight requests.
type ClientRateLimiter struct {
	limiter *rate.Limiter

	mu                 sync.Mutex
	maxConcurrent      int
	concurrentRequests int
}

// NewClientRateLimiter allows perSecond requests with the given burst and
// at most maxConcurrent in flight.
func NewClientRateLimiter(perSecond float64, burst, maxConcurrent int) *ClientRateLimiter {
	if perSecond <= 0 {
		perSecond = 20
	}
	if burst <= 0 {
		burst = 40
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &ClientRateLimiter{
		limiter:       rate.NewLimiter(rate.Limit(perSecond), burst),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire reserves a slot for one request. On success the caller must call
// Release when the request ends.
func (r *ClientRateLimiter) Acquire() (bool, int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests >= r.maxConcurrent {
		return false, TooManyConcurrent, "too many concurrent requests"
	}
	if !r.limiter.Allow() {
		return false, RateLimitExceeded, "rate limit exceeded"
	}
	r.concurrentRequests++
	return true, 0, ""
}

// Release ends a request started with Acquire.
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// InFlight returns the number of requests currently holding a slot.
func (r *ClientRateLimiter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.concurrentRequests
}
