package gateway

import (
	"sync"
	"time"
)

const (
	defaultRequestsPerMinute = 60
	defaultClientConcurrent  = 4
	defaultMaxStreams        = 32
)

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter creates a rate limiter with custom limits
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// CheckRequestAllowed checks if a request is allowed under rate limits
func (r *ClientRateLimiter) CheckRequestAllowed() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests >= r.maxConcurrent {
		return false, "too many concurrent streams"
	}

	r.prune()
	if len(r.requests) >= r.requestsPerMinute {
		return false, "rate limit exceeded"
	}
	return true, ""
}

// RecordRequestStart records the start of a request
func (r *ClientRateLimiter) RecordRequestStart() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = append(r.requests, r.now())
	r.concurrentRequests++
}

// RecordRequestEnd records the end of a request
func (r *ClientRateLimiter) RecordRequestEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// Idle reports whether the client has no streams and no requests in the window.
func (r *ClientRateLimiter) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	return r.concurrentRequests == 0 && len(r.requests) == 0
}

// prune drops requests older than one minute. Caller holds r.mu.
func (r *ClientRateLimiter) prune() {
	cutoff := r.now().Add(-time.Minute)
	valid := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.requests = valid
}

// StreamLimiter bounds open streams process-wide and per client.
type StreamLimiter struct {
	mu                sync.Mutex
	maxStreams        int
	open              int
	requestsPerMinute int
	clientConcurrent  int
	clients           map[string]*ClientRateLimiter
}

// NewStreamLimiter creates a limiter allowing maxStreams concurrent streams.
func NewStreamLimiter(maxStreams int) *StreamLimiter {
	if maxStreams <= 0 {
		maxStreams = defaultMaxStreams
	}
	return &StreamLimiter{
		maxStreams:        maxStreams,
		requestsPerMinute: defaultRequestsPerMinute,
		clientConcurrent:  defaultClientConcurrent,
		clients:           make(map[string]*ClientRateLimiter),
	}
}

// Acquire reserves a stream slot for client. The returned release must be called once
// the stream ends.
func (l *StreamLimiter) Acquire(client string) (func(), bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open >= l.maxStreams {
		return nil, false, "server is at stream capacity"
	}

	cl, ok := l.clients[client]
	if !ok {
		cl = NewClientRateLimiter(l.requestsPerMinute, l.clientConcurrent)
		l.clients[client] = cl
	}
	if allowed, reason := cl.CheckRequestAllowed(); !allowed {
		return nil, false, reason
	}

	cl.RecordRequestStart()
	l.open++

	var once sync.Once
	return func() {
		once.Do(func() {
			cl.RecordRequestEnd()
			l.mu.Lock()
			l.open--
			if l.clients[client] == cl && cl.Idle() {
				delete(l.clients, client)
			}
			l.mu.Unlock()
		})
	}, true, ""
}

// Open returns the number of open streams
func (l *StreamLimiter) Open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}
