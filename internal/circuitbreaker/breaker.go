// Package circuitbreaker tracks model endpoint health. After a run of
// consecutive failures an endpoint is skipped for a cool-down period, then
// a single probe decides whether it is used again.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is an endpoint's breaker state.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls skipped
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "govgate",
	Subsystem: "invoker",
	Name:      "breaker_transitions_total",
	Help:      "Endpoint circuit breaker transitions by endpoint and state change.",
}, []string{"endpoint", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(breakerTransitions)
}

type endpoint struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker holds one circuit per endpoint key.
type Breaker struct {
	mu           sync.Mutex
	endpoints    map[string]*endpoint
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New creates a breaker that opens after threshold consecutive failures
// and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		endpoints:    make(map[string]*endpoint),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// OnTransition registers a callback run asynchronously on every state change.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call to key may proceed. An open circuit whose
// cool-down has elapsed admits exactly one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, ok := b.endpoints[key]
	if !ok {
		return true
	}
	switch ep.state {
	case StateOpen:
		if b.now().Sub(ep.openedAt) < b.openDuration {
			return false
		}
		b.transition(ep, key, StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit and clears the failure run.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, ok := b.endpoints[key]
	if !ok {
		return
	}
	ep.failures = 0
	b.transition(ep, key, StateClosed)
}

// RecordFailure counts a failure. A failed probe reopens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, ok := b.endpoints[key]
	if !ok {
		ep = &endpoint{}
		b.endpoints[key] = ep
	}
	ep.failures++

	switch {
	case ep.state == StateHalfOpen,
		ep.state == StateClosed && ep.failures >= b.threshold:
		ep.openedAt = b.now()
		b.transition(ep, key, StateOpen)
	}
}

// State returns key's current state; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ep, ok := b.endpoints[key]; ok {
		return ep.state
	}
	return StateClosed
}

// caller holds b.mu
func (b *Breaker) transition(ep *endpoint, key string, to State) {
	from := ep.state
	if from == to {
		return
	}
	ep.state = to
	breakerTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if fn := b.onTransition; fn != nil {
		go fn(key, from, to)
	}
}
