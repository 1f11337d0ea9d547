// Package pending is the correlation-id-keyed registry behind outbound
// requests.
//
// Every outbound request registers exactly one entry before its envelope is
// written. Whichever of {matching response, matching error, timer expiry,
// connection close} reaches Resolve first removes the entry under the lock
// and delivers the outcome; the losers find no entry and are no-ops. This
// gives the at-most-one-resolution guarantee without per-request listeners.
package pending

import (
	"sync"

	"github.com/shahriyardx/winerp-go/protocol"
)

// Outcome is the terminal result of one correlated request.
type Outcome struct {
	Data protocol.Payload
	Err  error
}

// Registry maps in-flight correlation ids to their waiter channels.
type Registry struct {
	mu      sync.Mutex
	entries map[string]chan Outcome
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]chan Outcome),
	}
}

// Add registers a waiter for id and returns its channel. The channel is
// buffered so the resolving side never blocks.
func (r *Registry) Add(id string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = ch
	return ch
}

// Resolve delivers out to the waiter for id, if one is still registered.
// The entry is removed before delivery, so a second Resolve for the same id
// reports false and has no effect.
func (r *Registry) Resolve(id string, out Outcome) bool {
	r.mu.Lock()
	ch, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- out
	return true
}

// Remove drops the entry for id without delivering an outcome. Used when the
// envelope write fails before anything can arrive.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// FailAll resolves every outstanding entry with err. Called when the
// transport closes underneath the client.
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]chan Outcome)
	r.mu.Unlock()
	for _, ch := range entries {
		ch <- Outcome{Err: err}
	}
}

// Len reports the number of requests still awaiting resolution.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
