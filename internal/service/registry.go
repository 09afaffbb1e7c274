package service

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DistributedLock guards simulation keys across service replicas. A key is
// owned by the token that acquired it; Refresh and Release are no-ops for
// any other token.
type DistributedLock interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// Registry tracks the active simulation for every order and drone key.
// It is the only shared mutable state the simulator touches directly.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Acquire marks all keys as owned by run. It is all-or-nothing: if any key
// is already held, nothing is marked and the first held key is returned.
func (r *Registry) Acquire(run *Run, keys ...string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		if _, held := r.runs[k]; held {
			return k, false
		}
	}
	for _, k := range keys {
		r.runs[k] = run
	}
	return "", true
}

// Release removes the keys still owned by run.
func (r *Registry) Release(run *Run, keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		if r.runs[k] == run {
			delete(r.runs, k)
		}
	}
}

// Get returns the run holding key.
func (r *Registry) Get(key string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[key]
	return run, ok
}

// Runs returns each distinct active run once.
func (r *Registry) Runs() []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[*Run]struct{}, len(r.runs))
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		if _, ok := seen[run]; ok {
			continue
		}
		seen[run] = struct{}{}
		runs = append(runs, run)
	}
	return runs
}

func orderKey(orderID string) string { return "order:" + orderID }

func droneKey(droneID string) string { return "drone:" + droneID }

// conflictError maps a held key to the start error it causes.
func conflictError(key string) error {
	if strings.HasPrefix(key, "drone:") {
		return ErrDroneBusy
	}
	return ErrDuplicateStart
}

func runKeys(orderID, droneID string) []string {
	keys := []string{orderKey(orderID)}
	if droneID != "" {
		keys = append(keys, droneKey(droneID))
	}
	return keys
}
