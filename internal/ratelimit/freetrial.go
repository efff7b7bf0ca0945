package ratelimit

import "sync"

// DefaultFreeTrialLimit is the lifetime number of calls a caller may make
// to one API through the free trial.
const DefaultFreeTrialLimit = 50

// FreeTrial counts calls per (caller, API) pair against a fixed ceiling.
// It is independent of the tiered buckets and lives only in memory.
type FreeTrial struct {
	mu    sync.Mutex
	limit int
	used  map[trialKey]int
}

type trialKey struct {
	caller string
	api    string
}

func NewFreeTrial(limit int) *FreeTrial {
	if limit <= 0 {
		limit = DefaultFreeTrialLimit
	}
	return &FreeTrial{limit: limit, used: make(map[trialKey]int)}
}

// Allow records one call and reports whether it was within the trial.
func (f *FreeTrial) Allow(caller, api string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := trialKey{caller, api}
	if f.used[k] >= f.limit {
		return false
	}
	f.used[k]++
	return true
}

func (f *FreeTrial) Remaining(caller, api string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	left := f.limit - f.used[trialKey{caller, api}]
	if left < 0 {
		return 0
	}
	return left
}
