package hooks

import (
	"sync"

	"github.com/pkg/errors"

	"bypasskv/internal/model"
)

// ApplyFunc writes one non-bypassed mutation of a batch to storage. index is
// the mutation's position in the batch.
type ApplyFunc func(index int, mut model.Mutation) error

// Outcome describes what happened to one batch. It is not kept after the
// batch returns.
type Outcome struct {
	Bypassed  []bool
	Applied   int
	PostFired bool
}

/*
Host runs the pre-write/post-write protocol for every batch of a region.

For a batch of N mutations:
  - pre-write fires for all N, in order, and records the bypass decision of
    the currently installed predicate for each one;
  - every non-bypassed mutation is handed to the ApplyFunc, bypassed ones are
    skipped;
  - post-write then fires for all N mutations if at least one of them was not
    bypassed, and for none of them otherwise.

The post-write decision is batch-wide: a bypassed mutation receives a
post-write call exactly when one of its siblings was applied. This matches the
storage engine being modelled and must not be "fixed" to a per-mutation rule.

Host does not serialize batches; the owning region holds its lock around
Intercept.
*/
type Host struct {
	mu        sync.RWMutex
	predicate BypassPredicate
	counters  *Counters
}

func NewHost(predicate BypassPredicate) *Host {
	if predicate == nil {
		predicate = NeverBypass
	}
	return &Host{predicate: predicate, counters: &Counters{}}
}

// SetPredicate replaces the bypass predicate. Batches that already finished
// are unaffected; the next pre-write reads the new predicate.
func (h *Host) SetPredicate(predicate BypassPredicate) {
	if predicate == nil {
		predicate = NeverBypass
	}
	h.mu.Lock()
	h.predicate = predicate
	h.mu.Unlock()
}

func (h *Host) Predicate() BypassPredicate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.predicate
}

func (h *Host) Counters() *Counters {
	return h.counters
}

// PrePut is the pre-write hook. It always counts, then asks the predicate
// whether the mutation is bypassed.
func (h *Host) PrePut(mut model.Mutation) (bool, error) {
	h.counters.pre.Add(1)
	bypass, err := h.Predicate().Bypass(mut)
	if err != nil {
		return false, errors.Wrapf(err, "bypass predicate on key %q", mut.Key)
	}
	return bypass, nil
}

// PostPut is the post-write hook.
func (h *Host) PostPut(model.Mutation) {
	h.counters.post.Add(1)
}

// Intercept drives one batch through the hook protocol. A predicate error
// stops the batch before anything is applied. An apply error stops the batch
// at that mutation: earlier mutations stay applied and no post-write fires.
// An empty batch is a no-op.
func (h *Host) Intercept(batch []model.Mutation, apply ApplyFunc) (Outcome, error) {
	out := Outcome{Bypassed: make([]bool, len(batch))}
	if len(batch) == 0 {
		return out, nil
	}

	anyNonBypassed := false
	for i, mut := range batch {
		bypass, err := h.PrePut(mut)
		if err != nil {
			return out, errors.Wrapf(err, "pre-write of operation %d", i)
		}
		out.Bypassed[i] = bypass
		if !bypass {
			anyNonBypassed = true
		}
	}

	for i, mut := range batch {
		if out.Bypassed[i] {
			continue
		}
		if err := apply(i, mut); err != nil {
			return out, err
		}
		out.Applied++
	}

	if !anyNonBypassed {
		return out, nil
	}
	for _, mut := range batch {
		h.PostPut(mut)
	}
	out.PostFired = true
	return out, nil
}
