// Package demo runs the bypass demonstration: whether a bypassed put gets a
// post-write call depends on the other puts in its batch.
package demo

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"bypasskv/internal/cluster"
	"bypasskv/internal/faults"
	"bypasskv/internal/hooks"
	"bypasskv/internal/model"
)

var (
	BypassedPutKey    = []byte("bypassed put")
	NonBypassedPutKey = []byte("non bypassed put")
)

const (
	Family    = "f"
	Qualifier = "qualifier"
	Value     = "value"
)

// Step is one batch of the demonstration and the counter growth it must
// produce.
type Step struct {
	Name  string
	Batch []model.Mutation
	Want  hooks.Snapshot
}

// Steps returns the two batches. Both puts differ only in their row key.
func Steps() []Step {
	payload := model.Payload{model.Column(Family, Qualifier): []byte(Value)}
	bypassed := model.NewPut(BypassedPutKey, payload)
	nonBypassed := model.NewPut(NonBypassedPutKey, payload)

	return []Step{
		{
			// one put is not bypassed, its position does not matter
			Name:  "mixed batch",
			Batch: []model.Mutation{bypassed, nonBypassed, bypassed, bypassed},
			Want:  hooks.Snapshot{PreCount: 4, PostCount: 4},
		},
		{
			Name:  "fully bypassed batch",
			Batch: []model.Mutation{bypassed, bypassed, bypassed, bypassed},
			Want:  hooks.Snapshot{PreCount: 4, PostCount: 0},
		},
	}
}

// Run installs the bypass predicate, submits each step and checks the
// counters. Counter growth is measured from the counters at the start, so a
// fresh region ends at 8 pre-writes and 4 post-writes. Progress is written to
// out. A deviation is a *faults.AssertionFault.
func Run(ctx context.Context, region cluster.Region, counters cluster.CounterReader, out io.Writer) error {
	if err := region.SetPredicate(ctx, hooks.NewKeySet(BypassedPutKey)); err != nil {
		return errors.Wrap(err, "install bypass predicate")
	}

	base, err := counters.Snapshot(ctx)
	if err != nil {
		return errors.Wrap(err, "read counters")
	}

	want := hooks.Snapshot{}
	for _, step := range Steps() {
		before, err := counters.Snapshot(ctx)
		if err != nil {
			return errors.Wrap(err, "read counters")
		}
		if err := region.BatchMutate(ctx, step.Batch); err != nil {
			return errors.Wrapf(err, "batch %q", step.Name)
		}
		after, err := counters.Snapshot(ctx)
		if err != nil {
			return errors.Wrap(err, "read counters")
		}

		if got := after.Sub(before); got != step.Want {
			return &faults.AssertionFault{Step: step.Name, Want: format(step.Want), Got: format(got)}
		}
		want.PreCount += step.Want.PreCount
		want.PostCount += step.Want.PostCount
		total := after.Sub(base)
		if total != want {
			return &faults.AssertionFault{Step: step.Name + " (cumulative)", Want: format(want), Got: format(total)}
		}
		fmt.Fprintf(out, "%s: %d puts, pre-write calls %d, post-write calls %d\n", step.Name, len(step.Batch), total.PreCount, total.PostCount)
	}

	if _, found, err := region.Get(ctx, BypassedPutKey); err != nil {
		return errors.Wrap(err, "read bypassed row")
	} else if found {
		return &faults.AssertionFault{Step: "write check", Want: "bypassed put not written", Got: "bypassed put written"}
	}
	if _, found, err := region.Get(ctx, NonBypassedPutKey); err != nil {
		return errors.Wrap(err, "read non-bypassed row")
	} else if !found {
		return &faults.AssertionFault{Step: "write check", Want: "non-bypassed put written", Got: "row absent"}
	}
	return nil
}

func format(s hooks.Snapshot) string {
	return fmt.Sprintf("pre=%d post=%d", s.PreCount, s.PostCount)
}
