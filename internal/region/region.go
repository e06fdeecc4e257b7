package region

import (
	"context"
	"log"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bypasskv/internal/engine"
	"bypasskv/internal/faults"
	"bypasskv/internal/hooks"
	"bypasskv/internal/model"
	"bypasskv/internal/storage"
)

const (
	DefaultTable     = "BypassTestTable"
	DefaultFamily    = "f"
	DefaultCapacity  = 1 << 16
	DefaultQualifier = "qualifier"
)

type Options struct {
	Table    string
	Family   string
	Capacity int
	// CommitLog enables the write-ahead log when Path is set.
	CommitLog engine.CommitLogCfg
	// Predicate is the initial bypass predicate; nil never bypasses.
	Predicate hooks.BypassPredicate
}

func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Table, validation.Required),
		validation.Field(&o.Family, validation.Required),
		validation.Field(&o.Capacity, validation.Required, validation.Min(1)),
	)
}

// Region owns one table's key space and the interceptor host that every batch
// goes through. Batches are serialized: the region lock is held from the
// first pre-write to the last post-write, so the batch-wide post-write
// decision never mixes two batches.
type Region struct {
	id     uuid.UUID
	table  string
	family string

	mu     sync.Mutex
	keys   *storage.KeySpace
	host   *hooks.Host
	wal    *engine.CommitLogManager
	closed bool
}

func Open(ctx context.Context, opts Options) (*Region, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "region options")
	}
	keys, err := storage.NewKeySpace(opts.Capacity)
	if err != nil {
		return nil, err
	}

	r := &Region{
		id:     uuid.New(),
		table:  opts.Table,
		family: opts.Family,
		keys:   keys,
		host:   hooks.NewHost(opts.Predicate),
	}

	if opts.CommitLog.Path != "" {
		if err := r.Recover(opts.CommitLog.Path); err != nil {
			return nil, err
		}
		// the log lives until Close, not until ctx is done
		wal, err := engine.NewCommitLogManager(context.WithoutCancel(ctx), opts.CommitLog)
		if err != nil {
			return nil, errors.Wrap(err, "open commit log")
		}
		r.wal = wal
	}

	log.Printf("region %s opened for table %s (family %s, capacity %d)", r.id, r.table, r.family, opts.Capacity)
	return r, nil
}

// Recover replays the commit log at path into the key space. Hooks do not
// fire for replayed mutations and the counters are left untouched.
func (r *Region) Recover(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	muts := engine.Load(path)
	for i, mut := range muts {
		if err := r.keys.Apply(mut); err != nil {
			return &faults.StorageFault{Index: i, Key: mut.Key, Cause: errors.Wrap(err, "replay commit log")}
		}
	}
	if len(muts) > 0 {
		log.Printf("region %s replayed %d mutations from %s", r.id, len(muts), path)
	}
	return nil
}

func (r *Region) ID() uuid.UUID  { return r.id }
func (r *Region) Table() string  { return r.table }
func (r *Region) Family() string { return r.family }

func (r *Region) Host() *hooks.Host {
	return r.host
}

func (r *Region) Counters() *hooks.Counters {
	return r.host.Counters()
}

// SetPredicate installs a new bypass predicate. It waits for a running batch
// to finish, so a batch always sees one predicate.
func (r *Region) SetPredicate(predicate hooks.BypassPredicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host.SetPredicate(predicate)
}

// BatchMutate runs one batch through the hook protocol and applies the
// non-bypassed mutations. A failing write returns a *faults.StorageFault;
// mutations applied before it are kept and no post-write fires. A closed
// region refuses every batch before any hook runs.
func (r *Region) BatchMutate(ctx context.Context, batch []model.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		var key []byte
		if len(batch) > 0 {
			key = batch[0].Key
		}
		return &faults.StorageFault{Index: 0, Key: key, Cause: errors.Wrapf(engine.ErrClosed, "region %s", r.id)}
	}

	out, err := r.host.Intercept(batch, func(i int, mut model.Mutation) error {
		if err := ctx.Err(); err != nil {
			return &faults.StorageFault{Index: i, Key: mut.Key, Cause: errors.WithStack(err)}
		}
		if err := r.keys.Admit(mut); err != nil {
			return &faults.StorageFault{Index: i, Key: mut.Key, Cause: err}
		}
		if r.wal != nil {
			if _, err := r.wal.Append(ctx, mut); err != nil {
				return &faults.StorageFault{Index: i, Key: mut.Key, Cause: errors.Wrap(err, "commit log")}
			}
		}
		if err := r.keys.Apply(mut); err != nil {
			return &faults.StorageFault{Index: i, Key: mut.Key, Cause: err}
		}
		return nil
	})
	if err != nil {
		log.Printf("region %s: batch of %d failed: %v", r.id, len(batch), err)
		return err
	}
	log.Printf("region %s: batch of %d, %d applied, post-write fired: %v", r.id, len(batch), out.Applied, out.PostFired)
	return nil
}

// Get returns the row's payload, or false if the row is absent.
func (r *Region) Get(_ context.Context, key []byte) (model.Payload, bool, error) {
	payload, ok := r.keys.Get(key)
	return payload, ok, nil
}

// Len returns the number of rows.
func (r *Region) Len() int {
	return r.keys.Len()
}

// Close stops the commit log, flushing what it buffered. Later batches fail.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.wal == nil {
		return nil
	}
	err := r.wal.Close()
	r.wal = nil
	log.Printf("region %s closed", r.id)
	return err
}
