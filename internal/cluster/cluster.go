package cluster

import (
	"context"
	"log"
	"net/http"

	"github.com/pkg/errors"

	"bypasskv/internal/client"
	"bypasskv/internal/config"
	"bypasskv/internal/faults"
	"bypasskv/internal/hooks"
	"bypasskv/internal/model"
	"bypasskv/internal/region"
)

// Region is the writable table handle a cluster hands out, local or remote.
type Region interface {
	BatchMutate(ctx context.Context, batch []model.Mutation) error
	Get(ctx context.Context, key []byte) (model.Payload, bool, error)
	SetPredicate(ctx context.Context, predicate hooks.BypassPredicate) error
}

// CounterReader reads the hook counters of the cluster's region.
type CounterReader interface {
	Snapshot(ctx context.Context) (hooks.Snapshot, error)
}

// Knobs inject failures into Open and Close for tests.
type Knobs struct {
	// InitFilter runs after provisioning; an error fails Open as if
	// provisioning had failed.
	InitFilter func(Mode) error
	// TeardownFilter runs before teardown; an error fails the teardown.
	TeardownFilter func(Mode) error
}

type Option func(*Cluster)

func WithKnobs(k Knobs) Option {
	return func(c *Cluster) { c.knobs = k }
}

// WithHTTPClient sets the HTTP client used in networked mode. The config
// timeout is not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Cluster) { c.httpClient = hc }
}

// Cluster is one provisioned table: an in-process region or a table on a
// region server. Teardown is dispatched on the mode.
type Cluster struct {
	mode       Mode
	knobs      Knobs
	httpClient *http.Client

	region   Region
	counters CounterReader

	// in-memory
	local *region.Region

	// networked
	cfg    config.Networked
	remote *client.Client
}

// Open provisions the table for mode. A configuration problem returns a
// *faults.ConfigFault. A provisioning problem triggers a best-effort teardown
// and returns a *faults.ClusterInitFault, or a *faults.TeardownFault carrying
// both faults when the teardown fails too.
func Open(ctx context.Context, mode Mode, opts ...Option) (*Cluster, error) {
	c := &Cluster{mode: mode}
	for _, opt := range opts {
		opt(c)
	}

	err := c.provision(ctx)
	var cf *faults.ConfigFault
	if errors.As(err, &cf) {
		return nil, err
	}
	if err == nil && c.knobs.InitFilter != nil {
		err = c.knobs.InitFilter(mode)
	}
	if err == nil {
		return c, nil
	}

	initErr := &faults.ClusterInitFault{Mode: mode.String(), Cause: err}
	log.Printf("error occurred in initialization: %v", initErr)
	log.Printf("tearing down %s cluster", mode)
	if tdErr := c.teardown(ctx); tdErr != nil {
		log.Printf("teardown error occurred: %v", tdErr)
		return nil, &faults.TeardownFault{Init: initErr, Cause: tdErr}
	}
	return nil, initErr
}

func (c *Cluster) Mode() Mode {
	return c.mode
}

func (c *Cluster) Region() Region {
	return c.region
}

func (c *Cluster) Counters() CounterReader {
	return c.counters
}

// Close releases the table. A failure is a *faults.TeardownFault.
func (c *Cluster) Close(ctx context.Context) error {
	if err := c.teardown(ctx); err != nil {
		return &faults.TeardownFault{Cause: err}
	}
	return nil
}

func (c *Cluster) provision(ctx context.Context) error {
	switch c.mode.Kind {
	case InMemory:
		reg, err := region.Open(ctx, region.Options{
			Table:    region.DefaultTable,
			Family:   region.DefaultFamily,
			Capacity: region.DefaultCapacity,
		})
		if err != nil {
			return err
		}
		c.local = reg
		c.region = localRegion{reg}
		c.counters = localCounters{reg.Counters()}
		return nil

	case Networked:
		cfg, err := config.Load(c.mode.ConfigPath)
		if err != nil {
			return err
		}
		c.cfg = cfg
		hc := c.httpClient
		if hc == nil {
			hc = &http.Client{Timeout: cfg.Timeout()}
		}
		log.Printf("establishing connection to %s", cfg.Endpoint)
		c.remote = client.New(cfg.Endpoint, hc)
		if err := c.remote.Health(ctx); err != nil {
			return errors.Wrap(err, "region server health")
		}
		if _, err := c.remote.CreateTable(ctx, cfg.Table, cfg.Family, cfg.Capacity); err != nil {
			return errors.Wrapf(err, "create table %s", cfg.Table)
		}
		table := c.remote.Table(cfg.Table)
		c.region = table
		c.counters = table
		return nil

	default:
		return errors.Errorf("unknown cluster mode %d", c.mode.Kind)
	}
}

// teardown releases whatever provision created. Afterwards the cluster holds
// no handles, even when the teardown failed.
func (c *Cluster) teardown(ctx context.Context) error {
	defer func() {
		c.region = nil
		c.counters = nil
		c.local = nil
		c.remote = nil
	}()

	if c.knobs.TeardownFilter != nil {
		if err := c.knobs.TeardownFilter(c.mode); err != nil {
			return err
		}
	}

	switch c.mode.Kind {
	case InMemory:
		if c.local == nil {
			return nil
		}
		return c.local.Close()
	case Networked:
		if c.remote == nil {
			return nil
		}
		err := c.remote.DropTable(ctx, c.cfg.Table)
		if errors.Is(err, client.ErrNotFound) {
			return nil
		}
		return errors.Wrapf(err, "drop table %s", c.cfg.Table)
	default:
		return nil
	}
}

type localRegion struct {
	r *region.Region
}

func (l localRegion) BatchMutate(ctx context.Context, batch []model.Mutation) error {
	return l.r.BatchMutate(ctx, batch)
}

func (l localRegion) Get(ctx context.Context, key []byte) (model.Payload, bool, error) {
	return l.r.Get(ctx, key)
}

func (l localRegion) SetPredicate(_ context.Context, predicate hooks.BypassPredicate) error {
	l.r.SetPredicate(predicate)
	return nil
}

type localCounters struct {
	c *hooks.Counters
}

func (l localCounters) Snapshot(context.Context) (hooks.Snapshot, error) {
	return l.c.Snapshot(), nil
}
