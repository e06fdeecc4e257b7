package hooks

import "sync/atomic"

// Counters track how often the pre-write and post-write hooks fired. They only
// grow and are owned by a single Host; each hook invocation is one atomic add.
type Counters struct {
	pre  atomic.Int64
	post atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	PreCount  int64 `json:"preCount"`
	PostCount int64 `json:"postCount"`
}

func (c *Counters) PreCount() int64 {
	return c.pre.Load()
}

func (c *Counters) PostCount() int64 {
	return c.post.Load()
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{PreCount: c.pre.Load(), PostCount: c.post.Load()}
}

// Sub returns the growth between an earlier snapshot and s.
func (s Snapshot) Sub(earlier Snapshot) Snapshot {
	return Snapshot{
		PreCount:  s.PreCount - earlier.PreCount,
		PostCount: s.PostCount - earlier.PostCount,
	}
}
