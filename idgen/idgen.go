// Package idgen produces globally unique, time-ordered 64-bit identifiers
// from a counter kept in the shared kv.Store.
//
// Layout: seconds-since-epoch in the high 32 bits, a per-prefix-per-day
// counter in the low 32 bits. IDs are strictly increasing within a day for a
// fixed prefix; across prefixes there is no global order. The counter key
// embeds the current date, so it resets daily without coordination.
//
// Hard capacity limit: the counter field is 32 bits, so a prefix supports at
// most 2^32-1 (~4.29 billion) IDs per day. Overflow bleeds into the timestamp
// bits and is NOT detected; size your prefixes accordingly.
package idgen

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/stampede/kv"
)

// epoch is 2023-01-01T00:00:00Z; IDs order relative to it.
const epoch int64 = 1672531200

const counterBits = 32

// counter keys look like "inc:order:2026:08:28".
const dayFormat = "2006:01:02"

type Generator struct {
	store kv.Store
	now   func() time.Time
}

func New(store kv.Store) *Generator {
	return &Generator{store: store, now: time.Now}
}

// NextID returns the next identifier for the prefix. Safe for concurrent use
// across processes; uniqueness comes from the store's atomic increment.
func (g *Generator) NextID(ctx context.Context, prefix string) (uint64, error) {
	now := g.now().UTC()
	seq, err := g.store.Incr(ctx, "inc:"+prefix+":"+now.Format(dayFormat))
	if err != nil {
		return 0, fmt.Errorf("idgen: counter incr for %q: %w", prefix, err)
	}
	ts := uint64(now.Unix() - epoch)
	return ts<<counterBits | uint64(seq), nil
}
