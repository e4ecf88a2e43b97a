package seckill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/stampede"
	"github.com/unkn0wn-root/stampede/kv"
	"github.com/unkn0wn-root/stampede/lock"
)

// StreamClient is the slice of the redis client the Processor needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// ProcessorOptions configures a Processor. Zero fields take the documented
// defaults.
type ProcessorOptions struct {
	// Stream is the reservation stream to consume. Defaults to DefaultStream.
	Stream string

	// Group is the consumer group name. Defaults to "g1".
	Group string

	// Consumer is this worker's name within the group. Defaults to "c1".
	// Give each concurrent worker a distinct name.
	Consumer string

	// Block bounds how long a live read waits for new entries.
	// Defaults to 2s.
	Block time.Duration

	// RetryDelay is the pause between attempts after a failure.
	// Defaults to 20ms.
	RetryDelay time.Duration

	// LockTTL bounds the per-user commit lock. Defaults to 10s.
	LockTTL time.Duration

	// Logger defaults to stampede.NopLogger.
	Logger stampede.Logger
}

// Processor drains the reservation stream into an OrderStore. Delivery is
// at-least-once: entries are acknowledged only after a successful commit,
// and the idempotent store absorbs redeliveries. A Processor owns no
// goroutines; run as many as you like, each with its own consumer name.
type Processor struct {
	rdb    StreamClient
	locks  kv.Store
	orders OrderStore
	log    stampede.Logger

	stream     string
	group      string
	consumer   string
	block      time.Duration
	retryDelay time.Duration
	lockTTL    time.Duration
}

func NewProcessor(rdb StreamClient, locks kv.Store, orders OrderStore, opts ProcessorOptions) (*Processor, error) {
	if rdb == nil {
		return nil, errors.New("seckill: nil redis client")
	}
	if locks == nil {
		return nil, errors.New("seckill: nil lock store")
	}
	if orders == nil {
		return nil, errors.New("seckill: nil order store")
	}
	var log stampede.Logger = stampede.NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	p := &Processor{
		rdb:        rdb,
		locks:      locks,
		orders:     orders,
		log:        log,
		stream:     coalesce(opts.Stream, DefaultStream),
		group:      coalesce(opts.Group, "g1"),
		consumer:   coalesce(opts.Consumer, "c1"),
		block:      coalesce(opts.Block, 2*time.Second),
		retryDelay: coalesce(opts.RetryDelay, 20*time.Millisecond),
		lockTTL:    coalesce(opts.LockTTL, 10*time.Second),
	}
	return p, nil
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// Run consumes the stream until ctx is canceled. It creates the consumer
// group if needed, then alternates between live reads and, after any
// processing failure, replay of this consumer's pending entries. Run only
// returns ctx.Err() or a group-creation error.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.ensureGroup(ctx); err != nil {
		return err
	}
	p.log.Info("order processor started", stampede.Fields{
		"stream":   p.stream,
		"group":    p.group,
		"consumer": p.consumer,
	})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, ok, err := p.readOne(ctx, ">", p.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("stream read failed", stampede.Fields{"error": err.Error()})
			p.sleep(ctx)
			continue
		}
		if !ok {
			continue
		}
		if err := p.process(ctx, msg); err != nil {
			p.log.Error("order processing failed, replaying backlog", stampede.Fields{
				"entry": msg.ID,
				"error": err.Error(),
			})
			p.replayPending(ctx)
		}
	}
}

func (p *Processor) ensureGroup(ctx context.Context) error {
	err := p.rdb.XGroupCreateMkStream(ctx, p.stream, p.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("seckill: create group %q: %w", p.group, err)
	}
	return nil
}

// isBusyGroup matches the reply for a group that already exists; that case
// is the normal restart path, not an error.
func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// readOne fetches a single entry. offset ">" reads new entries; "0" reads
// this consumer's pending (delivered, unacked) entries. block < 0 means do
// not block.
func (p *Processor) readOne(ctx context.Context, offset string, block time.Duration) (redis.XMessage, bool, error) {
	res, err := p.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    p.group,
		Consumer: p.consumer,
		Streams:  []string{p.stream, offset},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return redis.XMessage{}, false, nil
	}
	if err != nil {
		return redis.XMessage{}, false, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return redis.XMessage{}, false, nil
	}
	return res[0].Messages[0], true, nil
}

// replayPending works through this consumer's pending entries in order,
// retrying each position until it commits. It never skips an entry: a
// reservation that cannot be persisted keeps blocking replay, preserving
// the no-lost-orders guarantee, and stays visible via XPENDING.
func (p *Processor) replayPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, ok, err := p.readOne(ctx, "0", -1)
		if err != nil {
			p.log.Error("backlog read failed", stampede.Fields{"error": err.Error()})
			p.sleep(ctx)
			continue
		}
		if !ok {
			p.log.Info("backlog drained", stampede.Fields{"consumer": p.consumer})
			return
		}
		if err := p.process(ctx, msg); err != nil {
			p.log.Error("backlog entry failed", stampede.Fields{
				"entry": msg.ID,
				"error": err.Error(),
			})
			p.sleep(ctx)
		}
	}
}

// process commits one entry and acknowledges it. A malformed entry is an
// error and is never acknowledged.
func (p *Processor) process(ctx context.Context, msg redis.XMessage) error {
	r, err := parseReservation(msg.Values)
	if err != nil {
		return fmt.Errorf("malformed reservation %s: %w", msg.ID, err)
	}
	if err := p.commit(ctx, r); err != nil {
		return err
	}
	if err := p.rdb.XAck(ctx, p.stream, p.group, msg.ID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	return nil
}

// commit persists the reservation under a short per-user lock. Losing the
// lock race means another worker is committing an entry for the same user;
// since the store is keyed on (user, voucher), dropping out here is a
// harmless no-op rather than a failure.
func (p *Processor) commit(ctx context.Context, r Reservation) error {
	m := lock.New(p.locks, userLockName(r.UserID), p.lockTTL)
	held, err := m.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("user lock: %w", err)
	}
	if !held {
		p.log.Warn("user commit lock busy, leaving entry to its holder", stampede.Fields{
			"user_id":  r.UserID,
			"order_id": r.OrderID,
		})
		return nil
	}
	defer func() {
		if err := m.Unlock(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			p.log.Warn("user lock release failed", stampede.Fields{"error": err.Error()})
		}
	}()

	created, err := p.orders.InsertIfAbsent(ctx, Order{
		ID:        r.OrderID,
		UserID:    r.UserID,
		VoucherID: r.VoucherID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("persist order %d: %w", r.OrderID, err)
	}
	if !created {
		p.log.Debug("order already persisted", stampede.Fields{"order_id": r.OrderID})
	}
	return nil
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.retryDelay):
	}
}
