// Package seckill implements a flash-sale reservation pipeline: an admission
// decision taken atomically in Redis, a reservation stream, and a Processor
// that drains the stream into durable order storage.
//
// The hot path (Reserve) never touches the database. Eligibility, stock
// decrement, buyer registration and stream append happen inside one Lua
// script, so no interleaving of concurrent buyers can oversell stock or admit
// the same user twice.
package seckill

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/stampede"
	"github.com/unkn0wn-root/stampede/idgen"
)

var (
	// ErrInsufficientStock is returned when the voucher's stock counter is
	// missing, zero or negative.
	ErrInsufficientStock = errors.New("seckill: insufficient stock")

	// ErrDuplicatePurchase is returned when the user already holds a
	// reservation for the voucher.
	ErrDuplicatePurchase = errors.New("seckill: duplicate purchase")
)

// Script result codes. Duplicate wins over stock: a repeat buyer gets the
// same answer whether or not stock has run out in the meantime.
const (
	codeOK        = 0
	codeNoStock   = 1
	codeDuplicate = 2
)

// KEYS[1] stock counter, KEYS[2] buyers set, KEYS[3] reservation stream.
// ARGV[1] userID, ARGV[2] voucherID, ARGV[3] orderID.
const reserveScriptSrc = `
local userId = ARGV[1]
local voucherId = ARGV[2]
local orderId = ARGV[3]

if redis.call('sismember', KEYS[2], userId) == 1 then
    return 2
end

local stock = tonumber(redis.call('get', KEYS[1]))
if stock == nil or stock <= 0 then
    return 1
end

redis.call('incrby', KEYS[1], -1)
redis.call('sadd', KEYS[2], userId)
redis.call('xadd', KEYS[3], '*', 'orderId', orderId, 'userId', userId, 'voucherId', voucherId)
return 0
`

var reserveScript = redis.NewScript(reserveScriptSrc)

// ScriptClient is the slice of the redis client the Coordinator needs.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type ScriptClient interface {
	redis.Scripter
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// CoordinatorOptions configures optional Coordinator behavior. The zero
// value is usable.
type CoordinatorOptions struct {
	// Stream is the reservation stream name. Defaults to DefaultStream.
	Stream string

	// Logger defaults to stampede.NopLogger.
	Logger stampede.Logger
}

// Coordinator admits flash-sale purchases. It is safe for concurrent use.
type Coordinator struct {
	rdb    ScriptClient
	ids    *idgen.Generator
	stream string
	log    stampede.Logger
}

func NewCoordinator(rdb ScriptClient, ids *idgen.Generator, opts CoordinatorOptions) (*Coordinator, error) {
	if rdb == nil {
		return nil, errors.New("seckill: nil redis client")
	}
	if ids == nil {
		return nil, errors.New("seckill: nil id generator")
	}
	var log stampede.Logger = stampede.NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	stream := opts.Stream
	if stream == "" {
		stream = DefaultStream
	}
	return &Coordinator{rdb: rdb, ids: ids, stream: stream, log: log}, nil
}

// Reserve attempts to buy one unit of the voucher for the user. On success
// it returns the order ID; durable persistence happens asynchronously via
// the Processor. The order ID is generated before the script runs, so a
// script failure burns an ID but never loses a granted reservation.
func (c *Coordinator) Reserve(ctx context.Context, voucherID, userID uint64) (uint64, error) {
	orderID, err := c.ids.NextID(ctx, orderIDPrefix)
	if err != nil {
		return 0, fmt.Errorf("seckill: order id: %w", err)
	}

	code, err := reserveScript.Run(ctx, c.rdb,
		[]string{StockKey(voucherID), BuyersKey(voucherID), c.stream},
		userID, voucherID, orderID,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("seckill: reserve script: %w", err)
	}

	switch code {
	case codeOK:
		c.log.Debug("reservation granted", stampede.Fields{
			"order_id":   orderID,
			"user_id":    userID,
			"voucher_id": voucherID,
		})
		return orderID, nil
	case codeNoStock:
		return 0, ErrInsufficientStock
	case codeDuplicate:
		return 0, ErrDuplicatePurchase
	default:
		return 0, fmt.Errorf("seckill: unexpected script result %d", code)
	}
}

// SeedStock initializes the voucher's stock counter and clears any previous
// buyer set. Call it when a sale opens, before the first Reserve.
func (c *Coordinator) SeedStock(ctx context.Context, voucherID uint64, stock int64) error {
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, StockKey(voucherID), stock, 0)
		p.Del(ctx, BuyersKey(voucherID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("seckill: seed stock: %w", err)
	}
	return nil
}
