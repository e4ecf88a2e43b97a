package seckill

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Reservation is one granted purchase as carried on the stream.
type Reservation struct {
	OrderID   uint64
	UserID    uint64
	VoucherID uint64
}

// Order is the durable record persisted for a reservation.
type Order struct {
	ID        uint64
	UserID    uint64
	VoucherID uint64
	CreatedAt time.Time
}

// OrderStore persists orders. InsertIfAbsent reports whether the order was
// newly created; an existing order for the same (user, voucher) pair is not
// an error, it returns (false, nil). This is what makes redelivery safe.
type OrderStore interface {
	InsertIfAbsent(ctx context.Context, o Order) (created bool, err error)
}

// Stream field names, as written by the reservation script.
const (
	fieldOrderID   = "orderId"
	fieldUserID    = "userId"
	fieldVoucherID = "voucherId"
)

func parseReservation(values map[string]interface{}) (Reservation, error) {
	var r Reservation
	var err error
	if r.OrderID, err = streamField(values, fieldOrderID); err != nil {
		return Reservation{}, err
	}
	if r.UserID, err = streamField(values, fieldUserID); err != nil {
		return Reservation{}, err
	}
	if r.VoucherID, err = streamField(values, fieldVoucherID); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

func streamField(values map[string]interface{}, name string) (uint64, error) {
	raw, ok := values[name]
	if !ok {
		return 0, fmt.Errorf("missing field %q", name)
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("field %q: unexpected type %T", name, raw)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return n, nil
}
