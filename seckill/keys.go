package seckill

import "strconv"

// Key layout in the shared store. Stock and buyers live next to each other so
// the reservation script can touch both in one atomic unit.
//
//	seckill:stock:<voucherID>   - remaining stock counter (plain integer)
//	seckill:buyers:<voucherID>  - set of userIDs that hold a reservation
//	stream.orders               - reservation stream (default; configurable)
const (
	stockKeyPrefix  = "seckill:stock:"
	buyersKeyPrefix = "seckill:buyers:"

	// DefaultStream is the reservation stream appended to by the
	// coordinator's script and consumed by the Processor.
	DefaultStream = "stream.orders"

	// orderIDPrefix keys the daily idgen counter for order IDs.
	orderIDPrefix = "order"
)

func StockKey(voucherID uint64) string {
	return stockKeyPrefix + strconv.FormatUint(voucherID, 10)
}

func BuyersKey(voucherID uint64) string {
	return buyersKeyPrefix + strconv.FormatUint(voucherID, 10)
}

// userLockName names the per-buyer commit lock; the lock package prepends
// "lock:".
func userLockName(userID uint64) string {
	return "order:" + strconv.FormatUint(userID, 10)
}
