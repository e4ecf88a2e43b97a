package seckill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/stampede/kv/memory"
	"github.com/unkn0wn-root/stampede/lock"
)

// fakeStream emulates one consumer's view of a stream group: entries move
// from backlog to pending on a ">" read and leave pending on XAck.
type fakeStream struct {
	mu      sync.Mutex
	backlog []redis.XMessage
	pending []redis.XMessage
	acked   []string
	groups  int
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups++
	if f.groups > 1 {
		return redis.NewStatusResult("", redisErr("BUSYGROUP Consumer Group name already exists"))
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream := a.Streams[0]
	offset := a.Streams[len(a.Streams)-1]

	if offset == ">" {
		if len(f.backlog) == 0 {
			return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
		}
		m := f.backlog[0]
		f.backlog = f.backlog[1:]
		f.pending = append(f.pending, m)
		return redis.NewXStreamSliceCmdResult([]redis.XStream{
			{Stream: stream, Messages: []redis.XMessage{m}},
		}, nil)
	}

	// Pending replay: redis returns the stream with no entries once the
	// consumer's pending list is empty.
	if len(f.pending) == 0 {
		return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: stream}}, nil)
	}
	return redis.NewXStreamSliceCmdResult([]redis.XStream{
		{Stream: stream, Messages: []redis.XMessage{f.pending[0]}},
	}, nil)
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		for i, m := range f.pending {
			if m.ID == id {
				f.pending = append(f.pending[:i], f.pending[i+1:]...)
				break
			}
		}
		f.acked = append(f.acked, id)
	}
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func reservationMsg(id string, r Reservation) redis.XMessage {
	return redis.XMessage{
		ID: id,
		Values: map[string]interface{}{
			fieldOrderID:   strconv.FormatUint(r.OrderID, 10),
			fieldUserID:    strconv.FormatUint(r.UserID, 10),
			fieldVoucherID: strconv.FormatUint(r.VoucherID, 10),
		},
	}
}

// memOrders is an in-memory OrderStore keyed on (user, voucher). failFirst
// makes the first N inserts fail to exercise the replay path.
type memOrders struct {
	mu        sync.Mutex
	orders    map[string]Order
	inserts   int
	failFirst int
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]Order)}
}

func (s *memOrders) InsertIfAbsent(ctx context.Context, o Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.inserts <= s.failFirst {
		return false, errors.New("store unavailable")
	}
	key := fmt.Sprintf("%d/%d", o.UserID, o.VoucherID)
	if _, ok := s.orders[key]; ok {
		return false, nil
	}
	s.orders[key] = o
	return true, nil
}

func (s *memOrders) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memOrders) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

func newTestProcessor(t *testing.T, stream *fakeStream, orders OrderStore) (*Processor, *memory.Store) {
	t.Helper()
	locks := memory.New(0)
	t.Cleanup(func() { locks.Close(context.Background()) })
	p, err := NewProcessor(stream, locks, orders, ProcessorOptions{
		Block:      time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return p, locks
}

func runProcessor(t *testing.T, p *Processor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestProcessorCommitsAndAcks(t *testing.T) {
	stream := &fakeStream{backlog: []redis.XMessage{
		reservationMsg("1-0", Reservation{OrderID: 100, UserID: 1, VoucherID: 7}),
		reservationMsg("2-0", Reservation{OrderID: 101, UserID: 2, VoucherID: 7}),
	}}
	orders := newMemOrders()
	p, _ := newTestProcessor(t, stream, orders)
	runProcessor(t, p)

	require.Eventually(t, func() bool {
		return len(stream.ackedIDs()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"1-0", "2-0"}, stream.ackedIDs())
	require.Equal(t, 2, orders.count())
}

func TestProcessorRedeliveryIsIdempotent(t *testing.T) {
	r := Reservation{OrderID: 100, UserID: 1, VoucherID: 7}
	stream := &fakeStream{backlog: []redis.XMessage{
		reservationMsg("1-0", r),
		reservationMsg("1-1", r),
	}}
	orders := newMemOrders()
	p, _ := newTestProcessor(t, stream, orders)
	runProcessor(t, p)

	require.Eventually(t, func() bool {
		return len(stream.ackedIDs()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, orders.count())
}

func TestProcessorReplaysAfterCommitFailure(t *testing.T) {
	stream := &fakeStream{backlog: []redis.XMessage{
		reservationMsg("1-0", Reservation{OrderID: 100, UserID: 1, VoucherID: 7}),
	}}
	orders := newMemOrders()
	orders.failFirst = 2
	p, _ := newTestProcessor(t, stream, orders)
	runProcessor(t, p)

	require.Eventually(t, func() bool {
		return len(stream.ackedIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, orders.count())
	require.GreaterOrEqual(t, orders.insertCount(), 3)
}

func TestProcessorNeverAcksMalformedEntry(t *testing.T) {
	stream := &fakeStream{backlog: []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{fieldOrderID: "100"}},
	}}
	orders := newMemOrders()
	p, _ := newTestProcessor(t, stream, orders)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Empty(t, stream.ackedIDs())
	require.Equal(t, 0, orders.count())
}

func TestProcessorSkipsWhenUserLockHeld(t *testing.T) {
	stream := &fakeStream{backlog: []redis.XMessage{
		reservationMsg("1-0", Reservation{OrderID: 100, UserID: 1, VoucherID: 7}),
	}}
	orders := newMemOrders()
	p, locks := newTestProcessor(t, stream, orders)

	holder := lock.New(locks, userLockName(1), time.Minute)
	held, err := holder.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, held)

	runProcessor(t, p)

	// The busy lock is a benign race: the entry is still acknowledged,
	// nothing is persisted by this worker.
	require.Eventually(t, func() bool {
		return len(stream.ackedIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 0, orders.count())
}
