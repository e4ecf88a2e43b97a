package seckill

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/stampede/idgen"
	"github.com/unkn0wn-root/stampede/kv/memory"
)

// redisErr satisfies the redis.Error interface so Script.Run takes its
// real NOSCRIPT fallback path against the fake.
type redisErr string

func (e redisErr) Error() string { return string(e) }
func (e redisErr) RedisError()   {}

// fakeScripter records the eval call and returns a canned result code.
type fakeScripter struct {
	keys []string
	args []interface{}

	code int64
	err  error
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.keys = keys
	f.args = args
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	return redis.NewCmdResult(f.code, nil)
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, redisErr("NOSCRIPT No matching script. Please use EVAL."))
}

func (f *fakeScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func (f *fakeScripter) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	return nil, nil
}

func newTestCoordinator(t *testing.T, rdb ScriptClient) *Coordinator {
	t.Helper()
	ids := idgen.New(memory.New(0))
	c, err := NewCoordinator(rdb, ids, CoordinatorOptions{})
	require.NoError(t, err)
	return c
}

func TestReserveGranted(t *testing.T) {
	fake := &fakeScripter{code: codeOK}
	c := newTestCoordinator(t, fake)

	orderID, err := c.Reserve(context.Background(), 7, 1010)
	require.NoError(t, err)
	require.NotZero(t, orderID)

	require.Equal(t, []string{"seckill:stock:7", "seckill:buyers:7", DefaultStream}, fake.keys)
	require.Len(t, fake.args, 3)
	require.Equal(t, uint64(1010), fake.args[0])
	require.Equal(t, uint64(7), fake.args[1])
	require.Equal(t, orderID, fake.args[2])
}

func TestReserveResultCodes(t *testing.T) {
	tests := []struct {
		name string
		code int64
		want error
	}{
		{"no stock", codeNoStock, ErrInsufficientStock},
		{"duplicate", codeDuplicate, ErrDuplicatePurchase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, &fakeScripter{code: tt.code})
			_, err := c.Reserve(context.Background(), 7, 1010)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReserveUnknownCode(t *testing.T) {
	c := newTestCoordinator(t, &fakeScripter{code: 42})
	_, err := c.Reserve(context.Background(), 7, 1010)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInsufficientStock)
	require.NotErrorIs(t, err, ErrDuplicatePurchase)
}

func TestReserveScriptError(t *testing.T) {
	c := newTestCoordinator(t, &fakeScripter{err: errors.New("connection refused")})
	_, err := c.Reserve(context.Background(), 7, 1010)
	require.ErrorContains(t, err, "reserve script")
}

// The duplicate check must run before the stock check so a repeat buyer gets
// the same answer whether or not stock is exhausted.
func TestReserveScriptChecksDuplicateFirst(t *testing.T) {
	src := reserveScriptSrc
	dup := strings.Index(src, "sismember")
	stock := strings.Index(src, "tonumber")
	require.Positive(t, dup)
	require.Positive(t, stock)
	require.Less(t, dup, stock)
	require.Contains(t, src, "xadd")
}

func TestCustomStreamName(t *testing.T) {
	fake := &fakeScripter{code: codeOK}
	ids := idgen.New(memory.New(0))
	c, err := NewCoordinator(fake, ids, CoordinatorOptions{Stream: "orders.test"})
	require.NoError(t, err)

	_, err = c.Reserve(context.Background(), 7, 1010)
	require.NoError(t, err)
	require.Equal(t, "orders.test", fake.keys[2])
}
