package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

type recorder struct {
	mu   sync.Mutex
	got  [][]Value
	resp []Value
	err  error
}

func (r *recorder) target(_ context.Context, args []Value) ([]Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, args)
	return r.resp, r.err
}

func TestBridge_DirectReturnsResults(t *testing.T) {
	b := New("test", Direct, nil)
	r := &recorder{resp: []Value{Number(42)}}

	res, err := b.Call(context.Background(), "answer", r.target, lua.LString("q"))
	require.NoError(t, err)
	assert.Equal(t, []Value{Number(42)}, res)
	assert.Equal(t, [][]Value{{String("q")}}, r.got)
	assert.Equal(t, 0, b.Drain(context.Background()))
}

func TestBridge_QueuedDefersUntilDrain(t *testing.T) {
	b := New("test", Queued, nil)
	r := &recorder{resp: []Value{Number(1)}}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := b.Call(ctx, "msg", r.target, lua.LNumber(i))
		require.NoError(t, err)
		assert.Nil(t, res, "queued calls return nothing")
	}
	assert.Empty(t, r.got)
	assert.Equal(t, 3, b.Pending())

	assert.Equal(t, 3, b.Drain(ctx))
	assert.Equal(t, [][]Value{{Number(1)}, {Number(2)}, {Number(3)}}, r.got, "FIFO order")
	assert.Equal(t, uint64(3), b.Drained())
	assert.Equal(t, 0, b.Pending())
}

func TestBridge_CallsEnqueuedDuringDrainRunNextTime(t *testing.T) {
	b := New("test", Queued, nil)
	ctx := context.Background()
	var order []string

	var second Target = func(context.Context, []Value) ([]Value, error) {
		order = append(order, "second")
		return nil, nil
	}
	first := func(ctx context.Context, _ []Value) ([]Value, error) {
		order = append(order, "first")
		_, err := b.Send(ctx, "second", second, nil)
		return nil, err
	}

	_, err := b.Send(ctx, "first", first, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, b.Drain(ctx))
	assert.Equal(t, []string{"first"}, order)
	assert.Equal(t, 1, b.Pending())

	assert.Equal(t, 1, b.Drain(ctx))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBridge_CopyFailureDropsOnlyThatCall(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	b := New("test", Queued, nil)
	r := &recorder{}
	ctx := context.Background()

	_, err := b.Call(ctx, "ok1", r.target, lua.LNumber(1))
	require.NoError(t, err)
	_, err = b.Call(ctx, "bad", r.target, L.NewFunction(func(*lua.LState) int { return 0 }))
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = b.Call(ctx, "ok2", r.target, lua.LNumber(2))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, 2, b.Drain(ctx))
	assert.Equal(t, [][]Value{{Number(1)}, {Number(2)}}, r.got)
}

func TestBridge_TargetErrorsAreCounted(t *testing.T) {
	b := New("test", Queued, nil)
	r := &recorder{err: errors.New("lua error")}
	ctx := context.Background()

	_, err := b.Send(ctx, "x", r.target, nil)
	require.NoError(t, err)
	b.Drain(ctx)

	st := b.Stats()
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(1), st.Drained)
	assert.Equal(t, "queued", st.Shape)
}

func TestBridge_ClosedRejects(t *testing.T) {
	b := New("test", Queued, nil)
	r := &recorder{}
	ctx := context.Background()

	_, err := b.Send(ctx, "before", r.target, nil)
	require.NoError(t, err)
	b.Close()
	b.Close()

	_, err = b.Send(ctx, "after", r.target, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, b.Drain(ctx), "queued calls survive close")
}

func TestBridge_ConcurrentSenders(t *testing.T) {
	b := New("test", Queued, nil)
	r := &recorder{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = b.SendGo(ctx, "n", r.target, []any{j})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, b.Drain(ctx))
	assert.Len(t, r.got, 400)
}
