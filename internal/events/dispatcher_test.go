package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient records the call-ins it receives into a shared trace.
type fakeClient struct {
	name    string
	order   int
	synced  bool
	wants   map[string]bool
	result  bool
	trace   *[]string
	onEvent func(c *fakeClient, event string)
}

func newFake(name string, order int, synced bool, trace *[]string, events ...string) *fakeClient {
	wants := make(map[string]bool, len(events))
	for _, e := range events {
		wants[e] = true
	}
	return &fakeClient{name: name, order: order, synced: synced, wants: wants, trace: trace}
}

func (f *fakeClient) Name() string { return f.name }
func (f *fakeClient) Order() int { return f.order }
func (f *fakeClient) Synced() bool { return f.synced }
func (f *fakeClient) WantsEvent(ev string) bool { return f.wants[ev] }

func (f *fakeClient) CallIn(_ context.Context, event string, _ []any, _ bool) bool {
	*f.trace = append(*f.trace, fmt.Sprintf("%s:%s", f.name, event))
	if f.onEvent != nil {
		f.onEvent(f, event)
	}
	return f.result
}

func names(cs []Client) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name()
	}
	return out
}

func TestDispatcher_UpdateFiresInPriorityOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Update", true, false, false)
	reg.Freeze()
	d := NewDispatcher(reg)

	var trace []string
	// Added out of order on purpose.
	d.AddClient(newFake("second", 2, false, &trace, "Update"))
	d.AddClient(newFake("first", 1, false, &trace, "Update"))

	d.Notify(context.Background(), "Update")

	assert.Equal(t, []string{"first:Update", "second:Update"}, trace)
}

func TestDispatcher_TieBreakByNameThenInsertion(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string

	b := newFake("b", 5, true, &trace, GameFrame)
	a := newFake("a", 5, true, &trace, GameFrame)
	a2 := newFake("a", 5, true, &trace, GameFrame)
	d.AddClient(b)
	d.AddClient(a)
	d.AddClient(a2)

	subs := d.Subscribers(GameFrame)
	require.Len(t, subs, 3)
	assert.Same(t, a, subs[0])
	assert.Same(t, a2, subs[1])
	assert.Same(t, b, subs[2])
}

func TestDispatcher_AddClient_ExactlyOncePerList(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	c := newFake("widget", 10, false, &trace, Update, DrawScreen, GameFrame)

	n := d.AddClient(c)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, d.AddClient(c), "second add must not duplicate")

	for _, ev := range []string{Update, DrawScreen, GameFrame} {
		subs := d.Subscribers(ev)
		require.Len(t, subs, 1, ev)
		assert.Same(t, c, subs[0])
	}
	assert.Empty(t, d.Subscribers(DrawWorld))
	assert.Len(t, d.Clients(), 1)
}

func TestDispatcher_RemoveClient_FromEveryList(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	c := newFake("widget", 10, false, &trace, Update, DrawScreen, GameFrame, MousePress)
	other := newFake("other", 11, false, &trace, Update)
	d.AddClient(c)
	d.AddClient(other)

	d.RemoveClient(c)

	for _, ev := range d.Registry().ManagedNames() {
		for _, s := range d.Subscribers(ev) {
			assert.NotSame(t, c, s, "client still subscribed to %s", ev)
		}
	}
	assert.Equal(t, []string{"other"}, names(d.Clients()))
}

func TestDispatcher_SyncedClientNeverGetsUnsyncedEvents(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	synced := newFake("rules", 100, true, &trace, Update, GameFrame, AllowCommand)
	unsynced := newFake("ui", 300, false, &trace, Update, GameFrame, AllowCommand)

	d.AddClient(synced)
	d.AddClient(unsynced)

	assert.Equal(t, []string{"ui"}, names(d.Subscribers(Update)))
	assert.Equal(t, []string{"rules", "ui"}, names(d.Subscribers(GameFrame)))
	assert.Equal(t, []string{"rules"}, names(d.Subscribers(AllowCommand)), "controller events are synced-only")
}

func TestDispatcher_SelfRemovalDuringFire(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string

	clients := make([]*fakeClient, 5)
	for i := range clients {
		clients[i] = newFake(fmt.Sprintf("c%d", i), i, false, &trace, Update)
		d.AddClient(clients[i])
	}
	clients[1].onEvent = func(c *fakeClient, _ string) { d.RemoveClient(c) }
	clients[3].onEvent = func(c *fakeClient, _ string) { d.RemoveClient(c) }

	d.Notify(context.Background(), Update)
	assert.Equal(t, []string{"c0:Update", "c1:Update", "c2:Update", "c3:Update", "c4:Update"}, trace)

	trace = trace[:0]
	d.Notify(context.Background(), Update)
	assert.Equal(t, []string{"c0:Update", "c2:Update", "c4:Update"}, trace)
}

func TestDispatcher_SelfReAddDuringFire(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string

	a := newFake("a", 1, false, &trace, Update)
	b := newFake("b", 2, false, &trace, Update)
	c := newFake("c", 3, false, &trace, Update)
	for _, x := range []*fakeClient{a, b, c} {
		d.AddClient(x)
	}
	b.onEvent = func(self *fakeClient, _ string) {
		d.RemoveClient(self)
		d.AddClient(self)
	}

	d.Notify(context.Background(), Update)
	assert.Equal(t, []string{"a:Update", "b:Update", "c:Update"}, trace)
}

func TestDispatcher_RemoveEarlierClientDuringFire(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string

	a := newFake("a", 1, false, &trace, Update)
	b := newFake("b", 2, false, &trace, Update)
	c := newFake("c", 3, false, &trace, Update)
	for _, x := range []*fakeClient{a, b, c} {
		d.AddClient(x)
	}
	b.onEvent = func(_ *fakeClient, _ string) { d.RemoveClient(a) }

	d.Notify(context.Background(), Update)
	assert.Equal(t, []string{"a:Update", "b:Update", "c:Update"}, trace)
}

func TestDispatcher_RespondReverseFirstResponder(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string

	low := newFake("low", 1, true, &trace, GotChatMsg)
	mid := newFake("mid", 2, true, &trace, GotChatMsg)
	high := newFake("high", 3, true, &trace, GotChatMsg)
	mid.result = true
	low.result = true
	for _, x := range []*fakeClient{low, mid, high} {
		d.AddClient(x)
	}

	c, handled := d.Respond(context.Background(), GotChatMsg, "/cheat", 0)
	require.True(t, handled)
	assert.Same(t, mid, c)
	assert.Equal(t, []string{"high:GotChatMsg", "mid:GotChatMsg"}, trace)
}

func TestDispatcher_ControllerAggregation(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	ctx := context.Background()

	assert.True(t, d.AllowAll(ctx, AllowCommand), "no subscribers allows")
	assert.False(t, d.AnyOf(ctx, AllowCommand), "no subscribers is not any")

	yes := newFake("yes", 1, true, &trace, AllowCommand)
	yes.result = true
	no := newFake("no", 2, true, &trace, AllowCommand)
	last := newFake("last", 3, true, &trace, AllowCommand)
	last.result = true
	for _, x := range []*fakeClient{yes, no, last} {
		d.AddClient(x)
	}

	assert.False(t, d.AllowAll(ctx, AllowCommand, 7, "move"))
	assert.Equal(t, []string{"yes:AllowCommand", "no:AllowCommand", "last:AllowCommand"}, trace, "no early exit")

	trace = trace[:0]
	assert.True(t, d.AnyOf(ctx, AllowCommand))
	assert.Len(t, trace, 3)
}

func TestDispatcher_PointerCapture(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	ctx := context.Background()

	back := newFake("back", 1, false, &trace, MousePress, MouseMove, MouseRelease)
	back.result = true
	front := newFake("front", 2, false, &trace, MousePress, MouseMove, MouseRelease)
	d.AddClient(back)
	d.AddClient(front)

	require.True(t, d.MousePress(ctx, 10, 20, 1))
	assert.Same(t, back, d.CaptureOwner())

	trace = trace[:0]
	d.MouseMove(ctx, 11, 21)
	d.MouseRelease(ctx, 11, 21, 1)
	assert.Equal(t, []string{"back:MouseMove", "back:MouseRelease"}, trace)
	assert.Nil(t, d.CaptureOwner())

	trace = trace[:0]
	assert.False(t, d.MouseMove(ctx, 0, 0), "no owner, no delivery")
	assert.Empty(t, trace)
}

func TestDispatcher_RemoveClientClearsCapture(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	c := newFake("w", 1, false, &trace, MousePress)
	c.result = true
	d.AddClient(c)

	require.True(t, d.MousePress(context.Background(), 1, 1, 1))
	d.RemoveClient(c)
	assert.Nil(t, d.CaptureOwner())
}

func TestDispatcher_SelfRemovingPressHolderDoesNotCapture(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	ctx := context.Background()

	c := newFake("ui", 1, false, &trace, MousePress, MouseMove, MouseRelease)
	c.result = true
	c.onEvent = func(self *fakeClient, event string) {
		if event == MousePress {
			d.RemoveClient(self)
		}
	}
	d.AddClient(c)

	assert.True(t, d.MousePress(ctx, 5, 5, 1))
	assert.Empty(t, d.Clients())
	assert.Nil(t, d.CaptureOwner())

	assert.False(t, d.MouseMove(ctx, 6, 6))
	assert.Equal(t, []string{"ui:MousePress"}, trace)
}

func TestDispatcher_UpdateClient(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	c := newFake("w", 1, false, &trace)
	d.AddClient(c)
	assert.Empty(t, d.Subscribers(DrawScreen))

	c.wants[DrawScreen] = true
	assert.True(t, d.UpdateClient(c, DrawScreen))
	assert.Len(t, d.Subscribers(DrawScreen), 1)

	delete(c.wants, DrawScreen)
	assert.False(t, d.UpdateClient(c, DrawScreen))
	assert.Empty(t, d.Subscribers(DrawScreen))

	assert.False(t, d.UpdateClient(c, RecvFromSynced), "unmanaged events have no list")
}

func TestDispatcher_FireFollowsPolicy(t *testing.T) {
	d := NewDispatcher(DefaultRegistry())
	var trace []string
	ctx := context.Background()

	back := newFake("back", 1, false, &trace, "KeyPress", MousePress, MouseMove, MouseRelease, Update)
	back.result = true
	front := newFake("front", 2, false, &trace, "KeyPress", MousePress, Update)
	d.AddClient(back)
	d.AddClient(front)

	assert.True(t, d.Fire(ctx, "KeyPress", 27))
	assert.Equal(t, []string{"front:KeyPress", "back:KeyPress"}, trace, "reverse order, stops at the handler")

	trace = trace[:0]
	front.result = true
	assert.True(t, d.Fire(ctx, "KeyPress", 27))
	assert.Equal(t, []string{"front:KeyPress"}, trace)

	trace = trace[:0]
	front.result = false
	assert.False(t, d.Fire(ctx, Update))
	assert.Equal(t, []string{"back:Update", "front:Update"}, trace)

	trace = trace[:0]
	assert.True(t, d.Fire(ctx, MousePress, 1, 2, 1))
	assert.Same(t, back, d.CaptureOwner())
	d.Fire(ctx, MouseMove, 3, 4)
	d.Fire(ctx, MouseRelease, 3, 4, 1)
	assert.Equal(t, []string{"front:MousePress", "back:MousePress", "back:MouseMove", "back:MouseRelease"}, trace)
	assert.Nil(t, d.CaptureOwner())

	assert.True(t, d.Fire(ctx, AllowCommand), "no controller subscribers allows")
}
