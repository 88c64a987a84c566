package debugsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spring/spring-sub006/internal/config"
	"github.com/spring/spring-sub006/internal/engine"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/store"
	"github.com/spring/spring-sub006/internal/testutil"
)

type fixture struct {
	engine   *engine.Engine
	store    *store.Store
	settings *config.Settings
	server   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := engine.New(testutil.ArchiveFS(map[string]string{
		"LuaRules/main.lua": `function GameFrame(n) if n == 1 then error("first frame") end end`,
		"LuaUI/main.lua":    `function Update() end`,
	}),
		engine.WithLogger(testutil.Discard()),
		engine.WithSeed(1),
		engine.WithStore(st),
		engine.WithIDs(engine.NewSequenceGenerator("inst")),
	)
	t.Cleanup(e.Close)

	_, err = e.Load(handle.Rules)
	require.NoError(t, err)
	_, err = e.Load(handle.UI)
	require.NoError(t, err)

	settings := config.NewSettings(map[string]string{"Volume": "50"})
	return &fixture{
		engine:   e,
		store:    st,
		settings: settings,
		server: New(Options{
			Engine:   e,
			Settings: settings,
			Faults:   st,
			Logger:   testutil.Discard(),
		}),
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.engine.Step(context.Background())

	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["frame"])
	assert.Equal(t, float64(2), body["handles"])
}

func TestEvents(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	table := decode[eventTable](t, rec)
	assert.Len(t, table.Hash, 64)
	assert.Len(t, table.Events, f.engine.Dispatcher().Registry().Len())

	rec = f.do(t, http.MethodGet, "/events/GameFrame", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ev := decode[eventView](t, rec)
	assert.True(t, ev.Managed)
	assert.False(t, ev.Unsynced)
	assert.Equal(t, []subscriberView{{Name: "LuaRules", Synced: true}}, ev.Subscribers)

	rec = f.do(t, http.MethodGet, "/events/Update", "")
	ev = decode[eventView](t, rec)
	assert.True(t, ev.Unsynced)
	assert.Equal(t, []subscriberView{{Name: "LuaUI", Synced: false}}, ev.Subscribers)

	rec = f.do(t, http.MethodGet, "/events/NoSuchEvent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandles(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/handles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]handleView](t, rec)
	require.Len(t, views, 2)
	assert.Equal(t, "LuaRules", views[0].Name)
	assert.Equal(t, "rules", views[0].Kind)
	assert.Equal(t, "LuaUI", views[1].Name)
	assert.Equal(t, engine.DefaultFaultBudget, views[0].Budget.Limit)
	assert.NotEmpty(t, views[0].Halves)
	assert.True(t, views[0].Halves[0].Synced)
	assert.True(t, views[0].Halves[0].Capability.FullControl)

	rec = f.do(t, http.MethodGet, "/handles/LuaUI", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ui := decode[handleView](t, rec)
	assert.Equal(t, "ui", ui.Kind)
	require.Len(t, ui.Halves, 1)
	assert.False(t, ui.Halves[0].Synced)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/handles/gaia", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/handles/editor", "").Code)
}

func TestKillIsDeferredToSafePoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/handles/ui/kill?reason=test", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.engine.PendingKills())

	_, ok := f.engine.Instance(handle.UI)
	assert.True(t, ok, "still loaded until the next safe point")

	f.engine.Step(context.Background())
	_, ok = f.engine.Instance(handle.UI)
	assert.False(t, ok)
}

func TestBridges(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/bridges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[[]map[string]any](t, rec)
	assert.Len(t, stats, 4)
	assert.Equal(t, "deferred-sim", stats[0]["name"])
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	var changed []string
	f.settings.Subscribe("Volume", func(name, value string) {
		changed = append(changed, value)
	})

	rec := f.do(t, http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50", decode[map[string]string](t, rec)["Volume"])

	rec = f.do(t, http.MethodPut, "/settings/Volume", `{"value":"80"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"80"}, changed)
	v, _ := f.settings.Get("Volume")
	assert.Equal(t, "80", v)

	rec = f.do(t, http.MethodPut, "/settings/Volume", `{"other":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFaults(t *testing.T) {
	f := newFixture(t)
	f.engine.Step(context.Background())
	f.engine.Step(context.Background())

	rec := f.do(t, http.MethodGet, "/faults?handle=LuaRules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	faults := decode[[]faultView](t, rec)
	require.Len(t, faults, 1)
	assert.Equal(t, "GameFrame", faults[0].Func)
	assert.Equal(t, int64(1), faults[0].Frame)
	assert.False(t, faults[0].Fatal)
	assert.Contains(t, faults[0].Message, "first frame")

	rec = f.do(t, http.MethodGet, "/faults?handle=LuaUI", "")
	assert.Empty(t, decode[[]faultView](t, rec))

	rec = f.do(t, http.MethodGet, "/faults?from=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]faultView](t, rec))

	rec = f.do(t, http.MethodGet, "/faults?fatal=false&to=1", "")
	assert.Len(t, decode[[]faultView](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/faults?from=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptionalRoutesWithoutBackends(t *testing.T) {
	f := newFixture(t)
	s := New(Options{Engine: f.engine, Logger: testutil.Discard()})

	for _, target := range []string{"/settings", "/faults"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
