package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/compiler"
	"github.com/spring/spring-sub006/internal/config"
	"github.com/spring/spring-sub006/internal/engine"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/script"
	"github.com/spring/spring-sub006/internal/store"
)

// EchoLine is one Spring.Echo call.
type EchoLine struct {
	Frame  int64  `json:"frame"`
	Handle string `json:"handle"`
	Synced bool   `json:"synced"`
	Line   string `json:"line"`
}

func (l EchoLine) String() string {
	side := "unsynced"
	if l.Synced {
		side = "synced"
	}
	return fmt.Sprintf("[f=%d] %s(%s): %s", l.Frame, l.Handle, side, l.Line)
}

// sessionOptions adjust how a session is built from the config.
type sessionOptions struct {
	// database overrides the configured database path.
	database string
	// ids overrides the instance ID generator.
	ids engine.IDGenerator
	// echo receives every Spring.Echo call. Nil logs them.
	echo func(EchoLine)
}

// session is an engine built from the config and everything it owns.
type session struct {
	cfg      config.Config
	engine   *engine.Engine
	store    *store.Store
	settings *config.Settings
	registry *events.Registry
	profiles map[handle.Kind]handle.Profile
	closers  []io.Closer
	unsub    func()

	echoMu sync.Mutex
	echo   func(EchoLine)
}

// openSession builds the file system, event table, store and engine the
// config describes. Handles are not loaded yet.
func openSession(cfg config.Config, so sessionOptions) (*session, error) {
	s := &session{
		cfg:      cfg,
		settings: config.NewSettings(cfg.SettingStrings()),
		registry: events.DefaultRegistry(),
		echo:     so.echo,
	}
	s.profiles = make(map[handle.Kind]handle.Profile, len(handle.Kinds))
	for _, k := range handle.Kinds {
		p, _ := handle.ProfileFor(k)
		s.profiles[k] = p
	}

	if p := cfg.ManifestPath(); p != "" {
		m, err := LoadManifest(p)
		if err != nil {
			return nil, err
		}
		if s.registry, err = compiler.Registry(m); err != nil {
			return nil, err
		}
		if s.profiles, err = compiler.Profiles(m); err != nil {
			return nil, err
		}
		slog.Debug("manifest loaded", "path", p, "events", len(m.Events), "handles", len(m.Handles))
	}

	fsys, closer, err := cfg.BuildFS()
	if err != nil {
		return nil, fmt.Errorf("building vfs: %w", err)
	}
	s.closers = append(s.closers, closer)

	dbPath := so.database
	if dbPath == "" {
		dbPath = cfg.DatabasePath()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.store = st

	ns := script.NewNamespaces()
	config.Install(ns, s.settings)
	ns.RegisterBound(script.NamespaceSpring, "Echo", s.echoFunc, script.AvailBoth)

	opts := []engine.EngineOption{
		engine.WithLogger(slog.Default()),
		engine.WithSeed(cfg.Seed),
		engine.WithThreaded(cfg.Threaded),
		engine.WithDevMode(cfg.DevMode),
		engine.WithTeams(cfg.Roster(), cfg.Team),
		engine.WithFaultBudget(cfg.FaultBudget),
		engine.WithSyncInterval(cfg.SyncInterval),
		engine.WithFrameRate(cfg.FrameRate),
		engine.WithStore(st),
		engine.WithRegistry(s.registry),
		engine.WithNamespaces(ns),
	}
	if so.ids != nil {
		opts = append(opts, engine.WithIDs(so.ids))
	}
	s.engine = engine.New(fsys, opts...)
	if s.registry.IsKnown(events.ConfigChanged) {
		// Settings change on the watcher goroutine; the engine replays
		// the call-in on its own thread.
		s.unsub = s.settings.SubscribeAll(func(name, value string) {
			s.engine.Post(events.ConfigChanged, name, value)
		})
	}
	return s, nil
}

// echoFunc binds Spring.Echo to the host that calls it.
func (s *session) echoFunc(host *script.Host) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.Get(i + 1).String()
		}
		line := EchoLine{
			Frame:  s.engine.Frame(),
			Handle: host.Name(),
			Synced: host.Synced(),
			Line:   strings.Join(parts, " "),
		}
		s.echoMu.Lock()
		defer s.echoMu.Unlock()
		if s.echo != nil {
			s.echo(line)
		} else {
			slog.Info("echo", "handle", line.Handle, "synced", line.Synced, "frame", line.Frame, "line", line.Line)
		}
		return 0
	}
}

// loadHandles loads every configured handle kind in dispatch order.
func (s *session) loadHandles() error {
	kinds, err := s.cfg.Kinds()
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range kinds {
		inst, err := s.engine.LoadProfile(s.profiles[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", k, err))
			continue
		}
		slog.Debug("handle loaded", "handle", inst.Handle.Name(), "id", inst.ID)
	}
	if len(s.engine.Instances()) == 0 && len(errs) == 0 {
		errs = append(errs, errors.New("no handles configured"))
	}
	return errors.Join(errs...)
}

// threadFor picks the thread an externally fired event runs on.
func (s *session) threadFor(ctx context.Context, event string) context.Context {
	if s.registry.IsUnsynced(event) {
		return script.WithThread(ctx, engine.ThreadRender)
	}
	return script.WithThread(ctx, engine.ThreadSim)
}

// Close shuts the engine down and releases the store and archives.
func (s *session) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	s.engine.Close()
	s.closeResources()
}

func (s *session) closeResources() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			slog.Error("error closing archive", "error", err)
		}
	}
}
