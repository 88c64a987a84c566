package debugsrv

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/spring/spring-sub006/internal/bridge"
	"github.com/spring/spring-sub006/internal/capability"
	"github.com/spring/spring-sub006/internal/compiler"
	"github.com/spring/spring-sub006/internal/engine"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/handle"
	"github.com/spring/spring-sub006/internal/ir"
	"github.com/spring/spring-sub006/internal/store"
)

// RegisterRoutes registers every route of s on e.
func RegisterRoutes(e *echo.Echo, s *Server) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/events", s.handleEvents)
	e.GET("/events/:name", s.handleEvent)
	e.GET("/handles", s.handleHandles)
	e.GET("/handles/:kind", s.handleHandle)
	e.POST("/handles/:kind/kill", s.handleKill)
	e.GET("/bridges", s.handleBridges)
	e.GET("/settings", s.handleSettings)
	e.PUT("/settings/:name", s.handleSetSetting)
	e.GET("/faults", s.handleFaults)
}

type errorBody struct {
	Error string `json:"error"`
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorBody{Error: msg})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"frame":   s.engine.Frame(),
		"handles": len(s.engine.Instances()),
		"version": ir.HostVersion,
	})
}

type subscriberView struct {
	Name   string `json:"name"`
	Synced bool   `json:"synced"`
}

type eventView struct {
	Name        string           `json:"name"`
	Managed     bool             `json:"managed"`
	Unsynced    bool             `json:"unsynced"`
	Controller  bool             `json:"controller"`
	Subscribers []subscriberView `json:"subscribers,omitempty"`
}

type eventTable struct {
	Hash   string      `json:"hash"`
	Events []eventView `json:"events"`
}

func (s *Server) eventView(info events.Info) eventView {
	v := eventView{
		Name:       info.Name,
		Managed:    info.Managed(),
		Unsynced:   info.Unsynced(),
		Controller: info.Controller(),
	}
	for _, c := range s.engine.Dispatcher().Subscribers(info.Name) {
		v.Subscribers = append(v.Subscribers, subscriberView{Name: c.Name(), Synced: c.Synced()})
	}
	return v
}

func (s *Server) handleEvents(c echo.Context) error {
	reg := s.engine.Dispatcher().Registry()
	hash, err := compiler.TableHash(reg)
	if err != nil {
		s.log.Error("event table hash failed", "error", err)
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}

	out := eventTable{Hash: hash, Events: make([]eventView, 0, reg.Len())}
	for _, name := range reg.Names() {
		info, _ := reg.Info(name)
		out.Events = append(out.Events, s.eventView(info))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleEvent(c echo.Context) error {
	info, ok := s.engine.Dispatcher().Registry().Info(c.Param("name"))
	if !ok {
		return jsonError(c, http.StatusNotFound, "unknown event "+c.Param("name"))
	}
	return c.JSON(http.StatusOK, s.eventView(info))
}

type budgetView struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type halfView struct {
	Synced     bool               `json:"synced"`
	Capability capability.Context `json:"capability"`
	Errors     int                `json:"errors"`
	Fatal      int                `json:"fatal"`
}

type handleView struct {
	ID       string       `json:"id"`
	Kind     string       `json:"kind"`
	Name     string       `json:"name"`
	Order    int          `json:"order"`
	LoadedAt int64        `json:"loaded_at"`
	Killed   bool         `json:"killed"`
	Halves   []halfView   `json:"halves"`
	Budget   budgetView   `json:"budget"`
	Bridge   bridge.Stats `json:"bridge"`
	Shared   []string     `json:"shared_functions"`
}

func newHandleView(inst *engine.Instance) handleView {
	h := inst.Handle
	p := h.Profile()
	v := handleView{
		ID:       inst.ID,
		Kind:     p.Kind.String(),
		Name:     p.Name,
		Order:    p.Order,
		LoadedAt: inst.LoadedAt,
		Killed:   h.Killed(),
		Bridge:   h.Bridge().Stats(),
		Shared:   h.SharedFunctions(),
	}
	for _, host := range h.Halves() {
		v.Halves = append(v.Halves, halfView{
			Synced:     host.Synced(),
			Capability: h.Capability(host.Synced()),
			Errors:     host.Errors(),
			Fatal:      host.FatalErrors(),
		})
	}
	if inst.Budget != nil {
		v.Budget = budgetView{
			Used:      inst.Budget.Current(),
			Limit:     inst.Budget.Limit(),
			Remaining: inst.Budget.Remaining(),
		}
	}
	return v
}

func (s *Server) handleHandles(c echo.Context) error {
	insts := s.engine.Instances()
	out := make([]handleView, 0, len(insts))
	for _, inst := range insts {
		out = append(out, newHandleView(inst))
	}
	return c.JSON(http.StatusOK, out)
}

// lookup finds the loaded instance named by the :kind parameter.
func (s *Server) lookup(c echo.Context) (*engine.Instance, handle.Kind, error) {
	kind, err := handle.ParseKind(c.Param("kind"))
	if err != nil {
		return nil, 0, jsonError(c, http.StatusBadRequest, err.Error())
	}
	for _, inst := range s.engine.Instances() {
		if inst.Handle.Kind() == kind {
			return inst, kind, nil
		}
	}
	return nil, kind, jsonError(c, http.StatusNotFound, kind.String()+" is not loaded")
}

func (s *Server) handleHandle(c echo.Context) error {
	inst, _, err := s.lookup(c)
	if inst == nil {
		return err
	}
	return c.JSON(http.StatusOK, newHandleView(inst))
}

func (s *Server) handleKill(c echo.Context) error {
	inst, kind, err := s.lookup(c)
	if inst == nil {
		return err
	}
	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "debug server"
	}
	s.log.Info("kill requested", "handle", inst.Handle.Name(), "reason", reason)
	s.engine.RequestKill(kind, reason)
	return c.JSON(http.StatusAccepted, map[string]string{"id": inst.ID, "status": "kill requested"})
}

func (s *Server) handleBridges(c echo.Context) error {
	out := s.engine.DeferredStats()
	for _, inst := range s.engine.Instances() {
		out = append(out, inst.Handle.Bridge().Stats())
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSettings(c echo.Context) error {
	if s.settings == nil {
		return jsonError(c, http.StatusNotFound, "no settings")
	}
	return c.JSON(http.StatusOK, s.settings.Snapshot())
}

type settingBody struct {
	Value *string `json:"value"`
}

func (s *Server) handleSetSetting(c echo.Context) error {
	if s.settings == nil {
		return jsonError(c, http.StatusNotFound, "no settings")
	}
	var body settingBody
	if err := c.Bind(&body); err != nil || body.Value == nil {
		return jsonError(c, http.StatusBadRequest, `body must be {"value": "..."}`)
	}
	name := c.Param("name")
	s.settings.Set(name, *body.Value)
	return c.JSON(http.StatusOK, map[string]string{"name": name, "value": *body.Value})
}

type faultView struct {
	Seq      int64  `json:"seq"`
	HandleID string `json:"handle_id"`
	Handle   string `json:"handle"`
	Frame    int64  `json:"frame"`
	Synced   bool   `json:"synced"`
	Func     string `json:"func"`
	Message  string `json:"message"`
	Fatal    bool   `json:"fatal"`
}

func (s *Server) handleFaults(c echo.Context) error {
	if s.faults == nil {
		return jsonError(c, http.StatusNotFound, "no fault log")
	}
	var (
		name  string
		from  int64
		to    int64 = -1
		fatal *bool
	)
	b := echo.QueryParamsBinder(c).
		String("handle", &name).
		Int64("from", &from).
		Int64("to", &to)
	if c.QueryParam("fatal") != "" {
		fatal = new(bool)
		b = b.Bool("fatal", fatal)
	}
	if err := b.BindError(); err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	faults, err := s.faults.FindFaults(c.Request().Context(), store.FaultFilter(name, from, to, fatal))
	if err != nil {
		s.log.Error("reading faults failed", "error", err)
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	out := make([]faultView, 0, len(faults))
	for _, f := range faults {
		out = append(out, faultView{
			Seq:      f.Seq,
			HandleID: f.HandleID,
			Handle:   f.Handle,
			Frame:    f.Frame,
			Synced:   f.Synced,
			Func:     f.Func,
			Message:  f.Message,
			Fatal:    f.Fatal,
		})
	}
	return c.JSON(http.StatusOK, out)
}
