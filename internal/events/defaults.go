package events

// Event names the core itself refers to.
const (
	GamePreload    = "GamePreload"
	GameStart      = "GameStart"
	GameFrame      = "GameFrame"
	GameOver       = "GameOver"
	Update         = "Update"
	DrawScreen     = "DrawScreen"
	DrawWorld      = "DrawWorld"
	MousePress     = "MousePress"
	MouseMove      = "MouseMove"
	MouseRelease   = "MouseRelease"
	GotChatMsg     = "GotChatMsg"
	MapDrawCmd     = "MapDrawCmd"
	AllowCommand   = "AllowCommand"
	RecvFromSynced = "RecvFromSynced"
	Shutdown       = "Shutdown"
	GetSyncData    = "GetSyncData"
	CheckSyncData  = "CheckSyncData"
	ConfigChanged  = "ConfigChanged"
)

type eventDef struct {
	name                          string
	managed, unsynced, controller bool
}

// defaultEvents is the engine's standard event table.
var defaultEvents = []eventDef{
	// game lifecycle
	{GamePreload, true, false, false},
	{GameStart, true, false, false},
	{GameFrame, true, false, false},
	{GameOver, true, false, false},
	{"GamePaused", true, false, false},
	{"GameID", true, false, false},
	{"TeamDied", true, false, false},
	{"TeamChanged", true, false, false},
	{"PlayerChanged", true, false, false},
	{"PlayerAdded", true, false, false},
	{"PlayerRemoved", true, false, false},
	{GotChatMsg, true, false, false},

	// simulation objects
	{"UnitCreated", true, false, false},
	{"UnitFinished", true, false, false},
	{"UnitFromFactory", true, false, false},
	{"UnitDestroyed", true, false, false},
	{"UnitTaken", true, false, false},
	{"UnitGiven", true, false, false},
	{"UnitIdle", true, false, false},
	{"UnitCommand", true, false, false},
	{"UnitCmdDone", true, false, false},
	{"UnitDamaged", true, false, false},
	{"UnitEnteredLos", true, false, false},
	{"UnitLeftLos", true, false, false},
	{"FeatureCreated", true, false, false},
	{"FeatureDestroyed", true, false, false},
	{"ProjectileCreated", true, false, false},
	{"ProjectileDestroyed", true, false, false},
	{"Explosion", true, false, false},
	{"StockpileChanged", true, false, false},

	// controller queries
	{AllowCommand, true, false, true},
	{"AllowUnitCreation", true, false, true},
	{"AllowUnitTransfer", true, false, true},
	{"AllowUnitBuildStep", true, false, true},
	{"AllowFeatureCreation", true, false, true},
	{"AllowResourceLevel", true, false, true},
	{"AllowResourceTransfer", true, false, true},
	{"AllowDirectUnitControl", true, false, true},
	{"AllowStartPosition", true, false, true},

	// client-local
	{Update, true, true, false},
	{"ViewResize", true, true, false},
	{"DrawGenesis", true, true, false},
	{DrawWorld, true, true, false},
	{"DrawWorldPreUnit", true, true, false},
	{DrawScreen, true, true, false},
	{"DrawScreenEffects", true, true, false},
	{"DrawInMiniMap", true, true, false},
	{"KeyPress", true, true, false},
	{"KeyRelease", true, true, false},
	{"TextInput", true, true, false},
	{MousePress, true, true, false},
	{MouseMove, true, true, false},
	{MouseRelease, true, true, false},
	{"MouseWheel", true, true, false},
	{"IsAbove", true, true, false},
	{"GetTooltip", true, true, false},
	{"CommandNotify", true, true, false},
	{"AddConsoleLine", true, true, false},
	{"GroupChanged", true, true, false},
	{MapDrawCmd, true, true, false},
	{"DefaultCommand", true, true, false},
	{"ActiveCommandChanged", true, true, false},
	{"CameraRotationChanged", true, true, false},
	{ConfigChanged, true, true, false},

	// delivered directly by their owner
	{RecvFromSynced, false, true, false},
	{Shutdown, false, false, false},
	{GetSyncData, false, false, false},
	{CheckSyncData, false, false, false},
	{"Load", false, false, false},
	{"Save", false, false, false},
}

// firstResponders are the managed events delivered back to front until a
// client reports them handled.
var firstResponders = map[string]bool{
	GotChatMsg:       true,
	MapDrawCmd:       true,
	"KeyPress":       true,
	"KeyRelease":     true,
	"TextInput":      true,
	"MouseWheel":     true,
	"IsAbove":        true,
	"GetTooltip":     true,
	"CommandNotify":  true,
	"DefaultCommand": true,
}

// RegisterDefaults adds the standard event table to r.
func RegisterDefaults(r *Registry) {
	for _, e := range defaultEvents {
		r.Register(e.name, e.managed, e.unsynced, e.controller)
	}
}

// DefaultRegistry returns a frozen registry holding the standard events.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	r.Freeze()
	return r
}
