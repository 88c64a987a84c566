package handle

import (
	"math"
	"math/rand/v2"

	lua "github.com/yuin/gopher-lua"
)

// SyncedRNG is the simulation random number generator. Every peer seeds it
// with the game seed and draws from it in the same order, so synced code
// sees the same sequence everywhere.
type SyncedRNG struct {
	seed uint64
	pcg  *rand.PCG
	r    *rand.Rand
}

const seedMix = 0x9e3779b97f4a7c15

// NewSyncedRNG creates a generator seeded with seed.
func NewSyncedRNG(seed uint64) *SyncedRNG {
	pcg := rand.NewPCG(seed, seed^seedMix)
	return &SyncedRNG{seed: seed, pcg: pcg, r: rand.New(pcg)}
}

// Seed restarts the sequence from seed.
func (g *SyncedRNG) Seed(seed uint64) {
	g.seed = seed
	g.pcg.Seed(seed, seed^seedMix)
}

// Float64 returns a number in [0, 1).
func (g *SyncedRNG) Float64() float64 { return g.r.Float64() }

// IntRange returns an integer in [lo, hi]. lo must not exceed hi; the span
// may cover the whole int64 range.
func (g *SyncedRNG) IntRange(lo, hi int64) int64 {
	span := uint64(hi-lo) + 1
	if span == 0 {
		return int64(g.r.Uint64())
	}
	return lo + int64(g.r.Uint64N(span))
}

// Install replaces math.random and math.randomseed in tbl.
func (g *SyncedRNG) Install(L *lua.LState, tbl *lua.LTable) {
	tbl.RawSetString("random", L.NewFunction(g.luaRandom))
	tbl.RawSetString("randomseed", L.NewFunction(g.luaRandomSeed))
}

// math.random([m [, n]]) with Lua 5.1 semantics.
func (g *SyncedRNG) luaRandom(L *lua.LState) int {
	switch L.GetTop() {
	case 0:
		L.Push(lua.LNumber(g.Float64()))
	case 1:
		hi := int64(L.CheckInt(1))
		if hi < 1 {
			L.ArgError(1, "interval is empty")
		}
		L.Push(lua.LNumber(g.IntRange(1, hi)))
	default:
		lo, hi := int64(L.CheckInt(1)), int64(L.CheckInt(2))
		if lo > hi {
			L.ArgError(2, "interval is empty")
		}
		if d := hi - lo; d < 0 || d == math.MaxInt64 {
			L.ArgError(2, "interval is too large")
		}
		L.Push(lua.LNumber(g.IntRange(lo, hi)))
	}
	return 1
}

func (g *SyncedRNG) luaRandomSeed(L *lua.LState) int {
	g.Seed(uint64(L.CheckInt64(1)))
	return 0
}
