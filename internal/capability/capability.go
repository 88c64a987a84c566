// Package capability models what a running call-in may read or control and
// the scoped elevation used by CallAsTeam.
package capability

import (
	"errors"
	"fmt"
)

// Special team IDs.
const (
	// NoAccessTeam grants nothing.
	NoAccessTeam = -1
	// AllAccessTeam grants everything (full control / full read).
	AllAccessTeam = -2
)

// ErrNested is returned when Elevate is called while an elevation is
// already active on the same guard.
var ErrNested = errors.New("capability: elevation cannot be nested")

// Context is the capability set of the currently executing call-in.
type Context struct {
	FullControl  bool `json:"full_control"`
	FullRead     bool `json:"full_read"`
	CtrlTeam     int  `json:"ctrl_team"`
	ReadTeam     int  `json:"read_team"`
	ReadAllyTeam int  `json:"read_ally_team"`
	SelectTeam   int  `json:"select_team"`
}

// None is the empty capability set.
func None() Context {
	return Context{
		CtrlTeam:     NoAccessTeam,
		ReadTeam:     NoAccessTeam,
		ReadAllyTeam: NoAccessTeam,
		SelectTeam:   NoAccessTeam,
	}
}

// All is the unrestricted capability set held by game rules.
func All() Context {
	return Context{
		FullControl:  true,
		FullRead:     true,
		CtrlTeam:     AllAccessTeam,
		ReadTeam:     AllAccessTeam,
		ReadAllyTeam: AllAccessTeam,
		SelectTeam:   AllAccessTeam,
	}
}

func (c Context) String() string {
	return fmt.Sprintf("ctrl=%d(full=%t) read=%d/%d(full=%t) select=%d",
		c.CtrlTeam, c.FullControl, c.ReadTeam, c.ReadAllyTeam, c.FullRead, c.SelectTeam)
}

// Teams resolves team IDs for capability changes.
type Teams interface {
	// NumTeams returns the number of teams in the game.
	NumTeams() int
	// AllyTeam returns the ally team of team.
	AllyTeam(team int) int
}

// Valid reports whether team is a real team or one of the special IDs.
func Valid(t Teams, team int) bool {
	if team == NoAccessTeam || team == AllAccessTeam {
		return true
	}
	return team >= 0 && team < t.NumTeams()
}

// WithCtrl returns c with control switched to team.
func (c Context) WithCtrl(team int) Context {
	c.CtrlTeam = team
	c.FullControl = team == AllAccessTeam
	return c
}

// WithRead returns c with read access switched to team.
func (c Context) WithRead(t Teams, team int) Context {
	c.ReadTeam = team
	if team < 0 {
		c.ReadAllyTeam = team
	} else {
		c.ReadAllyTeam = t.AllyTeam(team)
	}
	c.FullRead = team == AllAccessTeam
	return c
}

// WithSelect returns c with selection switched to team.
func (c Context) WithSelect(team int) Context {
	c.SelectTeam = team
	return c
}

// AsTeam returns c acting fully as team (control, read and select).
func (c Context) AsTeam(t Teams, team int) Context {
	return c.WithCtrl(team).WithRead(t, team).WithSelect(team)
}

// Roster is a Teams backed by a table of ally teams indexed by team.
type Roster []int

func (r Roster) NumTeams() int { return len(r) }

func (r Roster) AllyTeam(team int) int {
	if team < 0 || team >= len(r) {
		return NoAccessTeam
	}
	return r[team]
}
