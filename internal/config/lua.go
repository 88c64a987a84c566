package config

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/spring/spring-sub006/internal/script"
)

// Install registers Spring.GetConfigInt, GetConfigString, SetConfigInt
// and SetConfigString. They are unsynced only: synced code never sees
// local configuration.
func Install(ns *script.Namespaces, s *Settings) {
	ns.Register(script.NamespaceSpring, "GetConfigInt", func(L *lua.LState) int {
		name := L.CheckString(1)
		def := L.OptInt(2, 0)
		L.Push(lua.LNumber(s.Int(name, def)))
		return 1
	}, script.AvailUnsynced)

	ns.Register(script.NamespaceSpring, "GetConfigString", func(L *lua.LState) int {
		name := L.CheckString(1)
		def := L.OptString(2, "")
		L.Push(lua.LString(s.String(name, def)))
		return 1
	}, script.AvailUnsynced)

	ns.Register(script.NamespaceSpring, "SetConfigInt", func(L *lua.LState) int {
		s.SetInt(L.CheckString(1), L.CheckInt(2))
		return 0
	}, script.AvailUnsynced)

	ns.Register(script.NamespaceSpring, "SetConfigString", func(L *lua.LState) int {
		s.Set(L.CheckString(1), L.CheckString(2))
		return 0
	}, script.AvailUnsynced)
}
