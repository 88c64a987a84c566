// Package bridge carries calls between the synced and unsynced Lua states
// of a handle.
//
// The two states never share Lua values. Arguments are deep-copied into
// Value trees on the sending side and rebuilt in the receiving state.
// Only nil, booleans, numbers, strings and tables of those cross; functions,
// userdata, threads, channels and cyclic tables are refused.
//
// A Bridge has one of two shapes, fixed when it is created:
//
//	Direct  the target runs inside Call and its results are returned
//	Queued  Call enqueues and returns nothing; Drain replays in FIFO order
//
// Queued is used when the sending and receiving states live on different
// goroutines. Drain must run on the receiving goroutine.
package bridge
