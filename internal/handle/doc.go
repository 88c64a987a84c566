// Package handle builds dual-state script handles.
//
// A handle pairs a synced Lua state (deterministic, identical on every
// peer) with an unsynced one (client-local, free to read the clock and
// local files). The synced half talks to the unsynced half only through a
// bridge.Bridge: SendToUnsynced reaches the unsynced RecvFromSynced call-in
// and Script.CallUnsynced reaches functions the unsynced half shared with
// Script.AddSharedFunction. Nothing flows the other way.
//
// Construction is all or nothing: both halves are loaded and checked
// before either is registered with the dispatcher.
package handle
