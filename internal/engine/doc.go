// Package engine drives loaded script handles frame by frame.
//
// The engine owns the event dispatcher, the loaded handles and the frame
// clock. Every frame has three phases:
//
//  1. sim: GameFrame fires on ThreadSim after call-ins deferred to the sim
//     thread and synced events given to Post are replayed
//  2. render: queued synced -> unsynced bridge calls drain, deferred render
//     call-ins and posted unsynced events replay, then Update, DrawWorld
//     and DrawScreen fire on ThreadRender
//  3. safe point: kill requests made during the frame are carried out and,
//     every SyncInterval frames, sync data is checkpointed to the store
//
// With Options.Threaded the sim and render phases run on two goroutines
// and each handle's bridge is Queued; without it both run on the calling
// goroutine and bridges are Direct. The choice is fixed at New.
//
// Nothing runs during the safe point, so handle teardown never races a
// call-in. Frame numbers come from a logical Clock, never wall time.
//
// Fault handling: every failed call-in is recorded in the store when one is
// configured. Fatal failures are charged to the handle's FaultBudget; when
// the budget is exhausted the handle is killed at the next safe point.
package engine
