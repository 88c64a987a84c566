// Package debugsrv serves a read-mostly HTTP view of a running engine.
//
// Routes:
//
//	GET  /healthz              liveness and the current frame
//	GET  /events               the event table, its hash and subscribers
//	GET  /events/:name         one event
//	GET  /handles              loaded handles in dispatch order
//	GET  /handles/:kind        one handle
//	POST /handles/:kind/kill   request a deferred kill
//	GET  /bridges              deferral queue counters
//	GET  /settings             settings snapshot
//	PUT  /settings/:name       change one setting
//	GET  /faults?handle=NAME   recorded faults
//
// The server never calls into a Lua state. Everything it reports is read
// through accessors that are safe from any goroutine, and the only write
// to the engine is RequestKill, which is processed at the next safe point.
package debugsrv
