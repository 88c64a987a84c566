// Package events holds the process-wide event table and the dispatcher that
// routes engine notifications into script call-ins.
//
// The Registry is built once at startup and frozen; afterwards it is only
// queried. The Dispatcher keeps, for every managed event, the list of
// clients subscribed to it, ordered by (Order, Name, insertion sequence).
// That order is the call-in firing order and must be identical on every
// peer, so it never depends on map iteration, pointer values or time.
//
// Dispatch policies:
//   - Notify: forward order, every subscriber, results ignored.
//   - Respond: reverse order, stop at the first subscriber that handled it.
//   - AllowAll / AnyOf: controller aggregation (AND / OR), no early exit.
//   - Pointer capture: the client that handled MousePress receives
//     MouseMove and MouseRelease exclusively until release.
//
// Clients may add or remove themselves from inside a call-in; the fire
// loops tolerate this without skipping or re-visiting other clients.
package events
