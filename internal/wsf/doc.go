// Package wsf provides the cooperative runtime underneath the link-layer
// controller: a size-classed buffer pool, a tick-driven timer service built on
// a delta-encoded list, and a run-to-completion message scheduler.
//
// All three are plain context structs. Nothing in this package keeps global
// state, so independent stack instances (and tests) never share a timer list
// or a pool.
//
// Interrupt context is modelled by any goroutine other than the one calling
// Scheduler.RunOnce. The only operations allowed from there are
// Scheduler.PostMessage, Scheduler.SetEvent, Scheduler.Tick and the
// BufPool allocation calls.
package wsf
