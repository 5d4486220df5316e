// Package sync implements the multi-device synchronization coordinator.
//
// The coordinator is the single authority for synchronization state. All
// of its state and every remote-store call live on one run-loop goroutine;
// timer ticks, manual triggers, enable/disable requests, and reachability
// transitions are delivered to that loop as commands, never executed on
// the caller's goroutine. This keeps overlapping sync cycles impossible by
// construction.
//
// A sync cycle runs two phases, categories then assignments, because an
// assignment may reference a category that must already exist locally.
// Within each phase upload happens before download so a record just
// written locally is not overwritten by a stale download in the same pass.
// Record processing within a phase is best-effort: a failed record is
// logged and skipped, and the phase is reported failed only after every
// record has been attempted.
//
// Failures are classified at this boundary and translated into status
// transitions; nothing propagates to the UI as an unhandled fault.
// Connectivity failures move the coordinator to the offline status and
// queue the affected writes for replay. Backend configuration failures
// (missing entitlement, bad container) disable sync persistently until
// the user re-enables it.
package sync
