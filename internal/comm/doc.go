// Package comm multiplexes application sub-channels over shell and iopub.
//
// Ownership boundary:
// - target registry (target name -> handler factory)
// - open comm table keyed by comm_id
// - per-comm mailbox goroutine (FIFO per comm, concurrent across comms)
// - exactly-once handler teardown
//
// Comm traffic is parented to the request that caused it when that request's
// scope is still open, otherwise to the in-flight execution, otherwise none.
package comm
