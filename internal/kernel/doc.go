// Package kernel owns the execution lifecycle.
//
// Ownership boundary:
// - kernel state machine (starting, idle, busy, shutting_down, terminated)
// - the executor, the only goroutine that calls into the engine
// - the control worker (interrupt and shutdown)
// - startup, shutdown ordering and goroutine join
// - the standalone Service (socket binding, admin surface, status log)
//
// Ordering guarantees on iopub for every execute_request:
// status busy, execute_input, outputs, execute_reply on shell, status idle.
package kernel
