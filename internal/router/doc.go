// Package router places decoded messages on exactly one processing path
// and builds parented outbound messages.
//
// Ownership boundary:
// - per-channel admission of message types
// - execution, control and comm queues
// - direct kernel_info answers from cached capability data
// - request scopes (parent header and reply address) and the current execution scope
// - stdin input_request/input_reply pairing
//
// The router never runs user code and never blocks on socket writes.
package router
