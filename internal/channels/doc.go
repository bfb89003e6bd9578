// Package channels owns the kernel's five sockets.
//
// Ownership boundary:
// - socket binding per connection descriptor (ZeroMQ ROUTER/PUB/REP)
// - per-channel receive pump and send loop
// - outbound FIFO outboxes (bounded for iopub)
// - the heartbeat echo loop
//
// Channels decode inbound frames and hand messages to a Handler. They never
// interpret message types; routing belongs to package router.
package channels
