// Package dispatch is the orchestrator side of switchyard.
//
// A Pool owns N worker slots, one fixed TCP endpoint each. Envelopes
// submitted to the pool land on the todo queue; a single dispatch loop
// pops them and assigns each to exactly one slot, round-robin over
// 0..N-1. Replies from workers are decoded by a per-slot receive loop and
// pushed to the done queue.
//
// The FrontDoor is where the bridge connects. It validates incoming
// envelopes, records which connection is waiting on each correlation id,
// submits them to the pool, and drains the done queue back to the
// waiting connection.
//
// Behaviour worth knowing:
//   - There is no health check or backpressure. A slot whose worker is
//     not connected keeps a backlog that is flushed in order on connect.
//   - A worker that dies mid-job strands that request. Nothing is retried.
//   - Malformed replies are logged and dropped without affecting other
//     slots.
//   - Only Discord results are routed back to the bridge; anything else
//     is logged as an error and dropped.
//
// Supervisor (spawn.go) optionally launches the agent processes and the
// bridge process, handing the bridge its front-door address over a
// length-prefixed stdin/stdout handshake.
package dispatch
