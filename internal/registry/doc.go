// Package registry tracks the peers connected to the coordinator.
//
// The coordinator owns the authoritative copy and pushes it to every
// participant whenever it changes. Participants keep the last copy they
// received and walk it in join order when the coordinator disappears.
//
// Limitations:
// - No liveness detection; entries leave only on disconnect
// - The coordinator itself is never listed
package registry
