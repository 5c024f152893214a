// Package transport carries envelopes between nodes over long-lived,
// bidirectional connections.
//
// GRPC runs every connection as one bidirectional stream of the
// /coordsync.v1.Sync/Channel method. Memory is an in-process network for
// tests. Both report a vanished peer as io.EOF from Recv.
package transport
