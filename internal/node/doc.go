// Package node runs one member of a sync cluster.
//
// A node browses for a coordinator of its service. If one answers it
// becomes a participant and hands its mutations to the coordinator;
// otherwise it listens, announces itself and coordinates. The coordinator
// arbitrates external ids and relays every mutation to the other
// participants, applying it only once all of them acknowledged.
//
// When a participant loses its coordinator it walks the registry it last
// received, in join order, until one of the other participants answers
// as the new coordinator. The most senior participant restarts election
// instead and so becomes that coordinator.
package node
