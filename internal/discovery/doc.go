// Package discovery lets a node find the coordinator of a service on the
// local network.
//
// A coordinator announces itself for as long as its context lives;
// browsers receive every announcement for a service name on a channel.
// UDP broadcasts JSON announcements, Static replays a configured seed
// list, and Hub is an in-process rendition for tests.
package discovery
