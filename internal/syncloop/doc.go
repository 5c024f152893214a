// Package syncloop pumps local mutations into the cluster on a fixed
// tick, one pending mutation per collection and kind per cycle. Only one
// cycle runs at a time.
package syncloop
