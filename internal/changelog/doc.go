// Package changelog provides the append-only per-collection log of applied
// mutations used to reconcile peers that missed live broadcasts. Entries
// are keyed by a sequence index that is strictly increasing per collection;
// repeated entries for the same record collapse to the latest one.
package changelog
