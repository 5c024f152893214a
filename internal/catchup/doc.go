// Package catchup reconciles one collection between two peers after a
// join or reconnect.
//
// The side with the higher latest external id serves data; a side that
// is behind turns the exchange around so the fresher peer serves. Change
// deltas are collapsed to one entry per record before they are sent.
// Applying a data set is idempotent.
package catchup
