// Package adapter defines the capability set the replication core needs
// from the application's record storage, one DataSource per collection.
//
// The required capabilities form the DataSource interface. Pumping local
// updates and deletes is optional (UpdateSource, DeleteSource). Funcs lets
// an application supply plain functions instead of a type; missing
// functions are reported by Validate before the node starts.
package adapter
