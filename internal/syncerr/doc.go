// Package syncerr defines the error taxonomy shared by the replication
// packages. Every failure that crosses a package boundary is a *SyncError
// carrying a code, the operation and component that produced it, and
// whether retrying can help.
package syncerr
