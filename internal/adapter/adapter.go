package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"coordsync/internal/syncerr"
)

// Record is a replicated application record.
type Record struct {
	// ExternalID is the cross-node identifier; zero until the record has
	// been acknowledged by the cluster.
	ExternalID int64 `json:"externalId"`
	// Data is the opaque application payload.
	Data json.RawMessage `json:"data,omitempty"`
	// UpdatedAt drives last-writer-wins decisions.
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	// LocalID is the storage-internal handle of a record; it never leaves
	// the node.
	LocalID int64 `json:"-"`
}

// DataSource is the per-collection capability set the core invokes.
type DataSource interface {
	// LatestExternalID returns the highest external id the source has ever
	// stored, or 0. Deleting a record must not lower it.
	LatestExternalID(ctx context.Context) (int64, error)
	// Records returns records with from <= ExternalID <= to, ordered by
	// ExternalID. A to <= 0 means unbounded.
	Records(ctx context.Context, from, to int64) ([]Record, error)
	// Insert stores a record received from a peer under id.
	Insert(ctx context.Context, rec Record, id int64) error
	// Update overwrites the record with rec.ExternalID.
	Update(ctx context.Context, rec Record) error
	// Delete removes the record with rec.ExternalID.
	Delete(ctx context.Context, rec Record) error
	// DecideUpdate reports whether an incoming update should be applied.
	DecideUpdate(ctx context.Context, incoming Record) (bool, error)
	// DecideDelete reports whether an incoming delete should be applied.
	DecideDelete(ctx context.Context, incoming Record) (bool, error)
	// FetchPendingInsert returns one local record not yet replicated, or nil.
	FetchPendingInsert(ctx context.Context) (*Record, error)
	// AfterInsert records the finalized external id of a local insert.
	AfterInsert(ctx context.Context, rec Record, id int64) error
}

// UpdateSource is implemented by sources that queue local updates.
type UpdateSource interface {
	FetchPendingUpdate(ctx context.Context) (*Record, error)
	AfterUpdate(ctx context.Context, rec Record) error
}

// DeleteSource is implemented by sources that queue local deletes.
type DeleteSource interface {
	FetchPendingDelete(ctx context.Context) (*Record, error)
	AfterDelete(ctx context.Context, rec Record) error
}

// ErrNilSource is returned when a collection is defined without a source.
var ErrNilSource = errors.New("data source cannot be nil")

// Check verifies that ds can serve collection. Sources exposing a
// Validate method (such as Funcs) are asked to validate themselves.
func Check(collection string, ds DataSource) error {
	if ds == nil {
		return syncerr.NewAdapterError(syncerr.OpDefine, collection, ErrNilSource)
	}
	if v, ok := ds.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return syncerr.NewAdapterError(syncerr.OpDefine, collection, err)
		}
	}
	return nil
}

// Updates returns the update capability of ds, if it has one.
func Updates(ds DataSource) (UpdateSource, bool) {
	us, ok := ds.(UpdateSource)
	if !ok {
		return nil, false
	}
	if c, ok := ds.(interface{ HasUpdates() bool }); ok && !c.HasUpdates() {
		return nil, false
	}
	return us, true
}

// Deletes returns the delete capability of ds, if it has one.
func Deletes(ds DataSource) (DeleteSource, bool) {
	src, ok := ds.(DeleteSource)
	if !ok {
		return nil, false
	}
	if c, ok := ds.(interface{ HasDeletes() bool }); ok && !c.HasDeletes() {
		return nil, false
	}
	return src, true
}
