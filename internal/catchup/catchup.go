package catchup

import (
	"context"
	"fmt"
	"sort"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/logging"
	"coordsync/internal/syncerr"
	"coordsync/internal/wire"
)

// Protocol builds, answers and applies catch-up exchanges against one
// change log.
type Protocol struct {
	log    changelog.Store
	logger *logging.Logger
}

// New creates a protocol over log.
func New(log changelog.Store, logger *logging.Logger) *Protocol {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Protocol{log: log, logger: logger.WithComponent(logging.ComponentCatchUp)}
}

// Reply is the answer to a DataRequest. Either field may be nil.
type Reply struct {
	// Serve is sent back as set_data.
	Serve *wire.DataSet
	// TurnAround is sent back as get_data so the requester serves us.
	TurnAround *wire.DataRequest
}

// Stats counts what Apply changed.
type Stats struct {
	Inserted int
	Updated  int
	Deleted  int
	Changes  int
}

// Request describes the local state of collection.
func (p *Protocol) Request(ctx context.Context, collection string, ds adapter.DataSource) (wire.DataRequest, error) {
	last, err := ds.LatestExternalID(ctx)
	if err != nil {
		return wire.DataRequest{}, syncerr.NewAdapterError(syncerr.OpCatchUp, collection, err)
	}
	latest, err := p.log.Latest(ctx, collection)
	if err != nil {
		return wire.DataRequest{}, syncerr.NewStorageError(syncerr.OpQuery, err)
	}
	return wire.DataRequest{
		Identifier:       collection,
		LastExternalID:   last,
		LastChangeRecord: latest,
	}, nil
}

// Respond decides how to answer req. A responder that is behind turns
// the exchange around; one that is ahead serves; one that is level does
// both. A reversed request is always served and never turned around.
func (p *Protocol) Respond(ctx context.Context, req wire.DataRequest, ds adapter.DataSource) (Reply, error) {
	local, err := ds.LatestExternalID(ctx)
	if err != nil {
		return Reply{}, syncerr.NewAdapterError(syncerr.OpCatchUp, req.Identifier, err)
	}

	serve := req.Reversed || local >= req.LastExternalID
	turn := !req.Reversed && local <= req.LastExternalID

	var reply Reply
	if serve {
		set, err := p.Serve(ctx, req, ds)
		if err != nil {
			return Reply{}, err
		}
		reply.Serve = &set
	}
	if turn {
		back, err := p.Request(ctx, req.Identifier, ds)
		if err != nil {
			return Reply{}, err
		}
		back.Reversed = true
		reply.TurnAround = &back
	}

	p.logger.Debug("catch-up request answered",
		"collection", req.Identifier,
		"local", local,
		"remote", req.LastExternalID,
		"serve", serve,
		"turn_around", turn)
	return reply, nil
}

// Serve builds the data set for req: records past the requester's last
// id, the current data of records updated since its last change, and the
// collapsed change delta. Without a last change only the latest change is
// sent.
func (p *Protocol) Serve(ctx context.Context, req wire.DataRequest, ds adapter.DataSource) (wire.DataSet, error) {
	collection := req.Identifier

	records, err := ds.Records(ctx, req.LastExternalID+1, 0)
	if err != nil {
		return wire.DataSet{}, syncerr.NewAdapterError(syncerr.OpCatchUp, collection, err)
	}

	var changes []changelog.Change
	if req.LastChangeRecord == nil {
		latest, err := p.log.Latest(ctx, collection)
		if err != nil {
			return wire.DataSet{}, syncerr.NewStorageError(syncerr.OpQuery, err)
		}
		if latest != nil {
			changes = []changelog.Change{*latest}
		}
	} else {
		delta, err := p.log.Since(ctx, collection, req.LastChangeRecord.Index)
		if err != nil {
			return wire.DataSet{}, syncerr.NewStorageError(syncerr.OpQuery, err)
		}
		changes = changelog.Collapse(delta)
	}

	seen := make(map[int64]bool, len(records))
	for _, rec := range records {
		seen[rec.ExternalID] = true
	}
	for _, c := range changes {
		if c.Type != changelog.Update || c.ExternalID > req.LastExternalID || seen[c.ExternalID] {
			continue
		}
		updated, err := ds.Records(ctx, c.ExternalID, c.ExternalID)
		if err != nil {
			return wire.DataSet{}, syncerr.NewAdapterError(syncerr.OpCatchUp, collection, err)
		}
		for _, rec := range updated {
			records = append(records, rec)
			seen[rec.ExternalID] = true
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ExternalID < records[j].ExternalID })

	if records == nil {
		records = []adapter.Record{}
	}
	if changes == nil {
		changes = []changelog.Change{}
	}
	return wire.DataSet{Identifier: collection, Records: records, ChangeRecords: changes}, nil
}

// Apply merges set into ds and the change log. Records are inserted when
// absent and updated otherwise; delete changes remove their record; every
// change is appended under the sender's index.
func (p *Protocol) Apply(ctx context.Context, set wire.DataSet, ds adapter.DataSource) (Stats, error) {
	collection := set.Identifier
	var stats Stats

	for _, rec := range set.Records {
		existing, err := ds.Records(ctx, rec.ExternalID, rec.ExternalID)
		if err != nil {
			return stats, syncerr.NewAdapterError(syncerr.OpCatchUp, collection, err)
		}
		if len(existing) == 0 {
			if err := ds.Insert(ctx, rec, rec.ExternalID); err != nil {
				return stats, syncerr.NewAdapterError(syncerr.OpCatchUp, collection, fmt.Errorf("insert %d: %w", rec.ExternalID, err))
			}
			stats.Inserted++
			continue
		}
		if err := ds.Update(ctx, rec); err != nil {
			return stats, syncerr.NewAdapterError(syncerr.OpCatchUp, collection, fmt.Errorf("update %d: %w", rec.ExternalID, err))
		}
		stats.Updated++
	}

	for _, c := range set.ChangeRecords {
		c.Collection = collection
		if c.Type == changelog.Delete {
			existing, err := ds.Records(ctx, c.ExternalID, c.ExternalID)
			if err != nil {
				return stats, syncerr.NewAdapterError(syncerr.OpCatchUp, collection, err)
			}
			if len(existing) > 0 {
				if err := ds.Delete(ctx, existing[0]); err != nil {
					return stats, syncerr.NewAdapterError(syncerr.OpCatchUp, collection, fmt.Errorf("delete %d: %w", c.ExternalID, err))
				}
				stats.Deleted++
			}
		}
		if _, err := p.log.Append(ctx, c); err != nil {
			return stats, syncerr.NewStorageError(syncerr.OpAppend, err)
		}
		stats.Changes++
	}

	p.logger.Info("catch-up applied",
		"collection", collection,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"changes", stats.Changes)
	return stats, nil
}
