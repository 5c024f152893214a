package wire

import (
	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/registry"
)

// Validate is sent by a participant right after connecting.
type Validate struct {
	ServiceName string `json:"serviceName"`
	NodeID      string `json:"nodeId"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
}

// Validated accepts a participant.
type Validated struct {
	NodeID string `json:"nodeId"`
}

// Rejected is sent before the coordinator drops a connection.
type Rejected struct {
	Reason string `json:"reason"`
}

// PeerList is the set_clients payload.
type PeerList []registry.Peer

// Request asks a peer to apply a mutation. ExternalID is the id proposed
// by the sender; zero on an insert that has none yet.
type Request struct {
	Identifier string         `json:"identifier"`
	Data       adapter.Record `json:"data"`
	ExternalID int64          `json:"externalId,omitempty"`
}

// Response acknowledges a Request. ExternalID is authoritative;
// ProposedID echoes the requester's id when the coordinator re-issued it.
// Vetoed is set by the coordinator when it rejected the mutation.
type Response struct {
	Identifier string `json:"identifier"`
	ExternalID int64  `json:"externalId"`
	ProposedID int64  `json:"proposedId,omitempty"`
	Vetoed     bool   `json:"vetoed,omitempty"`
}

// DataRequest starts catch-up for one collection.
type DataRequest struct {
	Identifier       string            `json:"identifier"`
	LastExternalID   int64             `json:"lastExternalId"`
	LastChangeRecord *changelog.Change `json:"lastChangeRecord,omitempty"`
	Reversed         bool              `json:"reversed"`
}

// DataSet answers a DataRequest.
type DataSet struct {
	Identifier    string             `json:"identifier"`
	Records       []adapter.Record   `json:"records"`
	ChangeRecords []changelog.Change `json:"changeRecords"`
}
