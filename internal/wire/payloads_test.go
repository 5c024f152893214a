package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/registry"
)

// TestPayloads_Golden pins the JSON shape of every payload, since peers
// running other builds decode it.
func TestPayloads_Golden(t *testing.T) {
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	cases := []struct {
		name    string
		payload any
	}{
		{"validate", Validate{ServiceName: "notes-sync", NodeID: "n1", Host: "10.0.0.5", Port: 7011}},
		{"validated", Validated{NodeID: "c1"}},
		{"rejected", Rejected{Reason: "service name mismatch"}},
		{"set_clients", PeerList{{ID: "a", Host: "10.0.0.1", Port: 7011, Connected: true}}},
		{"insert_request", Request{
			Identifier: "notes",
			Data:       adapter.Record{Data: json.RawMessage(`{"title":"a"}`), UpdatedAt: stamp},
			ExternalID: 4,
		}},
		{"insert_response", Response{Identifier: "notes", ExternalID: 7, ProposedID: 4}},
		{"get_data_bootstrap", DataRequest{Identifier: "notes", LastExternalID: 3}},
		{"get_data_reversed", DataRequest{
			Identifier:       "notes",
			LastExternalID:   3,
			LastChangeRecord: &changelog.Change{Index: 2, Collection: "notes", ExternalID: 3, Type: changelog.Update},
			Reversed:         true,
		}},
		{"set_data", DataSet{
			Identifier:    "notes",
			Records:       []adapter.Record{{ExternalID: 4, Data: json.RawMessage(`"x"`)}},
			ChangeRecords: []changelog.Change{{Index: 5, Collection: "notes", ExternalID: 4, Type: changelog.Insert}},
		}},
		{"set_data_empty", DataSet{Identifier: "notes", Records: []adapter.Record{}, ChangeRecords: []changelog.Change{}}},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.payload)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			g.Assert(t, tc.name, data)
		})
	}
}

func TestPeerList_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventSetClients, "c1", PeerList{{ID: "a", Host: "h", Port: 1}})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	var peers []registry.Peer
	if err := env.Decode(&peers); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(peers) != 1 || peers[0].ID != "a" {
		t.Errorf("Unexpected peers %v", peers)
	}
}
