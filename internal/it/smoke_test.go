package it

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/node"
)

const settleTimeout = 10 * time.Second

func startCluster(t *testing.T, ctx context.Context, ids ...string) *Cluster {
	t.Helper()
	cluster, err := NewCluster()
	require.NoError(t, err)
	t.Cleanup(cluster.Stop)

	for i, id := range ids {
		n, err := cluster.StartNode(ctx, id)
		require.NoError(t, err)
		if i == 0 {
			// Let the first node win the election before the rest join.
			require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
				return n.Node.Phase() == node.Coordinator
			}), "first node never coordinated")
		}
	}
	require.NoError(t, WaitFor(ctx, settleTimeout, cluster.Settled), "cluster did not settle")
	return cluster
}

func text(s string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"text": s})
	return b
}

func TestSmoke_ElectionAndJoin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster := startCluster(t, ctx, "n1", "n2", "n3")

	coord := cluster.Coordinator()
	require.NotNil(t, coord)
	assert.Equal(t, "n1", coord.ID)

	require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
		for _, n := range cluster.Running() {
			if len(n.Node.Peers()) != 2 {
				return false
			}
		}
		return true
	}))

	// Every node sees the registry in join order.
	for _, n := range cluster.Running() {
		peers := n.Node.Peers()
		assert.Equal(t, "n2", peers[0].ID, "node %s", n.ID)
		assert.Equal(t, "n3", peers[1].ID, "node %s", n.ID)
	}
}

func TestSmoke_InsertUpdateDelete_Converge(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster := startCluster(t, ctx, "n1", "n2", "n3")
	n1, n2, n3 := cluster.GetNode("n1"), cluster.GetNode("n2"), cluster.GetNode("n3")

	// Insert from a participant
	n2.Source.Add(text("hello"))
	require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
		_, ok := n3.Source.Get(1)
		return ok && cluster.Converged()
	}), "insert did not converge")

	// Update from another participant
	require.NoError(t, n3.Source.Edit(1, text("hello, edited")))
	require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
		rec, _ := n1.Source.Get(1)
		return string(rec.Data) == string(text("hello, edited")) && cluster.Converged()
	}), "update did not converge")

	// Delete from the coordinator
	require.NoError(t, n1.Source.Remove(1))
	require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
		_, ok := n2.Source.Get(1)
		return !ok && cluster.Converged()
	}), "delete did not converge")

	for _, n := range cluster.Running() {
		latest, err := n.Log.Latest(ctx, Collection)
		require.NoError(t, err)
		require.NotNil(t, latest, "node %s has no change log", n.ID)
		assert.Equal(t, changelog.Delete, latest.Type, "node %s", n.ID)
		assert.Equal(t, int64(1), latest.ExternalID, "node %s", n.ID)
	}
}

func TestSmoke_ConcurrentInserts_UniqueIDs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster := startCluster(t, ctx, "n1", "n2", "n3")

	const perNode = 5
	var wg sync.WaitGroup
	for _, n := range cluster.Running() {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			for i := 0; i < perNode; i++ {
				n.Source.Add(text(fmt.Sprintf("%s-%d", n.ID, i)))
			}
		}(n)
	}
	wg.Wait()

	total := perNode * len(cluster.Running())
	require.NoError(t, WaitFor(ctx, 2*settleTimeout, func() bool {
		return cluster.Converged() && len(cluster.GetNode("n1").Source.Snapshot()) == total
	}), "inserts did not converge")

	seen := make(map[string]int64)
	for _, rec := range cluster.GetNode("n2").Source.Snapshot() {
		prev, dup := seen[string(rec.Data)]
		assert.False(t, dup, "payload %s stored under %d and %d", rec.Data, prev, rec.ExternalID)
		seen[string(rec.Data)] = rec.ExternalID
	}
	assert.Len(t, seen, total)
}

func TestSmoke_JoinCatchUp(t *testing.T) {
	tests := []struct {
		name      string
		coordUpTo int64
		joinUpTo  int64
	}{
		{"joiner bootstraps", 3, 0},
		{"joiner is ahead", 3, 5},
		{"level", 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			cluster, err := NewCluster()
			require.NoError(t, err)
			defer cluster.Stop()

			coordSrc := preload(t, ctx, tt.coordUpTo)
			joinSrc := preload(t, ctx, tt.joinUpTo)

			n1, err := cluster.StartNodeWith(ctx, "n1", coordSrc)
			require.NoError(t, err)
			require.NoError(t, WaitFor(ctx, settleTimeout, func() bool { return n1.Node.Phase() == node.Coordinator }))

			_, err = cluster.StartNodeWith(ctx, "n2", joinSrc)
			require.NoError(t, err)
			require.NoError(t, WaitFor(ctx, settleTimeout, cluster.Settled))

			want := int(max(tt.coordUpTo, tt.joinUpTo))
			require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
				return len(coordSrc.Snapshot()) == want && cluster.Converged()
			}), "catch-up did not converge")
		})
	}
}

// preload returns a source holding records 1..upTo.
func preload(t *testing.T, ctx context.Context, upTo int64) *adapter.Memory {
	t.Helper()
	src := adapter.NewMemory()
	for id := int64(1); id <= upTo; id++ {
		require.NoError(t, src.Insert(ctx, adapter.Record{Data: text(fmt.Sprint(id))}, id))
	}
	return src
}

func TestSmoke_CoordinatorFailover(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster := startCluster(t, ctx, "n1", "n2", "n3")
	require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
		return len(cluster.GetNode("n3").Node.Peers()) == 2
	}))

	cluster.GetNode("n1").Stop()

	// n2 joined first, so it takes over and n3 fails over to it.
	require.NoError(t, WaitFor(ctx, 2*settleTimeout, cluster.Settled), "cluster did not recover")
	coord := cluster.Coordinator()
	require.NotNil(t, coord)
	assert.Equal(t, "n2", coord.ID)

	cluster.GetNode("n3").Source.Add(text("after failover"))
	require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
		return len(cluster.GetNode("n2").Source.Snapshot()) == 1 && cluster.Converged()
	}), "insert after failover did not converge")
}

func TestSmoke_GRPC_SQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping loopback gRPC cluster in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster, err := NewCluster(WithGRPC(), WithSQLite())
	require.NoError(t, err)
	defer cluster.Stop()

	n1, err := cluster.StartNode(ctx, "n1")
	require.NoError(t, err)
	require.NoError(t, WaitFor(ctx, settleTimeout, func() bool { return n1.Node.Phase() == node.Coordinator }))
	n2, err := cluster.StartNode(ctx, "n2")
	require.NoError(t, err)
	require.NoError(t, WaitFor(ctx, settleTimeout, cluster.Settled))

	n2.Source.Add(text("over the wire"))
	n1.Source.Add(text("and back"))
	require.NoError(t, WaitFor(ctx, settleTimeout, func() bool {
		return len(n1.Source.Snapshot()) == 2 && cluster.Converged()
	}), "gRPC cluster did not converge")

	for _, n := range []*Node{n1, n2} {
		changes, err := n.Log.Since(ctx, Collection, 0)
		require.NoError(t, err)
		assert.Len(t, changes, 2, "node %s", n.ID)
	}
}
