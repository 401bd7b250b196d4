// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package fork

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spknetwork/honeygraph/graph"
)

// memStore persists fork entities in a map and hands out sequential
// uids for blank nodes.
type memStore struct {
	entities map[string]graph.Entity // uid -> last written entity
	nextUID  int
	queryRes string
}

func newMemStore() *memStore {
	return &memStore{entities: map[string]graph.Entity{}, queryRes: `{}`}
}

func (s *memStore) Query(context.Context, string, map[string]string) ([]byte, error) {
	return []byte(s.queryRes), nil
}

func (s *memStore) Mutate(_ context.Context, entities []graph.Entity, deletes []graph.Entity) (map[string]string, error) {
	uids := map[string]string{}
	for _, e := range entities {
		uid, _ := e["uid"].(string)
		if len(uid) > 2 && uid[:2] == "_:" {
			s.nextUID++
			assigned := fmt.Sprintf("0x%x", s.nextUID)
			uids[uid[2:]] = assigned
			uid = assigned
		}
		s.entities[uid] = e
	}
	for _, d := range deletes {
		if uid, ok := d["uid"].(string); ok {
			delete(s.entities, uid)
		}
	}
	return uids, nil
}

func TestDetectForkChainStaysOneFork(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	id, isNew, err := m.DetectFork(ctx, 50, "hashA", "hashGenesis")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "hashA", id)
	assert.Equal(t, "hashA", m.Canonical())

	// the next block extends hashA's tip, so the chain remains one fork
	id, isNew, err = m.DetectFork(ctx, 51, "hashB", "hashA")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "hashA", id)

	f, ok := m.Get("hashA")
	require.True(t, ok)
	assert.Equal(t, uint64(51), f.TipBlock)
	assert.Equal(t, "hashB", f.TipHash)
	assert.True(t, f.Canonical)
	assert.Len(t, m.GetActiveForks(), 1)
}

func TestDetectForkReplayedBlock(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 50, "hashA", "")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 51, "hashB", "hashA")
	require.NoError(t, err)

	// replaying the tip and the naming block resolves without change
	id, isNew, err := m.DetectFork(ctx, 51, "hashB", "hashA")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "hashA", id)

	id, isNew, err = m.DetectFork(ctx, 50, "hashA", "")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "hashA", id)

	f, _ := m.Get("hashA")
	assert.Equal(t, uint64(51), f.TipBlock)
	assert.Equal(t, "hashB", f.TipHash)
}

func TestDetectForkDivergence(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 100, "hashA", "")
	require.NoError(t, err)

	// a block whose parent matches no known tip is real divergence
	id, isNew, err := m.DetectFork(ctx, 101, "hashB", "hashUnseen")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "hashB", id)

	f, ok := m.Get("hashB")
	require.True(t, ok)
	assert.Equal(t, "hashA", f.ParentFork)
	assert.Equal(t, StatusActive, f.Status)
	assert.False(t, f.Canonical)
	assert.Equal(t, "hashA", m.Canonical())

	active := m.GetActiveForks()
	require.Len(t, active, 2)
	assert.Equal(t, "hashB", active[0].ForkID) // newest tip first
}

func TestForkOf(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 50, "hashA", "")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 51, "hashB", "hashA")
	require.NoError(t, err)

	id, ok := m.ForkOf("hashA")
	require.True(t, ok)
	assert.Equal(t, "hashA", id)

	// the tip hash resolves to the fork holding it
	id, ok = m.ForkOf("hashB")
	require.True(t, ok)
	assert.Equal(t, "hashA", id)

	_, ok = m.ForkOf("hashUnseen")
	assert.False(t, ok)
}

func TestSetCanonicalFork(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 100, "hashA", "")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 101, "hashB", "hashUnseen")
	require.NoError(t, err)

	require.NoError(t, m.SetCanonicalFork(ctx, "hashB"))
	assert.Equal(t, "hashB", m.Canonical())

	a, _ := m.Get("hashA")
	b, _ := m.Get("hashB")
	assert.False(t, a.Canonical)
	assert.True(t, b.Canonical)
	// the competing fork lost the consensus round
	assert.Equal(t, StatusOrphaned, a.Status)
	assert.Equal(t, StatusActive, b.Status)
}

func TestReconcileForks(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 100, "hashA", "")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 100, "hashAprime", "hashUnseen")
	require.NoError(t, err)

	// consensus names the competing tip
	canonical, orphaned, err := m.ReconcileForks(ctx, "hashAprime", 100)
	require.NoError(t, err)
	assert.Equal(t, "hashAprime", canonical)
	assert.Equal(t, 1, orphaned)
	assert.Equal(t, "hashAprime", m.Canonical())

	loser, _ := m.Get("hashA")
	assert.Equal(t, StatusOrphaned, loser.Status)
}

func TestReconcileForksUnseenHash(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 100, "hashA", "")
	require.NoError(t, err)

	// consensus on a block this replica never ingested registers it
	canonical, orphaned, err := m.ReconcileForks(ctx, "hashUnseen", 100)
	require.NoError(t, err)
	assert.Equal(t, "hashUnseen", canonical)
	assert.Equal(t, 1, orphaned)

	f, ok := m.Get("hashUnseen")
	require.True(t, ok)
	assert.True(t, f.Canonical)
}

func TestFinalizeAtCheckpoint(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 100, "hashA", "")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 90, "hashStub", "hashUnseen")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 120, "hashAhead", "hashOther")
	require.NoError(t, err)

	orphaned, err := m.FinalizeAtCheckpoint(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, orphaned)

	// the canonical fork is finalized once the checkpoint covers its tip
	canon, _ := m.Get("hashA")
	assert.Equal(t, StatusFinalized, canon.Status)
	// the competing fork that ended below the boundary can never win
	stub, _ := m.Get("hashStub")
	assert.Equal(t, StatusOrphaned, stub.Status)
	// forks past the boundary stay active
	ahead, _ := m.Get("hashAhead")
	assert.Equal(t, StatusActive, ahead.Status)

	// a new block on the finalized canonical fork reactivates it
	id, _, err := m.DetectFork(ctx, 101, "hashNext", "hashA")
	require.NoError(t, err)
	assert.Equal(t, "hashA", id)
	canon, _ = m.Get("hashA")
	assert.Equal(t, StatusActive, canon.Status)
}

func TestOrphanForksAfter(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 100, "hashA", "")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 120, "hashB", "hashUnseen1")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 90, "hashC", "hashUnseen2")
	require.NoError(t, err)

	// rollback to 95: hashB is past the cut, hashA is canonical and
	// spared, hashC's tip is before the cut
	n, err := m.OrphanForksAfter(ctx, 95)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, _ := m.Get("hashB")
	assert.Equal(t, StatusOrphaned, b.Status)
	a, _ := m.Get("hashA")
	assert.Equal(t, StatusActive, a.Status)
	c, _ := m.Get("hashC")
	assert.Equal(t, StatusActive, c.Status)
}

func TestPruneForksBlockCutoff(t *testing.T) {
	m := NewManager(newMemStore())
	ctx := context.Background()

	_, _, err := m.DetectFork(ctx, 5000, "hashCanon", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := m.DetectFork(ctx, uint64(1000+i), fmt.Sprintf("hashOld%d", i), "hashUnseen")
		require.NoError(t, err)
		require.NoError(t, m.UpdateForkStatus(ctx, fmt.Sprintf("hashOld%d", i), StatusOrphaned))
	}
	_, _, err = m.DetectFork(ctx, 1500, "hashOldActive", "hashUnseen2")
	require.NoError(t, err)
	_, _, err = m.DetectFork(ctx, 4900, "hashRecent", "hashUnseen3")
	require.NoError(t, err)
	require.NoError(t, m.UpdateForkStatus(ctx, "hashRecent", StatusOrphaned))

	// only orphaned forks whose tip is before the cutoff go
	pruned, err := m.PruneForks(ctx, 4000)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	for i := 0; i < 3; i++ {
		_, ok := m.Get(fmt.Sprintf("hashOld%d", i))
		assert.False(t, ok)
	}
	// an active fork is never pruned, however old
	_, ok := m.Get("hashOldActive")
	assert.True(t, ok)
	// an orphaned fork past the cutoff survives
	_, ok = m.Get("hashRecent")
	assert.True(t, ok)
	_, ok = m.Get("hashCanon")
	assert.True(t, ok)
}

func TestLoadRebuildsTable(t *testing.T) {
	store := newMemStore()
	store.queryRes = `{"forks":[
		{"uid":"0x1","forkId":"hashA","tipBlock":100,"tipHash":"hashTip","forkStatus":"ACTIVE","canonical":true},
		{"uid":"0x2","forkId":"hashB","tipBlock":90,"forkStatus":"ORPHANED","parentFork":"hashA"}
	]}`

	m := NewManager(store)
	require.NoError(t, m.Load(context.Background()))

	assert.Equal(t, "hashA", m.Canonical())
	a, ok := m.Get("hashA")
	require.True(t, ok)
	assert.Equal(t, "hashTip", a.TipHash)
	b, ok := m.Get("hashB")
	require.True(t, ok)
	assert.Equal(t, StatusOrphaned, b.Status)
	assert.Equal(t, "hashA", b.ParentFork)
	// a record without a stored tip hash falls back to its fork id
	assert.Equal(t, "hashB", b.TipHash)
	assert.Len(t, m.GetActiveForks(), 1)
}
