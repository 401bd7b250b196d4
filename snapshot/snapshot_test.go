// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package snapshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine records calls and tracks live snapshot names.
type fakeEngine struct {
	live      map[string]bool
	rollbacks []string
	clones    map[string]string // target -> source snapshot
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{live: map[string]bool{}, clones: map[string]string{}}
}

func (f *fakeEngine) Create(_ context.Context, name string) error {
	f.live[name] = true
	return nil
}

func (f *fakeEngine) Rollback(_ context.Context, name string) error {
	f.rollbacks = append(f.rollbacks, name)
	return nil
}

func (f *fakeEngine) Destroy(_ context.Context, name string) error {
	delete(f.live, name)
	return nil
}

func (f *fakeEngine) Clone(_ context.Context, name, target string) error {
	f.clones[target] = name
	return nil
}

func (f *fakeEngine) Available() bool { return true }

func TestCreateCheckpointAndPrune(t *testing.T) {
	eng := newFakeEngine()
	c := NewController(eng)
	c.max = 3
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		_, err := c.CreateCheckpoint(ctx, i*1000, "deadbeefdeadbeef")
		require.NoError(t, err)
	}

	snaps := c.List()
	require.Len(t, snaps, 3)
	assert.Equal(t, uint64(3000), snaps[0].BlockNum)
	assert.Equal(t, uint64(5000), snaps[2].BlockNum)
	assert.Len(t, eng.live, 3)
}

func TestRollbackDropsLaterSnapshots(t *testing.T) {
	eng := newFakeEngine()
	c := NewController(eng)
	ctx := context.Background()

	for i := uint64(1); i <= 4; i++ {
		_, err := c.CreateCheckpoint(ctx, i*1000, "hash")
		require.NoError(t, err)
	}

	info, err := c.Rollback(ctx, 2500)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), info.BlockNum)
	assert.Equal(t, []string{"cp_2000_hash"}, eng.rollbacks)

	snaps := c.List()
	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(2000), snaps[1].BlockNum)
	assert.False(t, eng.live["cp_3000_hash"])
	assert.False(t, eng.live["cp_4000_hash"])
}

func TestRollbackWithoutSnapshotFails(t *testing.T) {
	c := NewController(newFakeEngine())
	_, err := c.Rollback(context.Background(), 100)
	assert.Error(t, err)
}

func TestNoopEngineDegrades(t *testing.T) {
	c := NewController(NoopEngine{})
	ctx := context.Background()

	// creation still records metadata
	info, err := c.CreateCheckpoint(ctx, 1000, "hash")
	require.NoError(t, err)
	assert.Equal(t, "cp_1000_hash", info.Name)
	assert.Len(t, c.List(), 1)

	// but rollback is impossible
	_, err = c.Rollback(ctx, 1000)
	assert.Error(t, err)
}

func TestGetCheckpointByHash(t *testing.T) {
	c := NewController(newFakeEngine())
	ctx := context.Background()

	_, err := c.CreateCheckpoint(ctx, 1000, "hashone")
	require.NoError(t, err)
	_, err = c.CreateCheckpoint(ctx, 2000, "hashtwo")
	require.NoError(t, err)

	info, ok := c.GetCheckpointByHash("hashtwo")
	require.True(t, ok)
	assert.Equal(t, uint64(2000), info.BlockNum)

	_, ok = c.GetCheckpointByHash("missing")
	assert.False(t, ok)
}

func TestDiffCheckpoints(t *testing.T) {
	c := NewController(newFakeEngine())
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		_, err := c.CreateCheckpoint(ctx, i*1000, "hash")
		require.NoError(t, err)
	}

	diff := c.DiffCheckpoints(2000, 4000)
	require.Len(t, diff, 2)
	assert.Equal(t, uint64(3000), diff[0].BlockNum)
	assert.Equal(t, uint64(4000), diff[1].BlockNum)
	assert.Empty(t, c.DiffCheckpoints(5000, 9000))
}

func TestCloneCheckpoint(t *testing.T) {
	eng := newFakeEngine()
	c := NewController(eng)
	ctx := context.Background()

	_, err := c.CreateCheckpoint(ctx, 1000, "hash")
	require.NoError(t, err)

	info, err := c.CloneCheckpoint(ctx, 1000, "tank/inspect")
	require.NoError(t, err)
	assert.Equal(t, "cp_1000_hash", info.Name)
	assert.Equal(t, "cp_1000_hash", eng.clones["tank/inspect"])

	_, err = c.CloneCheckpoint(ctx, 9999, "tank/other")
	assert.Error(t, err)
}

func TestCloneCheckpointUnavailableEngine(t *testing.T) {
	c := NewController(NoopEngine{})
	ctx := context.Background()

	_, err := c.CreateCheckpoint(ctx, 1000, "hash")
	require.NoError(t, err)

	// degrades to a warning, not an error
	info, err := c.CloneCheckpoint(ctx, 1000, "tank/inspect")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), info.BlockNum)
}

func TestEnableAutoSnapshots(t *testing.T) {
	eng := newFakeEngine()
	c := NewController(eng)

	var mu sync.Mutex
	tipBlock := uint64(100)
	stop := c.EnableAutoSnapshots(5*time.Millisecond, func() (uint64, string) {
		mu.Lock()
		defer mu.Unlock()
		return tipBlock, "hash"
	})

	assert.Eventually(t, func() bool { return len(c.List()) == 1 }, time.Second, time.Millisecond)

	// an unchanged tip takes no further snapshot
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.List(), 1)

	mu.Lock()
	tipBlock = 200
	mu.Unlock()
	assert.Eventually(t, func() bool { return len(c.List()) == 2 }, time.Second, time.Millisecond)

	stop()
	stop() // idempotent
}

func TestRestoreSeedsTable(t *testing.T) {
	c := NewController(newFakeEngine())
	c.Restore([]Info{
		{Name: "cp_2000_x", BlockNum: 2000},
		{Name: "cp_1000_x", BlockNum: 1000},
	})
	snaps := c.List()
	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(1000), snaps[0].BlockNum)
}
