// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package snapshot manages filesystem snapshots of the store's data
// volume at checkpoint boundaries. The ZFS engine shells out to the
// zfs tool; hosts without ZFS degrade to a metadata-only engine so
// replication keeps running, just without rollback capability.
package snapshot

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/co"
	"github.com/spknetwork/honeygraph/log"
	"github.com/spknetwork/honeygraph/metrics"
)

var logger = log.WithContext("pkg", "snapshot")

var metricSnapshots = metrics.LazyLoadGauge("snapshots")

// DefaultMaxSnapshots caps retained snapshots; creation past the cap
// destroys the oldest first.
const DefaultMaxSnapshots = 100

// Engine abstracts the snapshot mechanism.
type Engine interface {
	Create(ctx context.Context, name string) error
	Rollback(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
	// Clone materializes snapshot name as the separate volume target.
	Clone(ctx context.Context, name, target string) error
	Available() bool
}

// Info describes one retained snapshot.
type Info struct {
	Name     string
	BlockNum uint64
	Hash     string
	Created  time.Time
}

// Handle is the persisted reference form, "<engine>:<name>".
func (i Info) Handle() string { return i.Name }

// Controller sequences snapshot creation, rollback and pruning over an
// engine.
type Controller struct {
	mu     sync.Mutex
	engine Engine
	max    int
	snaps  []Info // ascending by block
}

// NewController creates a controller with the default retention cap.
func NewController(engine Engine) *Controller {
	return &Controller{engine: engine, max: DefaultMaxSnapshots}
}

// Available reports whether the underlying engine can take snapshots.
func (c *Controller) Available() bool { return c.engine.Available() }

// SetMax overrides the retention cap. Values below one are ignored.
func (c *Controller) SetMax(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	c.max = n
	c.mu.Unlock()
}

// CreateCheckpoint snapshots the volume for a checkpoint block. On an
// unavailable engine only the metadata record is kept.
func (c *Controller) CreateCheckpoint(ctx context.Context, blockNum uint64, blockHash string) (Info, error) {
	short := blockHash
	if len(short) > 12 {
		short = short[:12]
	}
	info := Info{
		Name:     fmt.Sprintf("cp_%d_%s", blockNum, short),
		BlockNum: blockNum,
		Hash:     blockHash,
		Created:  time.Now().UTC(),
	}

	if c.engine.Available() {
		if err := c.engine.Create(ctx, info.Name); err != nil {
			return Info{}, errors.WithMessage(err, "create snapshot")
		}
	} else {
		logger.Warn("snapshot engine unavailable, checkpoint has no rollback point", "block", blockNum)
	}

	c.mu.Lock()
	c.snaps = append(c.snaps, info)
	sort.Slice(c.snaps, func(i, j int) bool { return c.snaps[i].BlockNum < c.snaps[j].BlockNum })
	metricSnapshots().Set(int64(len(c.snaps)))
	c.mu.Unlock()

	if err := c.Prune(ctx); err != nil {
		logger.Warn("snapshot prune failed", "err", err)
	}
	logger.Info("checkpoint snapshot created", "block", blockNum, "name", info.Name)
	return info, nil
}

// Rollback restores the newest snapshot at or before blockNum and
// drops every later one. The returned info tells the caller which
// block the store now reflects; forks past it must be orphaned.
func (c *Controller) Rollback(ctx context.Context, blockNum uint64) (Info, error) {
	c.mu.Lock()
	idx := -1
	for i, s := range c.snaps {
		if s.BlockNum <= blockNum {
			idx = i
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return Info{}, errors.Errorf("no snapshot at or before block %d", blockNum)
	}
	target := c.snaps[idx]
	dropped := append([]Info(nil), c.snaps[idx+1:]...)
	c.mu.Unlock()

	if !c.engine.Available() {
		return Info{}, errors.New("snapshot engine unavailable, cannot roll back")
	}
	if err := c.engine.Rollback(ctx, target.Name); err != nil {
		return Info{}, errors.WithMessage(err, "rollback snapshot")
	}

	c.mu.Lock()
	c.snaps = c.snaps[:idx+1]
	metricSnapshots().Set(int64(len(c.snaps)))
	c.mu.Unlock()

	for _, s := range dropped {
		if err := c.engine.Destroy(ctx, s.Name); err != nil {
			logger.Warn("destroy rolled-over snapshot", "name", s.Name, "err", err)
		}
	}
	logger.Info("rolled back to snapshot", "block", target.BlockNum, "name", target.Name)
	return target, nil
}

// Prune destroys the oldest snapshots beyond the retention cap.
func (c *Controller) Prune(ctx context.Context) error {
	c.mu.Lock()
	var victims []Info
	if n := len(c.snaps) - c.max; n > 0 {
		victims = append([]Info(nil), c.snaps[:n]...)
		c.snaps = append([]Info(nil), c.snaps[n:]...)
	}
	metricSnapshots().Set(int64(len(c.snaps)))
	c.mu.Unlock()

	for _, s := range victims {
		if c.engine.Available() {
			if err := c.engine.Destroy(ctx, s.Name); err != nil {
				return errors.WithMessagef(err, "destroy snapshot %s", s.Name)
			}
		}
		logger.Debug("snapshot pruned", "name", s.Name, "block", s.BlockNum)
	}
	return nil
}

// List returns retained snapshots, ascending by block.
func (c *Controller) List() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Info(nil), c.snaps...)
}

// DiffCheckpoints returns the retained snapshots after from up to and
// including to, ascending by block.
func (c *Controller) DiffCheckpoints(from, to uint64) []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Info
	for _, s := range c.snaps {
		if s.BlockNum > from && s.BlockNum <= to {
			out = append(out, s)
		}
	}
	return out
}

// GetCheckpointByHash finds the retained snapshot for a block hash.
func (c *Controller) GetCheckpointByHash(hash string) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.snaps {
		if s.Hash == hash {
			return s, true
		}
	}
	return Info{}, false
}

// CloneCheckpoint materializes the snapshot taken at blockNum as the
// volume named target, for side-by-side inspection without touching the
// live store. An unavailable engine degrades to a logged warning.
func (c *Controller) CloneCheckpoint(ctx context.Context, blockNum uint64, target string) (Info, error) {
	c.mu.Lock()
	var snap *Info
	for i := range c.snaps {
		if c.snaps[i].BlockNum == blockNum {
			snap = &c.snaps[i]
			break
		}
	}
	c.mu.Unlock()
	if snap == nil {
		return Info{}, errors.Errorf("no snapshot at block %d", blockNum)
	}
	if !c.engine.Available() {
		logger.Warn("snapshot engine unavailable, clone skipped", "block", blockNum, "target", target)
		return *snap, nil
	}
	if err := c.engine.Clone(ctx, snap.Name, target); err != nil {
		return Info{}, errors.WithMessage(err, "clone snapshot")
	}
	logger.Info("checkpoint cloned", "block", blockNum, "name", snap.Name, "target", target)
	return *snap, nil
}

// EnableAutoSnapshots takes a periodic snapshot of the tip reported by
// tip, skipping ticks where the tip has not advanced. The returned stop
// function halts the loop.
func (c *Controller) EnableAutoSnapshots(interval time.Duration, tip func() (uint64, string)) (stop func()) {
	done := make(chan struct{})
	var goes co.Goes
	goes.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var last uint64
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				blockNum, hash := tip()
				if blockNum == 0 || blockNum == last {
					continue
				}
				if _, err := c.CreateCheckpoint(context.Background(), blockNum, hash); err != nil {
					logger.Warn("auto snapshot failed", "block", blockNum, "err", err)
					continue
				}
				last = blockNum
			}
		}
	})
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		goes.Wait()
	}
}

// Restore seeds the controller's table, used at startup from the
// checkpoint ledger.
func (c *Controller) Restore(snaps []Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append([]Info(nil), snaps...)
	sort.Slice(c.snaps, func(i, j int) bool { return c.snaps[i].BlockNum < c.snaps[j].BlockNum })
	metricSnapshots().Set(int64(len(c.snaps)))
}

// ZFSEngine snapshots a ZFS dataset by shelling out to zfs(8).
type ZFSEngine struct {
	dataset   string
	available bool
}

// NewZFSEngine probes for the zfs tool and the dataset. A failed probe
// yields an unavailable engine rather than an error.
func NewZFSEngine(dataset string) *ZFSEngine {
	e := &ZFSEngine{dataset: dataset}
	if dataset == "" {
		return e
	}
	if _, err := exec.LookPath("zfs"); err != nil {
		logger.Warn("zfs tool not found, snapshots disabled")
		return e
	}
	if err := exec.Command("zfs", "list", dataset).Run(); err != nil {
		logger.Warn("zfs dataset not accessible, snapshots disabled", "dataset", dataset, "err", err)
		return e
	}
	e.available = true
	return e
}

// Available reports whether the engine can take snapshots.
func (e *ZFSEngine) Available() bool { return e.available }

func (e *ZFSEngine) run(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, "zfs", args...).CombinedOutput()
	if err != nil {
		return errors.Errorf("zfs %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Create takes dataset@name.
func (e *ZFSEngine) Create(ctx context.Context, name string) error {
	return e.run(ctx, "snapshot", e.dataset+"@"+name)
}

// Rollback restores dataset@name, destroying any later snapshots (-r).
func (e *ZFSEngine) Rollback(ctx context.Context, name string) error {
	return e.run(ctx, "rollback", "-r", e.dataset+"@"+name)
}

// Destroy removes dataset@name.
func (e *ZFSEngine) Destroy(ctx context.Context, name string) error {
	return e.run(ctx, "destroy", e.dataset+"@"+name)
}

// Clone writes dataset@name out as the dataset named target.
func (e *ZFSEngine) Clone(ctx context.Context, name, target string) error {
	return e.run(ctx, "clone", e.dataset+"@"+name, target)
}

// NoopEngine records nothing and can restore nothing.
type NoopEngine struct{}

func (NoopEngine) Create(context.Context, string) error        { return nil }
func (NoopEngine) Rollback(context.Context, string) error      { return errors.New("noop engine") }
func (NoopEngine) Destroy(context.Context, string) error       { return nil }
func (NoopEngine) Clone(context.Context, string, string) error { return errors.New("noop engine") }
func (NoopEngine) Available() bool                             { return false }
