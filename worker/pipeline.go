// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/checkpointdb"
	"github.com/spknetwork/honeygraph/fork"
	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/metrics"
	"github.com/spknetwork/honeygraph/snapshot"
	"github.com/spknetwork/honeygraph/transform"
)

var metricBlocksApplied = metrics.LazyLoadCounter("blocks_applied_total")

// Store is the mutation surface the pipeline commits through.
type Store interface {
	Query(ctx context.Context, q string, vars map[string]string) ([]byte, error)
	Mutate(ctx context.Context, entities []graph.Entity, deletes []graph.Entity) (map[string]string, error)
}

// Pipeline wires the transformer, fork manager, snapshot controller and
// checkpoint ledger into queue handlers. One pipeline serves one
// network; token networks registered through AddNetwork get their own
// store, fork table and transformer, and jobs route to them by prefix.
type Pipeline struct {
	store    Store
	tr       *transform.Transformer
	forks    *fork.Manager
	snaps    *snapshot.Controller
	ledger   *checkpointdb.DB
	networks map[string]*Pipeline
}

// NewPipeline assembles the replication pipeline for one network.
func NewPipeline(store Store, tr *transform.Transformer, forks *fork.Manager,
	snaps *snapshot.Controller, ledger *checkpointdb.DB) *Pipeline {
	return &Pipeline{
		store:    store,
		tr:       tr,
		forks:    forks,
		snaps:    snaps,
		ledger:   ledger,
		networks: make(map[string]*Pipeline),
	}
}

// AddNetwork registers a token network's pipeline under its prefix.
func (p *Pipeline) AddNetwork(prefix string, np *Pipeline) {
	p.networks[prefix] = np
}

// route picks the pipeline serving a job's network. Unknown prefixes
// fall through to the default network.
func (p *Pipeline) route(network string) *Pipeline {
	if np, ok := p.networks[network]; ok {
		return np
	}
	return p
}

// ResolveFork resolves the fork a block extends on the given network,
// registering divergence as it is seen. The intake calls this before
// queueing so block jobs are keyed by fork, not by block hash, and one
// chain serializes as one fork.
func (p *Pipeline) ResolveFork(ctx context.Context, network string, blockNum uint64, blockHash, parentHash string) (string, error) {
	forkID, _, err := p.route(network).forks.DetectFork(ctx, blockNum, blockHash, parentHash)
	return forkID, err
}

// Register installs the pipeline's handlers on a queue.
func (p *Pipeline) Register(q *Queue) {
	q.Register(KindBlock, p.handleBlock)
	q.Register(KindOps, p.handleBlock)
	q.Register(KindCheckpoint, p.handleCheckpoint)
	q.Register(KindRollback, p.handleRollback)
	q.Register(KindFork, p.handleFork)
}

// handleBlock transforms and commits one operation batch. The block's
// fork is resolved before anything is written, so fork divergence is
// visible even when the batch itself fails.
func (p *Pipeline) handleBlock(ctx context.Context, job *Job) error {
	p = p.route(job.Network)
	if job.Block.BlockHash != "" {
		forkID, _, err := p.forks.DetectFork(ctx, job.Block.BlockNum, job.Block.BlockHash, job.Block.PrevHash)
		if err != nil {
			return err
		}
		job.Block.ForkID = forkID
	}

	batch, err := p.tr.Transform(ctx, job.Ops, job.Block)
	if err != nil {
		return errors.WithMessage(err, "transform")
	}
	if batch.Empty() {
		return nil
	}

	uids, err := p.store.Mutate(ctx, batch.Entities(), batch.Deletes())
	if err != nil {
		return errors.WithMessage(err, "commit batch")
	}
	p.tr.Resolve(uids)
	metricBlocksApplied().Add(1)
	logger.Debug("batch applied", "block", job.Block.BlockNum,
		"entities", len(batch.Entities()), "ops", len(job.Ops))
	return nil
}

// handleCheckpoint validates the checkpoint hash chain, snapshots the
// volume, records the boundary in the ledger and the graph, then
// settles the fork table: history under the boundary is final, losing
// forks are orphaned and expired ones pruned.
func (p *Pipeline) handleCheckpoint(ctx context.Context, job *Job) error {
	p = p.route(job.Network)
	latest, err := p.ledger.Latest()
	if err != nil {
		return err
	}
	if latest != nil && job.PrevHash != "" && latest.BlockHash != job.PrevHash {
		return errors.Errorf("checkpoint chain broken at %d: have %s, stream expects prev %s",
			job.Block.BlockNum, latest.BlockHash, job.PrevHash)
	}

	info, err := p.snaps.CreateCheckpoint(ctx, job.Block.BlockNum, job.Block.BlockHash)
	if err != nil {
		return err
	}

	var opsJSON []byte
	if len(job.Ops) > 0 {
		if opsJSON, err = json.Marshal(job.Ops); err != nil {
			return err
		}
	}
	if err := p.ledger.Save(checkpointdb.Checkpoint{
		BlockNum:       job.Block.BlockNum,
		BlockHash:      job.Block.BlockHash,
		PrevHash:       job.PrevHash,
		ForkID:         job.Block.ForkID,
		SnapshotHandle: info.Handle(),
		CreatedAt:      time.Now().Unix(),
	}, opsJSON); err != nil {
		return errors.WithMessage(err, "save checkpoint")
	}

	e := graph.NewEntity("Checkpoint",
		graph.Local("checkpoint_"+uitoa(job.Block.BlockNum)))
	e["checkpointBlock"] = int64(job.Block.BlockNum)
	e["blockHash"] = job.Block.BlockHash
	e["forkId"] = job.Block.ForkID
	e["snapshotHandle"] = info.Handle()
	if _, err := p.store.Mutate(ctx, []graph.Entity{e}, nil); err != nil {
		return errors.WithMessage(err, "persist checkpoint")
	}

	if _, err := p.forks.FinalizeAtCheckpoint(ctx, job.Block.BlockNum); err != nil {
		return errors.WithMessage(err, "finalize forks")
	}
	if retention := p.forks.RetentionBlocks(); job.Block.BlockNum > retention {
		if _, err := p.forks.PruneForks(ctx, job.Block.BlockNum-retention); err != nil {
			logger.Warn("fork prune failed", "block", job.Block.BlockNum, "err", err)
		}
	}
	if changed, hit, miss := p.tr.CacheStats(); changed {
		logger.Info("account cache", "hit", hit, "miss", miss)
	}
	logger.Info("checkpoint recorded", "block", job.Block.BlockNum, "hash", job.Block.BlockHash)
	return nil
}

// handleRollback restores the newest snapshot at or before the target
// block, trims the ledger and orphans every fork past the restore
// point.
func (p *Pipeline) handleRollback(ctx context.Context, job *Job) error {
	p = p.route(job.Network)
	info, err := p.snaps.Rollback(ctx, job.TargetBlock)
	if err != nil {
		return err
	}
	if err := p.ledger.DeleteAfter(info.BlockNum); err != nil {
		return err
	}
	orphaned, err := p.forks.OrphanForksAfter(ctx, info.BlockNum)
	if err != nil {
		return err
	}
	logger.Info("rollback complete", "target", job.TargetBlock,
		"restored", info.BlockNum, "orphanedForks", orphaned)
	return nil
}

// handleFork applies a fork transition. The canonical path runs a full
// reconcile, since consensus can name a block this replica never
// ingested.
func (p *Pipeline) handleFork(ctx context.Context, job *Job) error {
	p = p.route(job.Network)
	if job.Canonical {
		canonical, orphaned, err := p.forks.ReconcileForks(ctx, job.ForkID, job.TargetBlock)
		if err != nil {
			return err
		}
		logger.Info("consensus applied", "canonical", canonical, "orphaned", orphaned)
		return nil
	}
	return p.forks.UpdateForkStatus(ctx, job.ForkID, fork.Status(job.ForkStatus))
}

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
