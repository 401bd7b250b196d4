// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package worker schedules replication jobs onto two bounded worker
// pools. Jobs sharing a serialization key (fork id, market key) run in
// submission order; everything else runs concurrently.
package worker

import (
	"time"

	"github.com/pborman/uuid"

	"github.com/spknetwork/honeygraph/spk"
	"github.com/spknetwork/honeygraph/transform"
)

// Kind discriminates job payloads.
type Kind string

const (
	// KindBlock applies one block's operation batch to the store.
	KindBlock Kind = "block"
	// KindOps applies a loose operation batch outside block cadence.
	KindOps Kind = "ops"
	// KindCheckpoint creates a checkpoint snapshot at a block boundary.
	KindCheckpoint Kind = "checkpoint"
	// KindRollback rolls the store back to an earlier checkpoint.
	KindRollback Kind = "rollback"
	// KindFork applies a fork status transition.
	KindFork Kind = "fork"
)

// Status is a job's lifecycle state, readable through the queue.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// DefaultPriority orders kinds when the queue has a backlog: rollbacks
// preempt everything, checkpoints beat block ingestion.
func DefaultPriority(kind Kind) int {
	switch kind {
	case KindRollback:
		return 100
	case KindCheckpoint:
		return 50
	case KindFork:
		return 40
	case KindBlock:
		return 10
	}
	return 0
}

// Job is one unit of queued work.
type Job struct {
	ID       string
	Kind     Kind
	Priority int
	// Key serializes jobs: while one job with a key runs, others with
	// the same key stay queued. Empty keys never serialize.
	Key string
	// Network routes the job to a token-specific pipeline; empty runs
	// on the default network.
	Network string
	Ops     []transform.Op
	Block   transform.BlockInfo
	// TargetBlock is the rollback/checkpoint block for control jobs.
	TargetBlock uint64
	// PrevHash chains checkpoint jobs to their predecessor.
	PrevHash string
	// Fork transition payload for KindFork jobs.
	ForkID     string
	ForkStatus string
	Canonical  bool

	attempts  int
	seq       uint64
	notBefore time.Time
}

// NewJob creates a job of the given kind with its default priority.
func NewJob(kind Kind, key string) *Job {
	return &Job{
		ID:       uuid.NewRandom().String(),
		Kind:     kind,
		Priority: DefaultPriority(kind),
		Key:      key,
	}
}

// Attempts returns how many times the job has run.
func (j *Job) Attempts() int { return j.attempts }

// MarketKey derives the serialization key for a loose operation batch:
// batches mutating the same DEX book must not interleave. Batches
// touching no book, or more than one, return "" and run concurrently.
func MarketKey(ops []transform.Op) string {
	var market string
	for _, op := range ops {
		if len(op.Path) == 0 {
			continue
		}
		if _, ok := spk.TokenForDexPrefix(op.Path[0]); !ok {
			continue
		}
		if market == "" {
			market = op.Path[0]
		} else if market != op.Path[0] {
			return ""
		}
	}
	if market == "" {
		return ""
	}
	return "market:" + market
}

// Result is the queue's record of a job, kept after completion for
// status polling.
type Result struct {
	ID        string    `json:"jobId"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	BlockNum  uint64    `json:"blockNum,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
