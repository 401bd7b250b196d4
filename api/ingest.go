// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/api/restutil"
	"github.com/spknetwork/honeygraph/transform"
	"github.com/spknetwork/honeygraph/worker"
)

// ForkResolver resolves the fork a block extends on a network, keyed
// by the block's own hash and its parent hash.
type ForkResolver interface {
	ResolveFork(ctx context.Context, network string, blockNum uint64, blockHash, parentHash string) (string, error)
}

// BlockPayload is one replicated block from an authoring node.
type BlockPayload struct {
	BlockNum     uint64         `json:"blockNum"`
	BlockHash    string         `json:"blockHash"`
	PreviousHash string         `json:"previousHash"`
	ExpectedHash string         `json:"expectedHash,omitempty"`
	LIB          uint64         `json:"lib"`
	IsLIB        bool           `json:"isLib,omitempty"`
	Timestamp    int64          `json:"timestamp,omitempty"`
	Network      string         `json:"network,omitempty"`
	Operations   []transform.Op `json:"operations"`
}

// ConsensusPayload reports the fork the network agreed on.
type ConsensusPayload struct {
	BlockNum      uint64   `json:"blockNum"`
	ConsensusHash string   `json:"consensusHash"`
	AgreedNodes   []string `json:"agreedNodes,omitempty"`
	Network       string   `json:"network,omitempty"`
}

// CheckpointPayload is a checkpoint notification.
type CheckpointPayload struct {
	BlockNum  uint64 `json:"blockNum"`
	BlockHash string `json:"blockHash"`
	PrevHash  string `json:"prevHash,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	NodeID    string `json:"nodeId,omitempty"`
	Network   string `json:"network,omitempty"`
}

// Ingest exposes the queued REST intake: replicate endpoints that turn
// payloads into jobs, and job status polling.
type Ingest struct {
	queue    *worker.Queue
	resolver ForkResolver
}

// NewIngest creates the intake handlers over a queue.
func NewIngest(queue *worker.Queue, resolver ForkResolver) *Ingest {
	return &Ingest{queue: queue, resolver: resolver}
}

func (i *Ingest) handleBlock(w http.ResponseWriter, r *http.Request) error {
	var payload BlockPayload
	if err := restutil.ParseJSON(r.Body, &payload); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if payload.BlockNum == 0 || payload.BlockHash == "" {
		return restutil.BadRequest(errors.New("blockNum and blockHash are required"))
	}

	// blocks extending one chain must apply in order, so the job is
	// keyed by the fork the block lands on, not by the block hash
	forkID, err := i.resolver.ResolveFork(r.Context(), payload.Network,
		payload.BlockNum, payload.BlockHash, payload.PreviousHash)
	if err != nil {
		return err
	}

	job := worker.NewJob(worker.KindBlock, forkID)
	job.Network = payload.Network
	job.Ops = payload.Operations
	job.Block = transform.BlockInfo{
		BlockNum:  payload.BlockNum,
		BlockHash: payload.BlockHash,
		PrevHash:  payload.PreviousHash,
		ForkID:    forkID,
		Timestamp: payload.Timestamp,
	}
	id, err := i.submit(job)
	if err != nil {
		return err
	}

	// an irreversible block also closes a checkpoint boundary
	if payload.IsLIB {
		cp := worker.NewJob(worker.KindCheckpoint, forkID)
		cp.Network = payload.Network
		cp.Block = job.Block
		cp.PrevHash = payload.PreviousHash
		if _, err := i.submit(cp); err != nil {
			return err
		}
	}
	return restutil.WriteJSON(w, restutil.M{"jobId": id})
}

func (i *Ingest) handleConsensus(w http.ResponseWriter, r *http.Request) error {
	var payload ConsensusPayload
	if err := restutil.ParseJSON(r.Body, &payload); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if payload.ConsensusHash == "" {
		return restutil.BadRequest(errors.New("consensusHash is required"))
	}

	job := worker.NewJob(worker.KindFork, payload.ConsensusHash)
	job.Network = payload.Network
	job.ForkID = payload.ConsensusHash
	job.TargetBlock = payload.BlockNum
	job.Canonical = true
	id, err := i.submit(job)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, restutil.M{"jobId": id})
}

func (i *Ingest) handleCheckpoint(w http.ResponseWriter, r *http.Request) error {
	var payload CheckpointPayload
	if err := restutil.ParseJSON(r.Body, &payload); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if payload.BlockNum == 0 || payload.BlockHash == "" {
		return restutil.BadRequest(errors.New("blockNum and blockHash are required"))
	}

	job := worker.NewJob(worker.KindCheckpoint, payload.BlockHash)
	job.Network = payload.Network
	job.Block = transform.BlockInfo{
		BlockNum:  payload.BlockNum,
		BlockHash: payload.BlockHash,
		Timestamp: payload.Timestamp,
	}
	job.PrevHash = payload.PrevHash
	id, err := i.submit(job)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, restutil.M{"jobId": id})
}

func (i *Ingest) handleJobStatus(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]
	result, ok := i.queue.Status(id)
	if !ok {
		return restutil.NotFound(errors.Errorf("unknown job %s", id))
	}
	return restutil.WriteJSON(w, result)
}

func (i *Ingest) submit(job *worker.Job) (string, error) {
	id, err := i.queue.Submit(job)
	if errors.Is(err, worker.ErrQueueFull) {
		return "", restutil.HTTPError(err, http.StatusServiceUnavailable)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Mount installs the intake routes. The caller owns the subrouter, so
// auth middleware installed there covers every intake route.
func (i *Ingest) Mount(sub *mux.Router) {
	sub.Path("/block").
		Methods(http.MethodPost).
		Name("ingest_block").
		HandlerFunc(restutil.WrapHandlerFunc(i.handleBlock))
	sub.Path("/consensus").
		Methods(http.MethodPost).
		Name("ingest_consensus").
		HandlerFunc(restutil.WrapHandlerFunc(i.handleConsensus))
	sub.Path("/checkpoint").
		Methods(http.MethodPost).
		Name("ingest_checkpoint").
		HandlerFunc(restutil.WrapHandlerFunc(i.handleCheckpoint))
}

// MountStatus installs the job status route.
func (i *Ingest) MountStatus(root *mux.Router, pathPrefix string) {
	root.Path(pathPrefix + "/{id}").
		Methods(http.MethodGet).
		Name("ingest_job_status").
		HandlerFunc(restutil.WrapHandlerFunc(i.handleJobStatus))
}
