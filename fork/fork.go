// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package fork tracks the chain forks observed in the replication
// stream. The in-memory view is authoritative during a run and is
// rebuilt from the store on startup, so a restart cannot silently
// resurrect an orphaned fork.
package fork

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/log"
	"github.com/spknetwork/honeygraph/metrics"
)

var logger = log.WithContext("pkg", "fork")

var metricForks = metrics.LazyLoadGaugeVec("forks", []string{"status"})

// Status is a fork's lifecycle state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusOrphaned  Status = "ORPHANED"
	StatusFinalized Status = "FINALIZED"
)

// DefaultRetention is how many blocks of orphaned fork history are kept
// before pruning.
const DefaultRetention = 1000

// Store is the persistence surface the manager needs.
type Store interface {
	Query(ctx context.Context, q string, vars map[string]string) ([]byte, error)
	Mutate(ctx context.Context, entities []graph.Entity, deletes []graph.Entity) (map[string]string, error)
}

// Fork is one observed chain fork. The fork is named by the hash of its
// first diverging block; TipHash tracks its head as blocks extend it.
type Fork struct {
	ForkID     string
	TipBlock   uint64
	TipHash    string
	Status     Status
	ParentFork string
	Canonical  bool

	ref graph.Ref
}

// Manager tracks forks for one network.
type Manager struct {
	mu        sync.Mutex
	store     Store
	forks     map[string]*Fork
	canonical string
	retention uint64
}

// NewManager creates a fork manager persisting through store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:     store,
		forks:     make(map[string]*Fork),
		retention: DefaultRetention,
	}
}

// RetentionBlocks returns the orphaned-fork retention window.
func (m *Manager) RetentionBlocks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retention
}

// SetRetention overrides the retention window. Zero keeps the default.
func (m *Manager) SetRetention(blocks uint64) {
	if blocks == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retention = blocks
}

const loadForksQuery = `{
	forks(func: type(Fork)) {
		uid
		forkId
		tipBlock
		tipHash
		forkStatus
		parentFork
		canonical
	}
}`

// Load rebuilds the in-memory fork table from the store.
func (m *Manager) Load(ctx context.Context) error {
	raw, err := m.store.Query(ctx, loadForksQuery, nil)
	if err != nil {
		return errors.WithMessage(err, "load forks")
	}
	var res struct {
		Forks []struct {
			UID        string `json:"uid"`
			ForkID     string `json:"forkId"`
			TipBlock   uint64 `json:"tipBlock"`
			TipHash    string `json:"tipHash"`
			Status     string `json:"forkStatus"`
			ParentFork string `json:"parentFork"`
			Canonical  bool   `json:"canonical"`
		} `json:"forks"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return errors.WithMessage(err, "decode forks")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.forks = make(map[string]*Fork, len(res.Forks))
	m.canonical = ""
	for _, f := range res.Forks {
		fork := &Fork{
			ForkID:     f.ForkID,
			TipBlock:   f.TipBlock,
			TipHash:    f.TipHash,
			Status:     Status(f.Status),
			ParentFork: f.ParentFork,
			Canonical:  f.Canonical,
			ref:        graph.Stored(f.UID),
		}
		if fork.TipHash == "" {
			fork.TipHash = f.ForkID
		}
		m.forks[f.ForkID] = fork
		if f.Canonical {
			m.canonical = f.ForkID
		}
	}
	logger.Info("fork table loaded", "forks", len(m.forks), "canonical", m.canonical)
	m.updateGauges()
	return nil
}

// forkWithTip finds the fork whose head is hash; callers hold the lock.
func (m *Manager) forkWithTip(hash string) *Fork {
	if hash == "" {
		return nil
	}
	for _, f := range m.forks {
		if f.TipHash == hash {
			return f
		}
	}
	return nil
}

// DetectFork resolves the fork a block belongs to. A block extending a
// known tip advances that fork; a replayed block resolves to the fork
// already holding it; anything else is real divergence and starts a new
// fork named by the block's own hash. The first fork ever seen becomes
// canonical. Returns the resolved fork id and whether it was created.
func (m *Manager) DetectFork(ctx context.Context, blockNum uint64, blockHash, parentHash string) (string, bool, error) {
	if blockHash == "" {
		return "", false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// replay of a fork's head or of its naming block
	if f := m.forkWithTip(blockHash); f != nil {
		return f.ForkID, false, nil
	}
	if f, ok := m.forks[blockHash]; ok {
		return f.ForkID, false, nil
	}

	if f := m.forkWithTip(parentHash); f != nil {
		f.TipBlock = blockNum
		f.TipHash = blockHash
		if f.Status == StatusFinalized {
			f.Status = StatusActive
		}
		m.updateGauges()
		return f.ForkID, false, m.persist(ctx, f)
	}

	f := m.register(blockHash, blockNum, blockHash)
	logger.Info("new fork detected", "fork", f.ForkID, "block", blockNum, "parent", f.ParentFork)
	m.updateGauges()
	return f.ForkID, true, m.persist(ctx, f)
}

// register creates a fork record; callers hold the lock.
func (m *Manager) register(forkID string, tipBlock uint64, tipHash string) *Fork {
	f := &Fork{
		ForkID:     forkID,
		TipBlock:   tipBlock,
		TipHash:    tipHash,
		Status:     StatusActive,
		ParentFork: m.canonical,
		ref:        graph.Local("fork_" + graph.SanitizeLabel(forkID)),
	}
	if m.canonical == "" {
		f.Canonical = true
		m.canonical = forkID
	}
	m.forks[forkID] = f
	return f
}

// ForkOf resolves a fork id or a tip block hash to its fork id.
func (m *Manager) ForkOf(hash string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forks[hash]; ok {
		return hash, true
	}
	if f := m.forkWithTip(hash); f != nil {
		return f.ForkID, true
	}
	return "", false
}

// UpdateForkStatus sets a fork's lifecycle state.
func (m *Manager) UpdateForkStatus(ctx context.Context, forkID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forks[forkID]
	if !ok {
		return errors.Errorf("unknown fork %s", forkID)
	}
	f.Status = status
	m.updateGauges()
	return m.persist(ctx, f)
}

// SetCanonicalFork moves the canonical flag to forkID.
func (m *Manager) SetCanonicalFork(ctx context.Context, forkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forks[forkID]
	if !ok {
		return errors.Errorf("unknown fork %s", forkID)
	}
	_, err := m.setCanonical(ctx, f)
	return err
}

// setCanonical promotes f and orphans competing active forks that did
// not outgrow it; forks already ahead stay active until the next
// consensus round. Callers hold the lock.
func (m *Manager) setCanonical(ctx context.Context, f *Fork) (int, error) {
	if prev, ok := m.forks[m.canonical]; ok && prev != f {
		prev.Canonical = false
		if err := m.persist(ctx, prev); err != nil {
			return 0, err
		}
	}
	f.Canonical = true
	f.Status = StatusActive
	m.canonical = f.ForkID

	var orphaned int
	for _, other := range m.forks {
		if other == f || other.Status != StatusActive || other.TipBlock > f.TipBlock {
			continue
		}
		other.Status = StatusOrphaned
		orphaned++
		if err := m.persist(ctx, other); err != nil {
			return orphaned, err
		}
	}
	logger.Info("canonical fork set", "fork", f.ForkID, "orphaned", orphaned)
	m.updateGauges()
	return orphaned, m.persist(ctx, f)
}

// ReconcileForks applies one consensus round: the fork holding
// consensusHash becomes canonical and the losers are orphaned.
// Consensus can name a block this replica never saw, which registers a
// fresh fork at blockNum before promoting it.
func (m *Manager) ReconcileForks(ctx context.Context, consensusHash string, blockNum uint64) (string, int, error) {
	if consensusHash == "" {
		return "", 0, errors.New("empty consensus hash")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.forks[consensusHash]
	if !ok {
		f = m.forkWithTip(consensusHash)
	}
	if f == nil {
		f = m.register(consensusHash, blockNum, consensusHash)
		if err := m.persist(ctx, f); err != nil {
			return "", 0, err
		}
	}
	orphaned, err := m.setCanonical(ctx, f)
	return f.ForkID, orphaned, err
}

// FinalizeAtCheckpoint records that history through blockNum is
// irreversible. The canonical fork is finalized once the checkpoint
// covers its tip, and competing active forks that ended at or below the
// boundary can no longer win and are orphaned.
func (m *Manager) FinalizeAtCheckpoint(ctx context.Context, blockNum uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orphaned int
	for _, f := range m.forks {
		if f.TipBlock > blockNum {
			continue
		}
		if f.ForkID == m.canonical {
			if f.Status == StatusActive {
				f.Status = StatusFinalized
				if err := m.persist(ctx, f); err != nil {
					return orphaned, err
				}
			}
			continue
		}
		if f.Status == StatusActive {
			f.Status = StatusOrphaned
			orphaned++
			if err := m.persist(ctx, f); err != nil {
				return orphaned, err
			}
		}
	}
	if orphaned > 0 {
		logger.Info("forks orphaned at checkpoint", "block", blockNum, "count", orphaned)
	}
	m.updateGauges()
	return orphaned, nil
}

// OrphanForksAfter marks every non-canonical fork whose tip is past
// blockNum as orphaned. Checkpoint rollback calls this so replay cannot
// continue a fork that no longer exists on chain.
func (m *Manager) OrphanForksAfter(ctx context.Context, blockNum uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orphaned int
	for _, f := range m.forks {
		if f.ForkID == m.canonical || f.TipBlock <= blockNum || f.Status == StatusOrphaned {
			continue
		}
		f.Status = StatusOrphaned
		orphaned++
		if err := m.persist(ctx, f); err != nil {
			return orphaned, err
		}
	}
	if orphaned > 0 {
		logger.Info("forks orphaned", "after", blockNum, "count", orphaned)
		m.updateGauges()
	}
	return orphaned, nil
}

// GetActiveForks returns the active forks, newest tip first.
func (m *Manager) GetActiveForks() []*Fork {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Fork
	for _, f := range m.forks {
		if f.Status == StatusActive {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TipBlock > out[j].TipBlock })
	return out
}

// Canonical returns the canonical fork id, "" before any fork is seen.
func (m *Manager) Canonical() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canonical
}

// Get returns a copy of a fork's state.
func (m *Manager) Get(forkID string) (Fork, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forks[forkID]
	if !ok {
		return Fork{}, false
	}
	return *f, true
}

// PruneForks deletes orphaned forks whose tip is before beforeBlock.
// Active and finalized forks are never pruned.
func (m *Manager) PruneForks(ctx context.Context, beforeBlock uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deletes []graph.Entity
	var pruned int
	for id, f := range m.forks {
		if f.Status != StatusOrphaned || f.TipBlock >= beforeBlock || id == m.canonical {
			continue
		}
		delete(m.forks, id)
		pruned++
		if f.ref.Kind() == graph.RefStored {
			deletes = append(deletes, graph.Entity{"uid": f.ref.UID()})
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	if len(deletes) > 0 {
		if _, err := m.store.Mutate(ctx, nil, deletes); err != nil {
			return pruned, errors.WithMessage(err, "prune forks")
		}
	}
	logger.Info("forks pruned", "before", beforeBlock, "count", pruned, "kept", len(m.forks))
	m.updateGauges()
	return pruned, nil
}

// persist writes one fork entity; callers hold the lock.
func (m *Manager) persist(ctx context.Context, f *Fork) error {
	e := graph.NewEntity("Fork", f.ref)
	e["forkId"] = f.ForkID
	e["tipBlock"] = int64(f.TipBlock)
	e["tipHash"] = f.TipHash
	e["forkStatus"] = string(f.Status)
	e["parentFork"] = f.ParentFork
	e["canonical"] = f.Canonical

	uids, err := m.store.Mutate(ctx, []graph.Entity{e}, nil)
	if err != nil {
		return errors.WithMessage(err, "persist fork")
	}
	if f.ref.Kind() == graph.RefLocal {
		if uid, ok := uids[f.ref.Value()]; ok {
			f.ref = graph.Stored(uid)
		}
	}
	return nil
}

func (m *Manager) updateGauges() {
	counts := map[Status]int64{}
	for _, f := range m.forks {
		counts[f.Status]++
	}
	for _, s := range []Status{StatusActive, StatusOrphaned, StatusFinalized} {
		metricForks().SetWithLabel(counts[s], map[string]string{"status": string(s)})
	}
}
