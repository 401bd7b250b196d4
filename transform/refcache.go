// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transform

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/graph"
)

// refCache deduplicates references for entities with an upsert identity
// predicate (contracts, orders, markets, feed entries). Like the
// account cache it resolves through the store once per key, then mints
// a deterministic blank node on a miss and flips it to the stored uid
// after commit.
type refCache struct {
	mu    sync.Mutex
	refs  map[string]graph.Ref // label -> ref
	store Querier
}

func newRefCache(store Querier) *refCache {
	return &refCache{refs: make(map[string]graph.Ref), store: store}
}

// get returns the reference for the entity identified by pred == value,
// minting a local ref under label when the store has no match.
func (c *refCache) get(ctx context.Context, label, pred, value string) (graph.Ref, error) {
	c.mu.Lock()
	ref, ok := c.refs[label]
	c.mu.Unlock()
	if ok {
		return ref, nil
	}

	if c.store != nil {
		uid, err := c.lookup(ctx, pred, value)
		if err != nil {
			return graph.Ref{}, err
		}
		if uid != "" {
			ref = graph.Stored(uid)
			c.mu.Lock()
			c.refs[label] = ref
			c.mu.Unlock()
			return ref, nil
		}
	}

	ref = graph.Local(label)
	c.mu.Lock()
	c.refs[label] = ref
	c.mu.Unlock()
	return ref, nil
}

// resolve flips minted local refs to stored uids after a commit.
func (c *refCache) resolve(uids map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for label, ref := range c.refs {
		if ref.Kind() == graph.RefLocal {
			if uid, ok := uids[ref.Value()]; ok {
				c.refs[label] = graph.Stored(uid)
			}
		}
	}
}

// fileCache tracks content ids across contracts: the reference for each
// cid plus the highest owning-contract block seen, so older contracts
// re-presenting a cid cannot clobber newer file metadata.
type fileCache struct {
	mu      sync.Mutex
	entries map[string]*fileSeen
	store   Querier
}

type fileSeen struct {
	ref   graph.Ref
	block uint64
}

func newFileCache(store Querier) *fileCache {
	return &fileCache{entries: make(map[string]*fileSeen), store: store}
}

const fileByCIDQuery = `query q($cid: string) {
	files(func: eq(cid, $cid), first: 1) {
		uid
		contractBlockNumber
	}
}`

// get returns the ref for a cid and the newest contract block recorded
// for it, consulting the store once per cid.
func (c *fileCache) get(ctx context.Context, cid string) (graph.Ref, uint64, error) {
	c.mu.Lock()
	if seen, ok := c.entries[cid]; ok {
		c.mu.Unlock()
		return seen.ref, seen.block, nil
	}
	c.mu.Unlock()

	seen := &fileSeen{}
	if c.store != nil {
		raw, err := c.store.Query(ctx, fileByCIDQuery, map[string]string{"$cid": cid})
		if err != nil {
			return graph.Ref{}, 0, errors.WithMessage(err, "file lookup")
		}
		var res struct {
			Files []struct {
				UID   string `json:"uid"`
				Block uint64 `json:"contractBlockNumber"`
			} `json:"files"`
		}
		if err := json.Unmarshal(raw, &res); err != nil {
			return graph.Ref{}, 0, errors.WithMessage(err, "file lookup decode")
		}
		if len(res.Files) > 0 {
			seen.ref = graph.Stored(res.Files[0].UID)
			seen.block = res.Files[0].Block
		}
	}
	if seen.ref.IsZero() {
		seen.ref = graph.Local("file_" + graph.SanitizeLabel(cid))
	}

	c.mu.Lock()
	c.entries[cid] = seen
	c.mu.Unlock()
	return seen.ref, seen.block, nil
}

// mark records the newest owning-contract block for a cid.
func (c *fileCache) mark(cid string, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seen, ok := c.entries[cid]; ok && block > seen.block {
		seen.block = block
	}
}

// resolve flips minted local refs to stored uids after a commit.
func (c *fileCache) resolve(uids map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, seen := range c.entries {
		if seen.ref.Kind() == graph.RefLocal {
			if uid, ok := uids[seen.ref.Value()]; ok {
				seen.ref = graph.Stored(uid)
			}
		}
	}
}

func (c *refCache) lookup(ctx context.Context, pred, value string) (string, error) {
	q := `query q($v: string) {
	hits(func: eq(` + pred + `, $v), first: 1) {
		uid
	}
}`
	raw, err := c.store.Query(ctx, q, map[string]string{"$v": value})
	if err != nil {
		return "", errors.WithMessage(err, "ref lookup "+pred)
	}
	var res struct {
		Hits []struct {
			UID string `json:"uid"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", errors.WithMessage(err, "ref lookup decode")
	}
	if len(res.Hits) == 0 {
		return "", nil
	}
	return res.Hits[0].UID, nil
}
