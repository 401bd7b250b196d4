// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transform

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/spknetwork/honeygraph/cache"
	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/metrics"
)

var metricAccountLookups = metrics.LazyLoadCounterVec("account_lookups_total", []string{"tier"})

// Querier is the read surface the transformer needs from the store.
type Querier interface {
	Query(ctx context.Context, q string, vars map[string]string) ([]byte, error)
}

const accountByNameQuery = `query q($name: string) {
	accounts(func: eq(username, $name), first: 1) {
		uid
	}
}`

// accountCacheSize bounds the process-wide username cache. Long tails
// of one-shot usernames fall out instead of growing the map forever.
const accountCacheSize = 16384

// Accounts deduplicates account references across batches. Lookups go
// through three tiers: the in-batch map, the process-wide cache, then a
// store query. A miss everywhere mints a deterministic blank node and
// queues a minimal Account entity in the batch.
type Accounts struct {
	cache *cache.LRU
	stats cache.Stats
	store Querier
	sf    singleflight.Group
}

// NewAccounts creates the account cache over the given store.
func NewAccounts(store Querier) *Accounts {
	c, err := cache.NewLRU(accountCacheSize)
	if err != nil {
		panic(err) // only on a non-positive size
	}
	return &Accounts{
		cache: c,
		store: store,
	}
}

// Ensure returns a reference for username, creating the account entity
// in the batch when the store has never seen the name. A local ref from
// the process cache is re-bound into the current batch so the blank
// node exists in the commit that references it.
func (a *Accounts) Ensure(ctx context.Context, username string, b *Batch) (graph.Ref, error) {
	if username == "" {
		return graph.Ref{}, errors.New("empty username")
	}
	if ref, ok := b.batchAccounts[username]; ok {
		a.stats.Hit()
		metricAccountLookups().AddWithLabel(1, map[string]string{"tier": "batch"})
		return ref, nil
	}

	if v, ok := a.cache.Get(username); ok {
		a.stats.Hit()
		metricAccountLookups().AddWithLabel(1, map[string]string{"tier": "cache"})
		ref := v.(graph.Ref)
		a.bind(username, ref, b)
		return ref, nil
	}

	v, err, _ := a.sf.Do(username, func() (any, error) {
		return a.cache.GetOrLoad(username, func(any) (any, error) {
			a.stats.Miss()
			ref, found, err := a.lookup(ctx, username)
			if err != nil {
				return nil, err
			}
			if !found {
				ref = graph.Local("account_" + graph.SanitizeLabel(username))
			}
			tier := "mint"
			if found {
				tier = "store"
			}
			metricAccountLookups().AddWithLabel(1, map[string]string{"tier": tier})
			return ref, nil
		})
	})
	if err != nil {
		return graph.Ref{}, errors.WithMessage(err, "ensure account")
	}

	ref := v.(graph.Ref)
	a.bind(username, ref, b)
	return ref, nil
}

// bind registers the ref in the batch and, for local refs, makes sure
// the Account entity rides along in this commit.
func (a *Accounts) bind(username string, ref graph.Ref, b *Batch) {
	b.batchAccounts[username] = ref
	if ref.Kind() != graph.RefLocal {
		return
	}
	e := graph.NewEntity("Account", ref)
	e["username"] = username
	b.accounts = append(b.accounts, e)
	b.accountEnts[username] = e
}

// Resolve rewrites minted local refs to their stored uids after a
// successful commit.
func (a *Accounts) Resolve(uids map[string]string) {
	for _, key := range a.cache.Keys() {
		v, ok := a.cache.Get(key)
		if !ok {
			continue
		}
		ref := v.(graph.Ref)
		if ref.Kind() != graph.RefLocal {
			continue
		}
		if uid, ok := uids[ref.Value()]; ok {
			a.cache.Add(key, graph.Stored(uid))
		}
	}
}

// Forget drops a username from the process cache. Fork rollback uses
// this when minted accounts may no longer exist on the active fork.
func (a *Accounts) Forget(username string) {
	a.cache.Remove(username)
}

// CacheStats reports hit/miss counters and whether the hit rate moved
// since the last call.
func (a *Accounts) CacheStats() (bool, int64, int64) {
	return a.stats.Stats()
}

func (a *Accounts) lookup(ctx context.Context, username string) (graph.Ref, bool, error) {
	if a.store == nil {
		return graph.Ref{}, false, nil
	}
	raw, err := a.store.Query(ctx, accountByNameQuery, map[string]string{"$name": username})
	if err != nil {
		return graph.Ref{}, false, errors.WithMessage(err, "account lookup")
	}
	var res struct {
		Accounts []struct {
			UID string `json:"uid"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return graph.Ref{}, false, errors.WithMessage(err, "account lookup decode")
	}
	if len(res.Accounts) == 0 {
		return graph.Ref{}, false, nil
	}
	return graph.Stored(res.Accounts[0].UID), true, nil
}
