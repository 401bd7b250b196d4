// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package graph is a thin typed wrapper over the Dgraph cluster holding
// the replicated state: schema application, DQL query, JSON mutation
// with blank-node resolution, and transaction lifecycle. Failures
// propagate to the caller; there is no retry logic at this layer.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/spknetwork/honeygraph/log"
	"github.com/spknetwork/honeygraph/metrics"
)

var logger = log.WithContext("pkg", "graph")

var (
	metricMutations    = metrics.LazyLoadCounter("graph_mutations_total")
	metricCommitMillis = metrics.LazyLoadHistogram("graph_commit_ms", metrics.BucketCommitMs)
)

const defaultTimeout = 30 * time.Second

// Adapter wraps one Dgraph connection serving one network namespace.
// It's safe for concurrent use; a transaction is owned by one caller.
type Adapter struct {
	conn      *grpc.ClientConn
	dg        *dgo.Dgraph
	namespace string
	timeout   time.Duration
}

// NewAdapter dials the Dgraph alpha at target. namespace is the network
// prefix (e.g. "spkccT_") used by QueryGlobal to strip predicate names.
func NewAdapter(target, namespace string) (*Adapter, error) {
	conn, err := grpc.Dial(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrap(err, "dial dgraph")
	}
	return &Adapter{
		conn:      conn,
		dg:        dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		namespace: namespace,
		timeout:   defaultTimeout,
	}, nil
}

// Namespace returns the network prefix this adapter serves.
func (a *Adapter) Namespace() string { return a.namespace }

// ApplySchema alters the cluster schema. A rejected schema is fatal to
// startup and is surfaced as-is.
func (a *Adapter) ApplySchema(ctx context.Context, schema string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	if err := a.dg.Alter(ctx, &api.Operation{Schema: schema}); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

// Query runs a read-only DQL query with variables and returns the raw
// JSON response.
func (a *Adapter) Query(ctx context.Context, dql string, vars map[string]string) ([]byte, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	txn := a.dg.NewReadOnlyTxn().BestEffort()
	resp, err := txn.QueryWithVars(ctx, dql, vars)
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	return resp.Json, nil
}

// QueryGlobal runs Query and strips the network namespace prefix from
// predicate names in the response, so multi-chain clients see one shape.
func (a *Adapter) QueryGlobal(ctx context.Context, dql string, vars map[string]string) ([]byte, error) {
	out, err := a.Query(ctx, dql, vars)
	if err != nil {
		return nil, err
	}
	if a.namespace == "" {
		return out, nil
	}
	return bytes.ReplaceAll(out, []byte(`"`+a.namespace), []byte(`"`)), nil
}

// Mutate applies entities and deletes in one atomic commit and returns
// the blank-node label to uid mapping reported by the store.
func (a *Adapter) Mutate(ctx context.Context, entities []Entity, deletes []Entity) (map[string]string, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	req := &api.Request{CommitNow: true}
	mu := &api.Mutation{}
	if len(entities) > 0 {
		setJSON, err := json.Marshal(entities)
		if err != nil {
			return nil, errors.Wrap(err, "marshal entities")
		}
		mu.SetJson = setJSON
	}
	if len(deletes) > 0 {
		delJSON, err := json.Marshal(deletes)
		if err != nil {
			return nil, errors.Wrap(err, "marshal deletes")
		}
		mu.DeleteJson = delJSON
	}
	if mu.SetJson == nil && mu.DeleteJson == nil {
		return map[string]string{}, nil
	}
	req.Mutations = []*api.Mutation{mu}

	txn := a.dg.NewTxn()
	defer txn.Discard(ctx)

	started := time.Now()
	resp, err := txn.Do(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "mutate")
	}
	metricMutations().Add(1)
	metricCommitMillis().Observe(time.Since(started).Milliseconds())
	return resp.Uids, nil
}

// NewTxn opens a read-write transaction owned by the caller.
func (a *Adapter) NewTxn() *Txn {
	return &Txn{txn: a.dg.NewTxn(), timeout: a.timeout}
}

// Health verifies the cluster answers queries.
func (a *Adapter) Health(ctx context.Context) error {
	_, err := a.Query(ctx, `{ q(func: uid(0x1)) { uid } }`, nil)
	return err
}

// Close tears down the underlying connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// Txn is a caller-owned read-write transaction. It either commits
// atomically or discards.
type Txn struct {
	txn     *dgo.Txn
	timeout time.Duration
}

// Query runs a DQL query inside the transaction.
func (t *Txn) Query(ctx context.Context, dql string, vars map[string]string) ([]byte, error) {
	resp, err := t.txn.QueryWithVars(ctx, dql, vars)
	if err != nil {
		return nil, errors.Wrap(err, "txn query")
	}
	return resp.Json, nil
}

// Mutate stages entities and deletes without committing.
func (t *Txn) Mutate(ctx context.Context, entities []Entity, deletes []Entity) (map[string]string, error) {
	mu := &api.Mutation{}
	if len(entities) > 0 {
		setJSON, err := json.Marshal(entities)
		if err != nil {
			return nil, errors.Wrap(err, "marshal entities")
		}
		mu.SetJson = setJSON
	}
	if len(deletes) > 0 {
		delJSON, err := json.Marshal(deletes)
		if err != nil {
			return nil, errors.Wrap(err, "marshal deletes")
		}
		mu.DeleteJson = delJSON
	}
	resp, err := t.txn.Mutate(ctx, mu)
	if err != nil {
		return nil, errors.Wrap(err, "txn mutate")
	}
	return resp.Uids, nil
}

// Commit makes the staged mutations durable.
func (t *Txn) Commit(ctx context.Context) error {
	return errors.Wrap(t.txn.Commit(ctx), "txn commit")
}

// Discard drops the transaction. Safe to call after Commit.
func (t *Txn) Discard(ctx context.Context) {
	if err := t.txn.Discard(ctx); err != nil {
		logger.Debug("discard txn", "err", err)
	}
}
