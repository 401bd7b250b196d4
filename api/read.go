// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/api/restutil"
	"github.com/spknetwork/honeygraph/fork"
	"github.com/spknetwork/honeygraph/worker"
)

// ReadStore is the query surface the read endpoints run against.
type ReadStore interface {
	Query(ctx context.Context, dql string, vars map[string]string) ([]byte, error)
	Health(ctx context.Context) error
}

// Reads serves the filesystem, DEX and analytics read endpoints.
type Reads struct {
	store ReadStore
	forks *fork.Manager
	queue *worker.Queue
}

// NewReads creates the read handlers.
func NewReads(store ReadStore, forks *fork.Manager, queue *worker.Queue) *Reads {
	return &Reads{store: store, forks: forks, queue: queue}
}

const fsQuery = `query Fs($owner: string, $path: string) {
	paths(func: eq(fullPath, $path)) @cascade {
		fullPath
		pathName
		pathType
		itemCount
		newestBlockNumber
		owner @filter(eq(username, $owner)) {
			username
		}
		children {
			fullPath
			pathName
			pathType
			itemCount
		}
		currentFile {
			cid
			name
			size
			thumbnail
		}
	}
}`

func (rd *Reads) handleFS(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	owner := vars["owner"]
	fullPath := "/" + strings.Trim(vars["path"], "/")

	node, err := rd.queryFirst(r.Context(), fsQuery, map[string]string{
		"$owner": owner,
		"$path":  fullPath,
	}, "paths")
	if err != nil {
		return err
	}
	if node == nil {
		return restutil.NotFound(errors.Errorf("path %s not found for %s", fullPath, owner))
	}
	return restutil.WriteJSON(w, node)
}

const fileQuery = `query File($cid: string) {
	files(func: eq(cid, $cid)) {
		cid
		name
		extension
		size
		thumbnail
		flags
		license
		labels
		path
		contractBlockNumber
		contract {
			contractId
			status
			statusText
			expiresBlock
		}
	}
}`

func (rd *Reads) handleFile(w http.ResponseWriter, r *http.Request) error {
	cid := mux.Vars(r)["cid"]
	node, err := rd.queryFirst(r.Context(), fileQuery, map[string]string{"$cid": cid}, "files")
	if err != nil {
		return err
	}
	if node == nil {
		return restutil.NotFound(errors.Errorf("file %s not found", cid))
	}
	return restutil.WriteJSON(w, node)
}

const contractQuery = `query Contract($id: string) {
	contracts(func: eq(contractId, $id)) {
		contractId
		status
		statusText
		authorized
		broker
		fileCount
		contractPower
		refunded
		utilized
		verified
		isUnderstored
		expiresBlock
		expiresChronId
		autoRenew
		nodeTotal
		blockNumber
		purchaser {
			username
		}
		owner {
			username
		}
		~contract @filter(type(ContractFile)) {
			cid
			name
			size
		}
		storageNodes {
			nodeSlot
			owner {
				username
			}
		}
		extensions {
			paidBy {
				username
			}
			amount
			startBlock
			endBlock
		}
	}
}`

func (rd *Reads) handleContract(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]
	node, err := rd.queryFirst(r.Context(), contractQuery, map[string]string{"$id": id}, "contracts")
	if err != nil {
		return err
	}
	if node == nil {
		return restutil.NotFound(errors.Errorf("contract %s not found", id))
	}
	return restutil.WriteJSON(w, node)
}

const ordersQuery = `query Orders($market: string) {
	orders(func: type(DexOrder)) @filter(eq(market, $market)) {
		orderId
		market
		orderType
		orderStatus
		rate
		amount
		filled
		remaining
		tokenAmount
		blockNumber
		txid
		from {
			username
		}
	}
}`

const ordersByStatusQuery = `query Orders($market: string, $status: string) {
	orders(func: type(DexOrder)) @filter(eq(market, $market) AND eq(orderStatus, $status)) {
		orderId
		market
		orderType
		orderStatus
		rate
		amount
		filled
		remaining
		tokenAmount
		blockNumber
		txid
		from {
			username
		}
	}
}`

func (rd *Reads) handleOrders(w http.ResponseWriter, r *http.Request) error {
	market := mux.Vars(r)["market"]
	vars := map[string]string{"$market": market}
	dql := ordersQuery
	if status := r.URL.Query().Get("status"); status != "" {
		dql = ordersByStatusQuery
		vars["$status"] = strings.ToUpper(status)
	}

	raw, err := rd.store.Query(r.Context(), dql, vars)
	if err != nil {
		return errors.WithMessage(err, "query orders")
	}
	var res struct {
		Orders []json.RawMessage `json:"orders"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return errors.WithMessage(err, "decode orders")
	}
	if res.Orders == nil {
		res.Orders = []json.RawMessage{}
	}
	return restutil.WriteJSON(w, restutil.M{"market": market, "orders": res.Orders})
}

func (rd *Reads) handleForks(w http.ResponseWriter, _ *http.Request) error {
	canonical := rd.forks.Canonical()
	active := rd.forks.GetActiveForks()
	out := make([]restutil.M, 0, len(active))
	for _, f := range active {
		out = append(out, restutil.M{
			"forkId":    f.ForkID,
			"tipBlock":  f.TipBlock,
			"status":    f.Status,
			"canonical": f.ForkID == canonical,
		})
	}
	return restutil.WriteJSON(w, restutil.M{"canonical": canonical, "forks": out})
}

func (rd *Reads) handleHealth(w http.ResponseWriter, r *http.Request) error {
	if err := rd.store.Health(r.Context()); err != nil {
		return restutil.HTTPError(errors.WithMessage(err, "store unhealthy"), http.StatusServiceUnavailable)
	}
	blockJobs, opsJobs := rd.queue.Backlog()
	return restutil.WriteJSON(w, restutil.M{
		"status":        "ok",
		"blockBacklog":  blockJobs,
		"opsBacklog":    opsJobs,
		"canonicalFork": rd.forks.Canonical(),
	})
}

// queryFirst runs dql and returns the first element of the named result
// list, or nil when the list is empty.
func (rd *Reads) queryFirst(ctx context.Context, dql string, vars map[string]string, key string) (json.RawMessage, error) {
	raw, err := rd.store.Query(ctx, dql, vars)
	if err != nil {
		return nil, errors.WithMessage(err, "query "+key)
	}
	var res map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.WithMessage(err, "decode "+key)
	}
	if list := res[key]; len(list) > 0 {
		return list[0], nil
	}
	return nil, nil
}

// Mount installs the read routes.
func (rd *Reads) Mount(root *mux.Router) {
	root.Path("/fs/{owner}").
		Methods(http.MethodGet).
		Name("read_fs_root").
		HandlerFunc(restutil.WrapHandlerFunc(rd.handleFS))
	root.Path("/fs/{owner}/{path:.*}").
		Methods(http.MethodGet).
		Name("read_fs").
		HandlerFunc(restutil.WrapHandlerFunc(rd.handleFS))
	root.Path("/file/{cid}").
		Methods(http.MethodGet).
		Name("read_file").
		HandlerFunc(restutil.WrapHandlerFunc(rd.handleFile))
	root.Path("/contract/{id}").
		Methods(http.MethodGet).
		Name("read_contract").
		HandlerFunc(restutil.WrapHandlerFunc(rd.handleContract))
	root.Path("/dex/{market}/orders").
		Methods(http.MethodGet).
		Name("read_orders").
		HandlerFunc(restutil.WrapHandlerFunc(rd.handleOrders))
	root.Path("/forks").
		Methods(http.MethodGet).
		Name("read_forks").
		HandlerFunc(restutil.WrapHandlerFunc(rd.handleForks))
	root.Path("/health").
		Methods(http.MethodGet).
		Name("read_health").
		HandlerFunc(restutil.WrapHandlerFunc(rd.handleHealth))
}
