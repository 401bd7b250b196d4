// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spknetwork/honeygraph/checkpointdb"
	"github.com/spknetwork/honeygraph/fork"
	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/snapshot"
	"github.com/spknetwork/honeygraph/transform"
	"github.com/spknetwork/honeygraph/worker"
)

type stubStore struct {
	mu        sync.Mutex
	resp      []byte
	healthErr error
	lastVars  map[string]string
}

func (s *stubStore) Query(_ context.Context, _ string, vars map[string]string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastVars = vars
	if s.resp == nil {
		return []byte(`{}`), nil
	}
	return s.resp, nil
}

func (s *stubStore) Mutate(context.Context, []graph.Entity, []graph.Entity) (map[string]string, error) {
	return map[string]string{}, nil
}

func (s *stubStore) Health(context.Context) error { return s.healthErr }

type testAPI struct {
	store  *stubStore
	queue  *worker.Queue
	forks  *fork.Manager
	server *httptest.Server
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	store := &stubStore{}
	queue := worker.NewQueue()
	queue.Register(worker.KindBlock, func(context.Context, *worker.Job) error { return nil })
	queue.Register(worker.KindOps, func(context.Context, *worker.Job) error { return nil })
	queue.Register(worker.KindCheckpoint, func(context.Context, *worker.Job) error { return nil })
	queue.Register(worker.KindFork, func(context.Context, *worker.Job) error { return nil })
	queue.Start()

	forks := fork.NewManager(store)
	ledger, err := checkpointdb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	resolver := worker.NewPipeline(store, transform.New(store), forks,
		snapshot.NewController(snapshot.NoopEngine{}), ledger)
	handler, closer := New(store, queue, forks, resolver, opts)
	server := httptest.NewServer(handler)

	t.Cleanup(func() {
		server.Close()
		closer()
		queue.Stop()
	})
	return &testAPI{store: store, queue: queue, forks: forks, server: server}
}

func (a *testAPI) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	res, err := http.Post(a.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&m))
	return m
}

func waitJobDone(t *testing.T, a *testAPI, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := http.Get(a.server.URL + "/job/" + id)
		require.NoError(t, err)
		body := decodeBody(t, res)
		if body["status"] == "DONE" || body["status"] == "FAILED" {
			return body
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", id)
	return nil
}

func TestReplicateBlock(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	res := a.postJSON(t, "/replicate/block", BlockPayload{
		BlockNum:  96585668,
		BlockHash: "QmForkTip",
		Operations: []transform.Op{
			{Type: "put", Path: []string{"balances", "alice"}, Data: float64(1000), BlockNum: 96585668},
		},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	id, ok := body["jobId"].(string)
	require.True(t, ok, "response carries a job id")

	status := waitJobDone(t, a, id)
	assert.Equal(t, "DONE", status["status"])
	assert.Equal(t, "block", status["kind"])
}

func TestReplicateChainedBlocksShareFork(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	res := a.postJSON(t, "/replicate/block", BlockPayload{
		BlockNum:     96585668,
		BlockHash:    "QmBlockA",
		PreviousHash: "QmBlockBefore",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	waitJobDone(t, a, decodeBody(t, res)["jobId"].(string))

	// the next block names QmBlockA as parent, so it extends the same fork
	res = a.postJSON(t, "/replicate/block", BlockPayload{
		BlockNum:     96585669,
		BlockHash:    "QmBlockB",
		PreviousHash: "QmBlockA",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	waitJobDone(t, a, decodeBody(t, res)["jobId"].(string))

	require.Len(t, a.forks.GetActiveForks(), 1)
	f, ok := a.forks.Get("QmBlockA")
	require.True(t, ok)
	assert.Equal(t, uint64(96585669), f.TipBlock)
	assert.Equal(t, "QmBlockB", f.TipHash)
}

func TestReplicateBlockValidation(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	// missing identity
	res := a.postJSON(t, "/replicate/block", BlockPayload{BlockNum: 1})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	body := decodeBody(t, res)
	assert.Contains(t, body["error"], "blockHash")

	// unknown field rejected by strict decoding
	res2, err := http.Post(a.server.URL+"/replicate/block", "application/json",
		strings.NewReader(`{"blockNum":1,"blockHash":"x","bogus":true}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res2.StatusCode)
	res2.Body.Close()
}

func TestReplicateLIBBlockAlsoCheckpoints(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	res := a.postJSON(t, "/replicate/block", BlockPayload{
		BlockNum:     96600000,
		BlockHash:    "QmLIB",
		PreviousHash: "QmPrev",
		IsLIB:        true,
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	id := decodeBody(t, res)["jobId"].(string)
	waitJobDone(t, a, id)

	// the checkpoint job drains too
	deadline := time.Now().Add(5 * time.Second)
	for {
		blockJobs, _ := a.queue.Backlog()
		if blockJobs == 0 {
			break
		}
		require.True(t, time.Now().Before(deadline), "checkpoint job never drained")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReplicateConsensus(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	res := a.postJSON(t, "/replicate/consensus", ConsensusPayload{
		BlockNum:      96585700,
		ConsensusHash: "QmAgreed",
		AgreedNodes:   []string{"node-a", "node-b"},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	id := decodeBody(t, res)["jobId"].(string)
	status := waitJobDone(t, a, id)
	assert.Equal(t, "fork", status["kind"])
}

func TestReplicateCheckpoint(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	res := a.postJSON(t, "/replicate/checkpoint", CheckpointPayload{
		BlockNum:  96600000,
		BlockHash: "QmCp",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	id := decodeBody(t, res)["jobId"].(string)
	status := waitJobDone(t, a, id)
	assert.Equal(t, "checkpoint", status["kind"])
}

func TestJobStatusUnknown(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	res, err := http.Get(a.server.URL + "/job/no-such-id")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func signRequest(t *testing.T, req *http.Request, account string, key *secp256k1.PrivateKey, body []byte) {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	digest := ChallengeDigest(account, ts, body)
	sig := ecdsa.SignCompact(key, digest[:], true)
	req.Header.Set(HeaderAccount, account)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
}

func TestAuthenticatedIntake(t *testing.T) {
	nodeKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	strangerKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	keys, err := StaticKeys(map[string][]string{
		"validator-a": {hex.EncodeToString(nodeKey.PubKey().SerializeCompressed())},
		"stranger":    {hex.EncodeToString(strangerKey.PubKey().SerializeCompressed())},
	})
	require.NoError(t, err)

	auth := NewAuth(keys, []string{"validator-a"})
	a := newTestAPI(t, Options{AllowedOrigins: "*", Auth: auth})

	payload, _ := json.Marshal(BlockPayload{BlockNum: 1, BlockHash: "h"})
	post := func(sign func(*http.Request)) *http.Response {
		req, err := http.NewRequest(http.MethodPost, a.server.URL+"/replicate/block", bytes.NewReader(payload))
		require.NoError(t, err)
		if sign != nil {
			sign(req)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return res
	}

	// properly signed by a whitelisted node
	res := post(func(req *http.Request) { signRequest(t, req, "validator-a", nodeKey, payload) })
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	// no headers at all
	res = post(nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res.Body.Close()

	// signed with a key the account does not own
	res = post(func(req *http.Request) { signRequest(t, req, "validator-a", strangerKey, payload) })
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res.Body.Close()

	// valid signature, account outside the whitelist
	res = post(func(req *http.Request) { signRequest(t, req, "stranger", strangerKey, payload) })
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res.Body.Close()

	// reads stay open
	res2, err := http.Get(a.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res2.StatusCode)
	res2.Body.Close()
}

func TestAuthTimestampWindow(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	keys, err := StaticKeys(map[string][]string{
		"validator-a": {hex.EncodeToString(key.PubKey().SerializeCompressed())},
	})
	require.NoError(t, err)

	auth := NewAuth(keys, nil)
	now := time.Now()
	auth.now = func() time.Time { return now }

	body := []byte(`{"blockNum":1}`)
	sign := func(at time.Time) (string, string) {
		ts := strconv.FormatInt(at.Unix(), 10)
		digest := ChallengeDigest("validator-a", ts, body)
		return ts, hex.EncodeToString(ecdsa.SignCompact(key, digest[:], true))
	}

	ts, sig := sign(now.Add(-time.Minute))
	assert.NoError(t, auth.verify("validator-a", sig, ts, body))

	ts, sig = sign(now.Add(-AuthWindow - time.Minute))
	assert.Error(t, auth.verify("validator-a", sig, ts, body))

	ts, sig = sign(now.Add(AuthWindow + time.Minute))
	assert.Error(t, auth.verify("validator-a", sig, ts, body))
}

func TestReadFS(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})
	a.store.resp = []byte(`{"paths":[{"fullPath":"/Pics","pathName":"Pics","pathType":"directory","itemCount":2}]}`)

	res, err := http.Get(a.server.URL + "/fs/alice/Pics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, "/Pics", body["fullPath"])
	assert.Equal(t, float64(2), body["itemCount"])

	a.store.mu.Lock()
	vars := a.store.lastVars
	a.store.mu.Unlock()
	assert.Equal(t, "alice", vars["$owner"])
	assert.Equal(t, "/Pics", vars["$path"])

	// root listing
	res, err = http.Get(a.server.URL + "/fs/alice")
	require.NoError(t, err)
	res.Body.Close()
	a.store.mu.Lock()
	vars = a.store.lastVars
	a.store.mu.Unlock()
	assert.Equal(t, "/", vars["$path"])
}

func TestReadFSNotFound(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})
	a.store.resp = []byte(`{"paths":[]}`)

	res, err := http.Get(a.server.URL + "/fs/alice/Missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	body := decodeBody(t, res)
	assert.Contains(t, body["error"], "/Missing")
}

func TestReadFileAndContract(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	a.store.resp = []byte(`{"files":[{"cid":"QmA1","name":"photo","size":1500}]}`)
	res, err := http.Get(a.server.URL + "/file/QmA1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "QmA1", decodeBody(t, res)["cid"])

	a.store.resp = []byte(`{"contracts":[{"contractId":"alice:0:95000000-abc","status":3}]}`)
	res, err = http.Get(a.server.URL + "/contract/alice:0:95000000-abc")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "alice:0:95000000-abc", decodeBody(t, res)["contractId"])

	a.store.resp = []byte(`{"contracts":[]}`)
	res, err = http.Get(a.server.URL + "/contract/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestReadOrders(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})
	a.store.resp = []byte(`{"orders":[{"orderId":"LARYNX:HIVE:0.1:tx1","orderStatus":"OPEN"}]}`)

	res, err := http.Get(a.server.URL + "/dex/LARYNX:HIVE/orders?status=open")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, "LARYNX:HIVE", body["market"])
	assert.Len(t, body["orders"], 1)

	a.store.mu.Lock()
	vars := a.store.lastVars
	a.store.mu.Unlock()
	assert.Equal(t, "LARYNX:HIVE", vars["$market"])
	assert.Equal(t, "OPEN", vars["$status"], "status filter is upcased")
}

func TestReadForks(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})
	_, _, err := a.forks.DetectFork(context.Background(), 96585668, "hashA", "")
	require.NoError(t, err)

	res, err := http.Get(a.server.URL + "/forks")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, "hashA", body["canonical"])
	forks := body["forks"].([]any)
	require.Len(t, forks, 1)
	assert.Equal(t, true, forks[0].(map[string]any)["canonical"])
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	res, err := http.Get(a.server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, res)["status"])

	a.store.healthErr = errors.New("alpha down")
	res, err = http.Get(a.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	res.Body.Close()
}

func TestStreamFrames(t *testing.T) {
	a := newTestAPI(t, Options{AllowedOrigins: "*"})

	wsURL := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/stream"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(StreamFrame{
		Type: "ops",
		Block: &BlockPayload{
			BlockNum:  96585668,
			BlockHash: "QmStream",
			Operations: []transform.Op{
				{Type: "put", Path: []string{"balances", "bob"}, Data: float64(10), BlockNum: 96585668},
			},
		},
	}))
	var ack StreamAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Empty(t, ack.Error)
	require.NotEmpty(t, ack.JobID)
	waitJobDone(t, a, ack.JobID)

	require.NoError(t, conn.WriteJSON(StreamFrame{
		Type:       "checkpoint",
		Checkpoint: &CheckpointPayload{BlockNum: 96600000, BlockHash: "QmCp"},
	}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Empty(t, ack.Error)
	assert.NotEmpty(t, ack.JobID)

	// a loose batch without a block hash still lands, keyed by its book
	require.NoError(t, conn.WriteJSON(StreamFrame{
		Type: "ops",
		Block: &BlockPayload{
			BlockNum: 96585669,
			Operations: []transform.Op{
				{Type: "put", Path: []string{"dex", "sellOrders", "LARYNX:HIVE:0.1:tx1"}, Data: map[string]any{"rate": 0.1}, BlockNum: 96585669},
			},
		},
	}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Empty(t, ack.Error)
	assert.NotEmpty(t, ack.JobID)

	require.NoError(t, conn.WriteJSON(StreamFrame{Type: "bogus"}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Contains(t, ack.Error, "unknown frame type")
}
