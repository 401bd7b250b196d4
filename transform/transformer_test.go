// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/spk"
)

// stubStore answers account/ref lookup queries from a fixed var-value
// to response map, empty result otherwise.
type stubStore struct {
	byValue map[string]string
	queries int
}

func (s *stubStore) Query(_ context.Context, _ string, vars map[string]string) ([]byte, error) {
	s.queries++
	for _, v := range vars {
		if resp, ok := s.byValue[v]; ok {
			return []byte(resp), nil
		}
	}
	return []byte(`{}`), nil
}

func ofType(b *Batch, typ string) []graph.Entity {
	var out []graph.Entity
	for _, e := range b.Entities() {
		if e.Type() == typ {
			out = append(out, e)
		}
	}
	return out
}

func pathByFullPath(b *Batch, full string) graph.Entity {
	for _, e := range ofType(b, "Path") {
		if e["fullPath"] == full {
			return e
		}
	}
	return nil
}

func contractOp(owner, id string, block uint64, data map[string]any) Op {
	return Op{Type: "put", Path: []string{"contract", owner, id}, Data: data, BlockNum: block}
}

func TestTransformContractAccumulatesFolderItems(t *testing.T) {
	tr := New(&stubStore{})
	ctx := context.Background()

	// first contract puts two files into TestFolder
	opA := contractOp("alice", "95000000-aaa", 95000000, map[string]any{
		"i": "alice:0:95000000-aaa",
		"f": "alice", "t": "alice", "c": float64(3), "p": float64(3), "nt": float64(3),
		"m":  "1|TestFolder,file1,txt,,0,file2,txt,,0",
		"df": map[string]any{"QmA1": float64(100), "QmA2": float64(200)},
	})
	b1, err := tr.Transform(ctx, []Op{opA}, BlockInfo{BlockNum: 95000000})
	require.NoError(t, err)

	folder := pathByFullPath(b1, "/TestFolder")
	require.NotNil(t, folder)
	assert.Equal(t, int64(2), CoerceInt(folder["itemCount"]))
	assert.Equal(t, "directory", folder["pathType"])

	// second contract, later block, appends a third file to the same folder
	opB := contractOp("alice", "95001000-bbb", 95001000, map[string]any{
		"i": "alice:0:95001000-bbb",
		"f": "alice", "t": "alice", "c": float64(3), "p": float64(3), "nt": float64(3),
		"m":  "1|TestFolder,file3,txt,,0",
		"df": map[string]any{"QmB1": float64(300)},
	})
	b2, err := tr.Transform(ctx, []Op{opB}, BlockInfo{BlockNum: 95001000})
	require.NoError(t, err)

	folder = pathByFullPath(b2, "/TestFolder")
	require.NotNil(t, folder)
	assert.Equal(t, int64(3), CoerceInt(folder["itemCount"]))

	// the directory pointer follows the newest contract's file
	files := tr.Paths().GetPathFiles("alice", "/TestFolder")
	assert.Len(t, files, 3)
	cur, ok := folder["currentFile"].(graph.Ref)
	require.True(t, ok)
	assert.Equal(t, "_:file_QmB1", cur.UID())
}

func TestTransformHiddenFileGetsNoPath(t *testing.T) {
	tr := New(&stubStore{})

	op := contractOp("bob", "95002000-ccc", 95002000, map[string]any{
		"i": "bob:0:95002000-ccc",
		"f": "bob", "t": "bob",
		"m":  "1|Pics,photo,jpg.1,QmThumb,0--,thumb,jpg.1,,2--",
		"df": map[string]any{"QmPhoto": float64(5000), "QmThumb": float64(50)},
	})
	b, err := tr.Transform(context.Background(), []Op{op}, BlockInfo{BlockNum: 95002000})
	require.NoError(t, err)

	files := ofType(b, "ContractFile")
	require.Len(t, files, 2)

	var photo graph.Entity
	for _, f := range files {
		if f["cid"] == "QmPhoto" {
			photo = f
		}
	}
	require.NotNil(t, photo)
	assert.Equal(t, "QmThumb", photo["thumbnail"])

	// the thumbnail is stored but never linked into the tree
	assert.NotNil(t, pathByFullPath(b, "/Pics/photo"))
	assert.Nil(t, pathByFullPath(b, "/Pics/thumb"))

	folder := pathByFullPath(b, "/Pics")
	require.NotNil(t, folder)
	assert.Equal(t, int64(1), CoerceInt(folder["itemCount"]))
}

func TestTransformAccountDedupAgainstStore(t *testing.T) {
	store := &stubStore{byValue: map[string]string{
		"alice": `{"accounts":[{"uid":"0xabc"}]}`,
	}}
	tr := New(store)
	ctx := context.Background()

	ops := []Op{
		{Type: "put", Path: []string{"balances", "alice"}, Data: "5000", BlockNum: 100},
		{Type: "put", Path: []string{"spk", "alice"}, Data: float64(700), BlockNum: 100},
		{Type: "put", Path: []string{"balances", "newuser"}, Data: "10", BlockNum: 100},
	}
	b, err := tr.Transform(ctx, ops, BlockInfo{BlockNum: 100})
	require.NoError(t, err)

	accounts := ofType(b, "Account")
	require.Len(t, accounts, 2)

	var alice, newuser graph.Entity
	for _, a := range accounts {
		switch a["username"] {
		case "alice":
			alice = a
		case "newuser":
			newuser = a
		}
	}
	require.NotNil(t, alice)
	require.NotNil(t, newuser)

	// existing account resolves to its stored uid, both field updates
	// merged onto one entity
	assert.Equal(t, "0xabc", alice["uid"])
	assert.Equal(t, int64(5000), alice["larynxBalance"])
	assert.Equal(t, int64(700), alice["spkBalance"])

	// unknown account minted as a blank node
	assert.Equal(t, "_:account_newuser", newuser["uid"])

	// second batch hits the process cache, no further store lookups
	queriesAfterFirst := store.queries
	_, err = tr.Transform(ctx, ops[:1], BlockInfo{BlockNum: 101})
	require.NoError(t, err)
	assert.Equal(t, queriesAfterFirst, store.queries)
}

func TestTransformBrocaSplit(t *testing.T) {
	tr := New(&stubStore{})

	op := Op{Type: "put", Path: []string{"broca", "carol"}, Data: "80975487,5qUoh", BlockNum: 200}
	b, err := tr.Transform(context.Background(), []Op{op}, BlockInfo{BlockNum: 200})
	require.NoError(t, err)

	accounts := ofType(b, "Account")
	require.Len(t, accounts, 1)
	e := accounts[0]

	wantBlock, err := spk.DecodeBlockNum("5qUoh")
	require.NoError(t, err)
	assert.Equal(t, "80975487,5qUoh", e["broca"])
	assert.Equal(t, int64(80975487), e["brocaAmount"])
	assert.Equal(t, int64(wantBlock), e["brocaLastUpdate"])
}

func TestTransformDexOrderLifecycle(t *testing.T) {
	tr := New(&stubStore{})
	ctx := context.Background()

	put := Op{
		Type: "put",
		Path: []string{"dex", "hbd", "sellOrders", "100.000000:tx1"},
		Data: map[string]any{
			"amount": float64(100),
			"filled": float64(40),
			"from":   "dave",
			"block":  float64(300),
		},
		BlockNum: 300,
	}
	b1, err := tr.Transform(ctx, []Op{put}, BlockInfo{BlockNum: 300})
	require.NoError(t, err)

	orders := ofType(b1, "DexOrder")
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, "LARYNX:HBD:100.000000:tx1", o["orderId"])
	assert.Equal(t, OrderPartial, o["orderStatus"])
	assert.Equal(t, int64(60), o["remaining"])
	assert.Equal(t, "SELL", o["orderType"])
	assert.Equal(t, 100.0, o["rate"])

	// cancellation in a later batch reuses the same reference
	del := Op{
		Type:     "del",
		Path:     []string{"dex", "hbd", "sellOrders", "100.000000:tx1"},
		BlockNum: 310,
	}
	b2, err := tr.Transform(ctx, []Op{del}, BlockInfo{BlockNum: 310})
	require.NoError(t, err)

	orders = ofType(b2, "DexOrder")
	require.Len(t, orders, 1)
	assert.Equal(t, OrderCancelled, orders[0]["orderStatus"])
	assert.Equal(t, o["uid"], orders[0]["uid"])

	cancels := ofType(b2, "OrderCancellation")
	require.Len(t, cancels, 1)
	assert.Equal(t, "LARYNX:HBD:100.000000:tx1", cancels[0]["orderId"])
}

func TestTransformDexMarketWithBooksAndDays(t *testing.T) {
	tr := New(&stubStore{})

	op := Op{
		Type: "put",
		Path: []string{"dexs", "hive"},
		Data: map[string]any{
			"tick": "0.01",
			"sellOrders": map[string]any{
				"2.500000:txa": map[string]any{"amount": float64(10), "filled": float64(10)},
			},
			"days": map[string]any{
				"84230000": map[string]any{
					"o": float64(95), "t": float64(110), "b": float64(90),
					"c": float64(105), "d": float64(4000), "v": float64(42),
				},
			},
		},
		BlockNum: 400,
	}
	b, err := tr.Transform(context.Background(), []Op{op}, BlockInfo{BlockNum: 400})
	require.NoError(t, err)

	markets := ofType(b, "DexMarket")
	require.Len(t, markets, 1)
	assert.Equal(t, "SPK:HIVE", markets[0]["market"])

	orders := ofType(b, "DexOrder")
	require.Len(t, orders, 1)
	assert.Equal(t, OrderFilled, orders[0]["orderStatus"])
	assert.Equal(t, int64(0), orders[0]["remaining"])

	ohlc := ofType(b, "OHLCData")
	require.Len(t, ohlc, 1)
	day := ohlc[0]
	assert.Equal(t, int64(84230000), CoerceInt(day["blockBucket"]))
	assert.Equal(t, int64(95), day["open"])
	assert.Equal(t, int64(110), day["high"])
	assert.Equal(t, int64(90), day["low"])
	assert.Equal(t, int64(105), day["close"])
	assert.Equal(t, int64(4000), day["volumeQuote"])
	assert.Equal(t, int64(42), day["volumeToken"])
}

func TestTransformGrants(t *testing.T) {
	tr := New(&stubStore{})

	op := Op{
		Type: "put",
		Path: []string{"granted", "bob"},
		Data: map[string]any{
			"alice": float64(1000),
			"t":     float64(1000),
		},
		BlockNum: 500,
	}
	b, err := tr.Transform(context.Background(), []Op{op}, BlockInfo{BlockNum: 500})
	require.NoError(t, err)

	grants := ofType(b, "PowerGrant")
	require.Len(t, grants, 1)
	g := grants[0]
	assert.Equal(t, "alice:bob", g["grantKey"])
	assert.Equal(t, int64(1000), g["amount"])

	var bob graph.Entity
	for _, a := range ofType(b, "Account") {
		if a["username"] == "bob" {
			bob = a
		}
	}
	require.NotNil(t, bob)
	assert.Equal(t, int64(1000), bob["powerGranted"])
}

func TestTransformFeedEntry(t *testing.T) {
	tr := New(&stubStore{})

	op := Op{
		Type:     "put",
		Path:     []string{"feed", "84230000:abc"},
		Data:     "@alice sent 1.000 LARYNX to @bob",
		BlockNum: 84230000,
	}
	b, err := tr.Transform(context.Background(), []Op{op}, BlockInfo{BlockNum: 84230000})
	require.NoError(t, err)

	txs := ofType(b, "Transaction")
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, "TOKEN_TRANSFER", tx["category"])
	assert.Equal(t, int64(1000), tx["amount"])
	assert.Equal(t, "LARYNX", tx["token"])

	// both parties materialized as accounts
	assert.Len(t, ofType(b, "Account"), 2)
}

func TestTransformWriteMarkerAndUnknownSkipped(t *testing.T) {
	tr := New(&stubStore{})

	ops := []Op{
		{Type: "put", Path: []string{"rand", "x"}, Data: "1", BlockNum: 1},
		{Type: "put", Path: []string{"neverheardof", "y"}, Data: "2", BlockNum: 1},
		{Type: "write_marker", BlockNum: 1},
	}
	b, err := tr.Transform(context.Background(), ops, BlockInfo{BlockNum: 1})
	require.NoError(t, err)
	assert.True(t, b.Empty())
}

func TestTransformAuthorities(t *testing.T) {
	tr := New(&stubStore{})
	ctx := context.Background()

	// the plain string form lands on the account's public key
	b, err := tr.Transform(ctx, []Op{
		{Type: "put", Path: []string{"authorities", "alice"}, Data: "STM8PubKeyXYZ", BlockNum: 1},
	}, BlockInfo{BlockNum: 1})
	require.NoError(t, err)
	accounts := ofType(b, "Account")
	require.Len(t, accounts, 1)
	assert.Equal(t, "STM8PubKeyXYZ", accounts[0]["publicKey"])

	// the structured form is kept whole as authority data
	b, err = tr.Transform(ctx, []Op{
		{Type: "put", Path: []string{"authorities", "bob"},
			Data: map[string]any{"active": []any{"STM8KeyA", float64(1)}}, BlockNum: 2},
	}, BlockInfo{BlockNum: 2})
	require.NoError(t, err)
	accounts = ofType(b, "Account")
	require.Len(t, accounts, 1)
	assert.Contains(t, accounts[0]["authorityData"], "STM8KeyA")
	assert.Nil(t, accounts[0]["publicKey"])
}

func TestTransformConsensusInternalsSkipped(t *testing.T) {
	tr := New(&stubStore{})

	// consensus-internal families produce nothing, deletions included
	ops := []Op{
		{Type: "put", Path: []string{"escrow", "alice", "0"}, Data: "x", BlockNum: 1},
		{Type: "del", Path: []string{"escrow", "alice", "0"}, BlockNum: 1},
		{Type: "del", Path: []string{"forks", "hashA"}, BlockNum: 1},
		{Type: "del", Path: []string{"temp", "x"}, BlockNum: 1},
		{Type: "del", Path: []string{"validation", "v"}, BlockNum: 1},
		{Type: "del", Path: []string{"witness", "w"}, BlockNum: 1},
	}
	b, err := tr.Transform(context.Background(), ops, BlockInfo{BlockNum: 1})
	require.NoError(t, err)
	assert.True(t, b.Empty())
}

func TestAccountCacheReadThrough(t *testing.T) {
	tr := New(&stubStore{})
	ctx := context.Background()

	ops := []Op{{Type: "put", Path: []string{"balances", "eve"}, Data: "1", BlockNum: 1}}
	_, err := tr.Transform(ctx, ops, BlockInfo{BlockNum: 1})
	require.NoError(t, err)

	// first sight of eve is a miss, the second block hits the cache
	_, hit, miss := tr.CacheStats()
	assert.Equal(t, int64(0), hit)
	assert.Equal(t, int64(1), miss)

	_, err = tr.Transform(ctx, ops, BlockInfo{BlockNum: 2})
	require.NoError(t, err)
	_, hit, miss = tr.CacheStats()
	assert.Equal(t, int64(1), hit)
	assert.Equal(t, int64(1), miss)

	// a forgotten name loads again
	tr.Accounts().Forget("eve")
	_, err = tr.Transform(ctx, ops, BlockInfo{BlockNum: 3})
	require.NoError(t, err)
	_, _, miss = tr.CacheStats()
	assert.Equal(t, int64(2), miss)
}

func TestTransformResolveFlipsBlankNodes(t *testing.T) {
	tr := New(&stubStore{})
	ctx := context.Background()

	ops := []Op{{Type: "put", Path: []string{"balances", "eve"}, Data: "1", BlockNum: 1}}
	b1, err := tr.Transform(ctx, ops, BlockInfo{BlockNum: 1})
	require.NoError(t, err)
	require.Equal(t, "_:account_eve", ofType(b1, "Account")[0]["uid"])

	tr.Resolve(map[string]string{"account_eve": "0x42"})

	b2, err := tr.Transform(ctx, ops, BlockInfo{BlockNum: 2})
	require.NoError(t, err)
	assert.Equal(t, "0x42", ofType(b2, "Account")[0]["uid"])
}

func TestCoerceInt(t *testing.T) {
	assert.Equal(t, int64(80975487), CoerceInt("80975487,5qUoh"))
	assert.Equal(t, int64(3), CoerceInt(3.9))
	assert.Equal(t, int64(-4), CoerceInt(-3.5))
	assert.Equal(t, int64(1), CoerceInt(true))
	assert.Equal(t, int64(0), CoerceInt(nil))
	assert.Equal(t, int64(0), CoerceInt("not a number"))
	assert.Equal(t, int64(12), CoerceInt(" 12 "))
}
