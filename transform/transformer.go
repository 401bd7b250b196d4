// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transform

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spknetwork/honeygraph/feed"
	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/log"
	"github.com/spknetwork/honeygraph/metrics"
	"github.com/spknetwork/honeygraph/spk"
)

var logger = log.WithContext("pkg", "transform")

var (
	metricOps     = metrics.LazyLoadCounterVec("transform_ops_total", []string{"prefix"})
	metricSkipped = metrics.LazyLoadCounter("transform_ops_skipped_total")
)

// balanceFields maps single-value balance state prefixes to the Account
// predicate they land on.
var balanceFields = map[string]string{
	"balances":  "larynxBalance",
	"spk":       "spkBalance",
	"spkb":      "spkbBalance",
	"spkp":      "spkPower",
	"cbalances": "claimableLarynx",
	"cbroca":    "claimableBroca",
	"cspk":      "claimableSpk",
	"lbroca":    "liquidBroca",
	"sbroca":    "storageBroca",
	"vbroca":    "validatorBroca",
	"nomention": "noMention",
}

// skipPrefixes are consensus-internal state families with no graph
// representation.
var skipPrefixes = map[string]bool{
	"chain":      true,
	"runners":    true,
	"queue":      true,
	"rand":       true,
	"chrono":     true,
	"cPointers":  true,
	"IPFS":       true,
	"witness":    true,
	"escrow":     true,
	"forks":      true,
	"temp":       true,
	"validation": true,
}

// Transformer turns path-addressed operations into graph entities. One
// transformer serves one network namespace; its caches span batches so
// references stay stable across blocks.
type Transformer struct {
	store    Querier
	accounts *Accounts
	paths    *PathAccumulator
	refs     *refCache
	files    *fileCache
}

// New creates a transformer over the given store. store may be nil in
// tests; every cache then mints fresh references.
func New(store Querier) *Transformer {
	return &Transformer{
		store:    store,
		accounts: NewAccounts(store),
		paths:    NewPathAccumulator(),
		refs:     newRefCache(store),
		files:    newFileCache(store),
	}
}

// Accounts exposes the account cache (the API read layer shares it).
func (t *Transformer) Accounts() *Accounts { return t.accounts }

// Paths exposes the path accumulator.
func (t *Transformer) Paths() *PathAccumulator { return t.paths }

// CacheStats reports the account cache hit/miss counters.
func (t *Transformer) CacheStats() (bool, int64, int64) {
	return t.accounts.CacheStats()
}

// Transform converts one block's operations into a batch of entities
// and deletes. Ops are applied in stream order; write markers are
// terminators and carry no state. A failed op fails the whole batch so
// the caller can retry it atomically.
func (t *Transformer) Transform(ctx context.Context, ops []Op, block BlockInfo) (*Batch, error) {
	b := NewBatch(block)
	t.paths.StartBatch()

	for i := range ops {
		op := &ops[i]
		if op.IsWriteMarker() || len(op.Path) == 0 {
			continue
		}
		if err := t.dispatch(ctx, op, b); err != nil {
			t.paths.EndBatch()
			return nil, err
		}
	}

	t.paths.EndBatch()
	t.paths.Emit(b, func(owner string) graph.Ref {
		ref, err := t.accounts.Ensure(ctx, owner, b)
		if err != nil {
			logger.Warn("path owner resolution failed", "owner", owner, "err", err)
		}
		return ref
	})

	if err := t.coerceEntities(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Resolve feeds the store's blank-node assignments back into every
// cache after a successful commit.
func (t *Transformer) Resolve(uids map[string]string) {
	if len(uids) == 0 {
		return
	}
	t.accounts.Resolve(uids)
	t.refs.resolve(uids)
	t.files.resolve(uids)
	t.paths.Resolve(uids)
}

func (t *Transformer) dispatch(ctx context.Context, op *Op, b *Batch) error {
	prefix := op.Path[0]
	metricOps().AddWithLabel(1, map[string]string{"prefix": prefix})

	if skipPrefixes[prefix] {
		return nil
	}
	if field, ok := balanceFields[prefix]; ok {
		return t.transformBalance(ctx, op, field, b)
	}
	if _, ok := spk.TokenForDexPrefix(prefix); ok {
		return t.transformDex(ctx, op, b)
	}

	switch prefix {
	case "authorities":
		return t.transformAuthorities(ctx, op, b)
	case "contract":
		return t.transformContract(ctx, op, b)
	case "broca":
		return t.transformBroca(ctx, op, b)
	case "bpow":
		return t.transformBalanceField(ctx, op, "brocaPower", b)
	case "pow":
		return t.transformPow(ctx, op, b)
	case "granted", "granting":
		return t.transformGrants(ctx, op, b)
	case "contracts":
		return t.transformContractList(ctx, op, b)
	case "feed":
		return t.transformFeed(ctx, op, b)
	case "services", "service":
		return t.transformService(ctx, op, b)
	case "list":
		return t.transformServiceList(op, b)
	case "market":
		if len(op.Path) >= 3 && op.Path[1] == "node" {
			return t.transformNodeBid(ctx, op, b)
		}
	case "proffer":
		return t.transformProffer(ctx, op, b)
	case "spkVote":
		return t.transformSpkVote(ctx, op, b)
	case "val":
		return t.transformValidator(ctx, op, b)
	case "stats":
		return t.transformStats(ctx, op, b)
	case "delegations":
		return t.transformDelegations(ctx, op, b)
	}

	if op.Type == "del" {
		t.recordDelete(op, b)
		return nil
	}
	metricSkipped().Add(1)
	logger.Debug("unhandled state prefix", "prefix", prefix, "path", strings.Join(op.Path, "/"))
	return nil
}

// accountEntity returns the batch's Account entity for username,
// creating the update entity on first touch.
func (t *Transformer) accountEntity(ctx context.Context, username string, b *Batch) (graph.Entity, error) {
	ref, err := t.accounts.Ensure(ctx, username, b)
	if err != nil {
		return nil, err
	}
	if e, ok := b.accountEnts[username]; ok {
		return e, nil
	}
	e := graph.NewEntity("Account", ref)
	e["username"] = username
	b.accounts = append(b.accounts, e)
	b.accountEnts[username] = e
	return e, nil
}

// transformAuthorities records an account's signing authority. The
// plain string form is the account's public key; the structured form
// (weighted multi-key sets) is kept whole as authorityData.
func (t *Transformer) transformAuthorities(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	if op.Type == "del" {
		t.recordDelete(op, b)
		return nil
	}
	e, err := t.accountEntity(ctx, op.Path[1], b)
	if err != nil {
		return err
	}
	if key, ok := op.Data.(string); ok {
		e["publicKey"] = key
		return nil
	}
	raw, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}
	e["authorityData"] = string(raw)
	return nil
}

// transformBalance handles the single-value balance families. The path
// is [prefix, username]; a "NNN,blockRef" value splits into the amount
// and its positional base64 last-update block.
func (t *Transformer) transformBalance(ctx context.Context, op *Op, field string, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	if op.Type == "del" {
		t.recordDelete(op, b)
		return nil
	}
	e, err := t.accountEntity(ctx, op.Path[1], b)
	if err != nil {
		return err
	}
	e[field] = CoerceInt(op.Data)
	if s, ok := op.Data.(string); ok {
		if _, blockRef, found := strings.Cut(s, ","); found {
			if n, err := spk.DecodeBlockNum(blockRef); err == nil {
				e["lastUpdateBlock"] = int64(n)
			}
		}
	}
	return nil
}

func (t *Transformer) transformBalanceField(ctx context.Context, op *Op, field string, b *Batch) error {
	return t.transformBalance(ctx, op, field, b)
}

// transformBroca keeps the raw broca string and derives the split
// amount and last-update block from it.
func (t *Transformer) transformBroca(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	if op.Type == "del" {
		t.recordDelete(op, b)
		return nil
	}
	e, err := t.accountEntity(ctx, op.Path[1], b)
	if err != nil {
		return err
	}
	raw := str(op.Data)
	e["broca"] = raw
	e["brocaAmount"] = CoerceInt(raw)
	if _, blockRef, found := strings.Cut(raw, ","); found {
		if n, err := spk.DecodeBlockNum(blockRef); err == nil {
			e["brocaLastUpdate"] = int64(n)
		}
	}
	return nil
}

// transformPow stores a scalar as the account's power; a structured
// proof-of-work report becomes its own entity.
func (t *Transformer) transformPow(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	if data, ok := op.Data.(map[string]any); ok {
		acct, err := t.accounts.Ensure(ctx, op.Path[1], b)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		e := graph.NewEntity("POWReport",
			graph.Local("pow_"+graph.SanitizeLabel(op.Path[1])+"_"+uitoa(op.BlockNum)))
		e["owner"] = acct
		e["report"] = string(raw)
		e["blockNumber"] = int64(op.BlockNum)
		b.other = append(b.other, e)
		return nil
	}
	return t.transformBalance(ctx, op, "power", b)
}

// transformGrants handles power grants. The full grant set appears once
// under "granted" (keyed by grantor, with "t" the aggregate); the
// "granting" mirror only updates the grantor's aggregate so each grant
// is recorded exactly once.
func (t *Transformer) transformGrants(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	user := op.Path[1]
	field := "powerGranted"
	if op.Path[0] == "granting" {
		field = "powerGranting"
	}

	data, ok := op.Data.(map[string]any)
	if !ok {
		return t.transformBalance(ctx, op, field, b)
	}

	e, err := t.accountEntity(ctx, user, b)
	if err != nil {
		return err
	}
	if total, ok := data["t"]; ok {
		e[field] = CoerceInt(total)
	}
	if op.Path[0] != "granted" {
		return nil
	}

	granteeRef, err := t.accounts.Ensure(ctx, user, b)
	if err != nil {
		return err
	}
	for grantor, amount := range data {
		if grantor == "t" {
			continue
		}
		grantorRef, err := t.accounts.Ensure(ctx, grantor, b)
		if err != nil {
			return err
		}
		key := grantor + ":" + user
		ref, err := t.refs.get(ctx, "grant_"+graph.SanitizeLabel(key), "grantKey", key)
		if err != nil {
			return err
		}
		g := graph.NewEntity("PowerGrant", ref)
		g["grantKey"] = key
		g["grantor"] = grantorRef
		g["grantee"] = granteeRef
		g["amount"] = CoerceInt(amount)
		g["blockNumber"] = int64(op.BlockNum)
		b.other = append(b.other, g)
	}
	return nil
}

// transformContractList keeps the purchaser's contract id list on the
// account as an opaque JSON value.
func (t *Transformer) transformContractList(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	e, err := t.accountEntity(ctx, op.Path[1], b)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}
	e["contracts"] = string(raw)
	return nil
}

// transformFeed classifies feed entries into Transaction entities.
// Feed deletions are pruning, not history rewrites, and are ignored.
func (t *Transformer) transformFeed(ctx context.Context, op *Op, b *Batch) error {
	if op.Type == "del" {
		return nil
	}
	entries := map[string]any{}
	if len(op.Path) >= 2 {
		entries[op.Path[1]] = op.Data
	} else if m, ok := op.Data.(map[string]any); ok {
		entries = m
	}

	for id, raw := range entries {
		payload := str(raw)
		if payload == "" {
			enc, err := json.Marshal(raw)
			if err != nil {
				return err
			}
			payload = string(enc)
		}
		tx := feed.Parse(id, payload)

		ref, err := t.refs.get(ctx, "feed_"+graph.SanitizeLabel(id), "feedId", id)
		if err != nil {
			return err
		}
		e := graph.NewEntity("Transaction", ref)
		e["feedId"] = id
		e["category"] = string(tx.Category)
		e["rawMessage"] = tx.Raw
		e["blockNumber"] = int64(tx.BlockNum)
		if tx.Amount != 0 {
			e["amount"] = tx.Amount
		}
		if tx.Token != "" {
			e["token"] = tx.Token
		}
		if tx.From != "" {
			from, err := t.accounts.Ensure(ctx, tx.From, b)
			if err != nil {
				return err
			}
			e["from"] = from
		}
		if tx.To != "" {
			to, err := t.accounts.Ensure(ctx, tx.To, b)
			if err != nil {
				return err
			}
			e["owner"] = to
		}
		b.transactions = append(b.transactions, e)
	}
	return nil
}

// transformService handles provider service registrations, either one
// service at [services, user, type, id] or a user's whole map.
func (t *Transformer) transformService(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	user := op.Path[1]
	provider, err := t.accounts.Ensure(ctx, user, b)
	if err != nil {
		return err
	}

	emit := func(svcType, id string, data map[string]any) {
		e := graph.NewEntity("Service",
			graph.Local("service_"+graph.SanitizeLabel(user+"_"+svcType+"_"+id)))
		e["provider"] = provider
		e["serviceType"] = svcType
		e["api"] = str(data["a"])
		e["enabled"] = CoerceInt(data["e"])
		e["memo"] = str(data["m"])
		e["ipfsId"] = str(data["i"])
		e["cost"] = CoerceInt(data["c"])
		b.other = append(b.other, e)
	}

	switch len(op.Path) {
	case 4:
		if data, ok := op.Data.(map[string]any); ok {
			emit(op.Path[2], op.Path[3], data)
		}
	case 3:
		if byID, ok := op.Data.(map[string]any); ok {
			for id, raw := range byID {
				if data, ok := raw.(map[string]any); ok {
					emit(op.Path[2], id, data)
				}
			}
		}
	case 2:
		if byType, ok := op.Data.(map[string]any); ok {
			for svcType, rawIDs := range byType {
				byID, ok := rawIDs.(map[string]any)
				if !ok {
					continue
				}
				for id, raw := range byID {
					if data, ok := raw.(map[string]any); ok {
						emit(svcType, id, data)
					}
				}
			}
		}
	}
	return nil
}

// transformServiceList keeps the per-type provider roster.
func (t *Transformer) transformServiceList(op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	raw, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}
	e := graph.NewEntity("ServiceList",
		graph.Local("svclist_"+graph.SanitizeLabel(op.Path[1])+"_"+uitoa(op.BlockNum)))
	e["serviceType"] = op.Path[1]
	e["providers"] = string(raw)
	e["blockNumber"] = int64(op.BlockNum)
	b.other = append(b.other, e)
	return nil
}

// transformNodeBid handles validator node market registrations at
// [market, node, account].
func (t *Transformer) transformNodeBid(ctx context.Context, op *Op, b *Batch) error {
	data, ok := op.Data.(map[string]any)
	if !ok {
		return nil
	}
	acct, err := t.accounts.Ensure(ctx, op.Path[2], b)
	if err != nil {
		return err
	}
	e := graph.NewEntity("NodeMarketBid",
		graph.Local("nodebid_"+graph.SanitizeLabel(op.Path[2])))
	e["owner"] = acct
	e["domain"] = str(data["domain"])
	e["bidRate"] = CoerceInt(data["bidRate"])
	e["strikes"] = CoerceInt(data["strikes"])
	e["blockNumber"] = int64(op.BlockNum)
	if report, ok := data["report"]; ok {
		raw, err := json.Marshal(report)
		if err != nil {
			return err
		}
		e["report"] = string(raw)
	}
	b.other = append(b.other, e)
	return nil
}

// transformProffer records pending contract offers generically.
func (t *Transformer) transformProffer(ctx context.Context, op *Op, b *Batch) error {
	if op.Type == "del" {
		t.recordDelete(op, b)
		return nil
	}
	raw, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}
	e := graph.NewEntity("Proffer",
		graph.Local("proffer_"+graph.SanitizeLabel(strings.Join(op.Path[1:], "_"))))
	e["profferData"] = string(raw)
	e["blockNumber"] = int64(op.BlockNum)
	if len(op.Path) >= 2 {
		acct, err := t.accounts.Ensure(ctx, op.Path[1], b)
		if err != nil {
			return err
		}
		e["owner"] = acct
	}
	b.other = append(b.other, e)
	return nil
}

// transformSpkVote keeps the raw vote string plus the decoded two-char
// validator choices.
func (t *Transformer) transformSpkVote(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	e, err := t.accountEntity(ctx, op.Path[1], b)
	if err != nil {
		return err
	}
	raw := str(op.Data)
	e["spkVote"] = raw

	_, codes, found := strings.Cut(raw, ",")
	if !found {
		return nil
	}
	var choices []string
	for i := 0; i+2 <= len(codes); i += 2 {
		choices = append(choices, codes[i:i+2])
	}
	if len(choices) > 0 {
		enc, err := json.Marshal(choices)
		if err != nil {
			return err
		}
		e["spkVoteChoices"] = string(enc)
	}
	return nil
}

// transformValidator handles [val, code] entries.
func (t *Transformer) transformValidator(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	code := op.Path[1]
	ref, err := t.refs.get(ctx, "val_"+graph.SanitizeLabel(code), "validatorCode", code)
	if err != nil {
		return err
	}
	e := graph.NewEntity("Validator", ref)
	e["validatorCode"] = code
	e["votingPower"] = CoerceInt(op.Data)
	b.other = append(b.other, e)
	return nil
}

// transformStats upserts the network stats singleton.
func (t *Transformer) transformStats(ctx context.Context, op *Op, b *Batch) error {
	raw, err := json.Marshal(op.Data)
	if err != nil {
		return err
	}
	ref, err := t.refs.get(ctx, "stats", "statsKey", "stats")
	if err != nil {
		return err
	}
	e := graph.NewEntity("StatsData", ref)
	e["statsKey"] = "stats"
	e["statsData"] = string(raw)
	e["blockNumber"] = int64(op.BlockNum)
	b.other = append(b.other, e)
	return nil
}

// transformDelegations handles [delegations, from] maps of
// delegatee -> amount.
func (t *Transformer) transformDelegations(ctx context.Context, op *Op, b *Batch) error {
	if len(op.Path) < 2 {
		return nil
	}
	data, ok := op.Data.(map[string]any)
	if !ok {
		return nil
	}
	from := op.Path[1]
	fromRef, err := t.accounts.Ensure(ctx, from, b)
	if err != nil {
		return err
	}
	for to, amount := range data {
		toRef, err := t.accounts.Ensure(ctx, to, b)
		if err != nil {
			return err
		}
		key := from + ":" + to
		ref, err := t.refs.get(ctx, "deleg_"+graph.SanitizeLabel(key), "delegationKey", key)
		if err != nil {
			return err
		}
		e := graph.NewEntity("Delegation", ref)
		e["delegationKey"] = key
		e["from"] = fromRef
		e["owner"] = toRef
		e["amount"] = CoerceInt(amount)
		e["blockNumber"] = int64(op.BlockNum)
		b.other = append(b.other, e)
	}
	return nil
}

// recordDelete keeps a generic tombstone for state removals that have
// no specific handling. The graph keeps history; nothing is erased.
func (t *Transformer) recordDelete(op *Op, b *Batch) {
	e := graph.NewEntity("StateDeletion",
		graph.Local("del_"+graph.SanitizeLabel(strings.Join(op.Path, "_"))+"_"+uitoa(op.BlockNum)))
	e["deletedPath"] = strings.Join(op.Path, "/")
	e["blockNumber"] = int64(op.BlockNum)
	b.other = append(b.other, e)
}
