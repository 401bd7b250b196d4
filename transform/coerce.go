// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transform

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/spknetwork/honeygraph/graph"
)

// intFields are schema predicates typed as integers. Authoring nodes
// are loose about value shapes, so anything landing on these fields is
// coerced before emission.
var intFields = map[string]bool{
	"amount": true, "filled": true, "remaining": true,
	"power": true, "contractPower": true,
	"authorized": true, "utilized": true, "refunded": true, "verified": true,
	"nodeTotal": true, "fileCount": true,
	"expiresBlock": true, "expireBlock": true,
	"size": true, "flags": true, "itemCount": true,
	"blockNumber": true, "contractBlockNumber": true, "newestBlockNumber": true,
	"larynxBalance": true, "spkBalance": true, "brocaBalance": true,
	"brocaAmount": true, "brocaLastUpdate": true, "brocaPower": true,
	"powerGranted": true, "powerGranting": true, "lastUpdateBlock": true,
	"votingPower": true, "cost": true, "enabled": true,
	"open": true, "high": true, "low": true, "close": true,
	"volumeQuote": true, "volumeToken": true, "blockBucket": true,
	"tokenAmount": true, "status": true,
	"tipBlock": true, "checkpointBlock": true,
	"spkbBalance": true, "spkPower": true,
	"claimableLarynx": true, "claimableBroca": true, "claimableSpk": true,
	"liquidBroca": true, "storageBroca": true, "validatorBroca": true,
	"noMention": true, "bidRate": true, "strikes": true,
	"startBlock": true, "endBlock": true,
}

// refFields are schema predicates typed as uid edges. A bare username
// string landing here is resolved through the account cache.
var refFields = map[string]bool{
	"owner": true, "purchaser": true, "from": true, "provider": true,
	"grantor": true, "grantee": true, "sharedWith": true, "paidBy": true,
}

// CoerceInt converts loose authoring-node values to an integer.
// Strings may carry a ",blockRef" suffix which is dropped; floats are
// floored; anything unconvertible becomes zero.
func CoerceInt(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64:
		return t
	case int:
		return int64(t)
	case uint64:
		return int64(t)
	case float64:
		return int64(math.Floor(t))
	case bool:
		if t {
			return 1
		}
		return 0
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(math.Floor(f))
		}
		return 0
	case string:
		s := t
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(math.Floor(f))
		}
		return 0
	}
	return 0
}

// CoerceFloat converts loose values to a float64, zero on failure.
func CoerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}

// coerceEntities is the final validation pass over a batch: integer
// fields are normalized, bare usernames on edge fields are resolved to
// references, and structured values on scalar fields are stringified.
func (t *Transformer) coerceEntities(ctx context.Context, b *Batch) error {
	for _, e := range b.Entities() {
		for field, v := range e {
			if field == "uid" || field == "dgraph.type" {
				continue
			}
			switch {
			case intFields[field]:
				if _, ok := v.(int64); !ok {
					if _, ok := v.(int); !ok {
						e[field] = CoerceInt(v)
					}
				}
			case refFields[field]:
				switch rv := v.(type) {
				case graph.Ref:
					if rv.Kind() == graph.RefName {
						ref, err := t.accounts.Ensure(ctx, rv.Value(), b)
						if err != nil {
							return err
						}
						e[field] = ref
					}
				case string:
					ref, err := t.accounts.Ensure(ctx, rv, b)
					if err != nil {
						return err
					}
					e[field] = ref
				case map[string]any:
					if name, ok := rv["username"].(string); ok {
						ref, err := t.accounts.Ensure(ctx, name, b)
						if err != nil {
							return err
						}
						e[field] = ref
					}
				}
			default:
				switch v.(type) {
				case map[string]any, []any:
					raw, err := json.Marshal(v)
					if err != nil {
						return err
					}
					e[field] = string(raw)
				}
			}
		}
	}
	return nil
}
