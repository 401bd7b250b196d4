// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transform

import (
	"context"
	"strconv"
	"strings"

	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/spk"
)

// Order status values derived from fill state.
const (
	OrderOpen      = "OPEN"
	OrderPartial   = "PARTIAL"
	OrderFilled    = "FILLED"
	OrderCancelled = "CANCELLED"
)

// transformDex handles the dex state families: whole-market puts,
// individual order book entries, OHLC day buckets, and order
// cancellations via deletes.
//
// Path shapes:
//
//	[dex|dexs|dexb]                      whole token market map
//	[dex..., quote]                      one quote-side market map
//	[dex..., quote, sellOrders|buyOrders, "rate:txid"]
//	[dex..., quote, days, bucket]
func (t *Transformer) transformDex(ctx context.Context, op *Op, b *Batch) error {
	token, ok := spk.TokenForDexPrefix(op.Path[0])
	if !ok {
		return nil
	}

	if op.Type == "del" {
		return t.dexDelete(ctx, op, token, b)
	}

	switch {
	case len(op.Path) == 1:
		data, ok := op.Data.(map[string]any)
		if !ok {
			return nil
		}
		for quote, sub := range data {
			m, ok := sub.(map[string]any)
			if !ok {
				continue
			}
			if err := t.dexMarket(ctx, token, strings.ToUpper(quote), m, b); err != nil {
				return err
			}
		}
		return nil

	case len(op.Path) == 2:
		m, ok := op.Data.(map[string]any)
		if !ok {
			return nil
		}
		return t.dexMarket(ctx, token, strings.ToUpper(op.Path[1]), m, b)

	case len(op.Path) == 4 && (op.Path[2] == "sellOrders" || op.Path[2] == "buyOrders"):
		m, ok := op.Data.(map[string]any)
		if !ok {
			return nil
		}
		side := "SELL"
		if op.Path[2] == "buyOrders" {
			side = "BUY"
		}
		market := spk.MarketKey(token, strings.ToUpper(op.Path[1]))
		return t.dexOrder(ctx, market, side, op.Path[3], m, b)

	case len(op.Path) == 4 && op.Path[2] == "days":
		m, ok := op.Data.(map[string]any)
		if !ok {
			return nil
		}
		market := spk.MarketKey(token, strings.ToUpper(op.Path[1]))
		t.dexOHLC(market, op.Path[3], m, b)
		return nil
	}
	return nil
}

// dexMarket emits the market entity and walks its embedded order books
// and day buckets.
func (t *Transformer) dexMarket(ctx context.Context, token, quote string, data map[string]any, b *Batch) error {
	market := spk.MarketKey(token, quote)

	ref, err := t.marketRef(ctx, market)
	if err != nil {
		return err
	}
	e := graph.NewEntity("DexMarket", ref)
	e["market"] = market
	e["token"] = token
	e["quote"] = quote
	if v, ok := data["buyBook"]; ok {
		e["buyBook"] = v
	}
	if v, ok := data["sellBook"]; ok {
		e["sellBook"] = v
	}
	if v, ok := data["tick"]; ok {
		e["tick"] = v
	}
	b.markets = append(b.markets, e)

	for key, side := range map[string]string{"sellOrders": "SELL", "buyOrders": "BUY"} {
		book, ok := data[key].(map[string]any)
		if !ok {
			continue
		}
		for id, raw := range book {
			order, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if err := t.dexOrder(ctx, market, side, id, order, b); err != nil {
				return err
			}
		}
	}

	if days, ok := data["days"].(map[string]any); ok {
		for bucket, raw := range days {
			if day, ok := raw.(map[string]any); ok {
				t.dexOHLC(market, bucket, day, b)
			}
		}
	}
	return nil
}

// dexOrder emits one order book entry. The book key is "rate:txid";
// the stable order identity is market:rate:txid. Status is derived
// from the fill amounts every time the order is seen.
func (t *Transformer) dexOrder(ctx context.Context, market, side, key string, data map[string]any, b *Batch) error {
	rateStr, txid, _ := strings.Cut(key, ":")
	rate, _ := strconv.ParseFloat(rateStr, 64)
	orderID := market + ":" + key

	amount := CoerceInt(data["amount"])
	filled := CoerceInt(data["filled"])
	status := OrderOpen
	switch {
	case amount > 0 && filled >= amount:
		status = OrderFilled
	case filled > 0:
		status = OrderPartial
	}
	remaining := amount - filled
	if remaining < 0 {
		remaining = 0
	}

	ref, err := t.orderRef(ctx, orderID)
	if err != nil {
		return err
	}
	e := graph.NewEntity("DexOrder", ref)
	e["orderId"] = orderID
	e["market"] = market
	e["rate"] = rate
	e["txid"] = txid
	e["orderType"] = side
	e["amount"] = amount
	e["filled"] = filled
	e["remaining"] = remaining
	e["orderStatus"] = status
	if rate > 0 {
		e["tokenAmount"] = int64(float64(amount) / rate)
	}
	if v, ok := data["block"]; ok {
		e["blockNumber"] = CoerceInt(v)
	} else {
		e["blockNumber"] = int64(b.Block.BlockNum)
	}
	if v, ok := data["expire_path"]; ok {
		e["expireBlock"] = CoerceInt(v)
	} else if v, ok := data["ep"]; ok {
		e["expireBlock"] = CoerceInt(v)
	}
	if v, ok := data["hive_id"].(string); ok {
		e["hiveId"] = v
	}
	if from, ok := data["from"].(string); ok && from != "" {
		ref, err := t.accounts.Ensure(ctx, from, b)
		if err != nil {
			return err
		}
		e["from"] = ref
	}
	b.orders = append(b.orders, e)
	return nil
}

// dexOHLC emits one day bucket. The bucket key is the block number the
// day started at; the terse field names map positionally to
// open/high/low/close/volumeQuote/volumeToken.
func (t *Transformer) dexOHLC(market, bucket string, data map[string]any, b *Batch) {
	blockBucket, err := strconv.ParseInt(bucket, 10, 64)
	if err != nil {
		return
	}
	e := graph.NewEntity("OHLCData",
		graph.Local("ohlc_"+graph.SanitizeLabel(market+"_"+bucket)))
	e["market"] = market
	e["blockBucket"] = blockBucket
	e["open"] = CoerceInt(data["o"])
	e["high"] = CoerceInt(data["t"])
	e["low"] = CoerceInt(data["b"])
	e["close"] = CoerceInt(data["c"])
	e["volumeQuote"] = CoerceInt(data["d"])
	e["volumeToken"] = CoerceInt(data["v"])
	b.ohlc = append(b.ohlc, e)
}

// dexDelete handles order book removals: the order flips to CANCELLED
// and a cancellation record is kept. Non-book deletes under dex state
// are recorded generically.
func (t *Transformer) dexDelete(ctx context.Context, op *Op, token string, b *Batch) error {
	if len(op.Path) == 4 && (op.Path[2] == "sellOrders" || op.Path[2] == "buyOrders") {
		market := spk.MarketKey(token, strings.ToUpper(op.Path[1]))
		orderID := market + ":" + op.Path[3]

		ref, err := t.orderRef(ctx, orderID)
		if err != nil {
			return err
		}
		e := graph.NewEntity("DexOrder", ref)
		e["orderId"] = orderID
		e["orderStatus"] = OrderCancelled
		b.orders = append(b.orders, e)

		c := graph.NewEntity("OrderCancellation",
			graph.Local("cancel_"+graph.SanitizeLabel(orderID)+"_"+uitoa(op.BlockNum)))
		c["orderId"] = orderID
		c["market"] = market
		c["blockNumber"] = int64(op.BlockNum)
		b.orders = append(b.orders, c)
		return nil
	}
	t.recordDelete(op, b)
	return nil
}

// marketRef returns a stable per-process reference for a market key.
func (t *Transformer) marketRef(ctx context.Context, market string) (graph.Ref, error) {
	return t.refs.get(ctx, "market_"+graph.SanitizeLabel(market), "market", market)
}

// orderRef returns a stable per-process reference for an order id.
func (t *Transformer) orderRef(ctx context.Context, orderID string) (graph.Ref, error) {
	return t.refs.get(ctx, "order_"+graph.SanitizeLabel(orderID), "orderId", orderID)
}
