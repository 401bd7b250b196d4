// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package transform converts path-addressed state operations from
// authoring nodes into graph entity mutations.
package transform

import (
	"strings"

	"github.com/spknetwork/honeygraph/graph"
)

// Op is one path-addressed operation from the replication stream.
type Op struct {
	Type               string   `json:"type"` // put, del, write_marker
	Path               []string `json:"path"`
	Data               any      `json:"data"`
	BlockNum           uint64   `json:"blockNum"`
	Index              int      `json:"index"`
	Timestamp          int64    `json:"timestamp,omitempty"`
	ForkHash           string   `json:"forkHash,omitempty"`
	PrevCheckpointHash string   `json:"prevCheckpointHash,omitempty"`
}

// IsWriteMarker reports whether the op is a batch terminator.
func (o *Op) IsWriteMarker() bool { return o.Type == "write_marker" }

// DedupKey is the processed-op identity: blockNum:index:type:path.
func (o *Op) DedupKey() string {
	var b strings.Builder
	b.WriteString(uitoa(o.BlockNum))
	b.WriteByte(':')
	b.WriteString(itoa(o.Index))
	b.WriteByte(':')
	b.WriteString(o.Type)
	b.WriteByte(':')
	b.WriteString(strings.Join(o.Path, "/"))
	return b.String()
}

// BlockInfo carries the block metadata a batch of ops belongs to.
type BlockInfo struct {
	BlockNum  uint64
	BlockHash string
	PrevHash  string
	ForkID    string
	Timestamp int64
}

// Batch collects the entities produced while transforming one block's
// operations, in the emission order the store requires: accounts first
// so every later entity can reference them, paths after itemCount
// computation.
type Batch struct {
	Block BlockInfo

	accounts     []graph.Entity
	contracts    []graph.Entity
	contractSubs []graph.Entity // encryption keys, node validations, extensions
	files        []graph.Entity
	paths        []graph.Entity
	transactions []graph.Entity
	markets      []graph.Entity
	orders       []graph.Entity
	ohlc         []graph.Entity
	other        []graph.Entity
	deletes      []graph.Entity

	// in-batch account map, first tier of the ensure lookup
	batchAccounts map[string]graph.Ref
	// account entities already in this batch, so repeated field updates
	// merge into one node
	accountEnts map[string]graph.Entity
}

// NewBatch starts an empty batch for the given block.
func NewBatch(block BlockInfo) *Batch {
	return &Batch{
		Block:         block,
		batchAccounts: make(map[string]graph.Ref),
		accountEnts:   make(map[string]graph.Entity),
	}
}

// Entities returns the batch's entities in emission order.
func (b *Batch) Entities() []graph.Entity {
	out := make([]graph.Entity, 0,
		len(b.accounts)+len(b.contracts)+len(b.contractSubs)+len(b.files)+
			len(b.paths)+len(b.transactions)+len(b.markets)+len(b.orders)+
			len(b.ohlc)+len(b.other))
	out = append(out, b.accounts...)
	out = append(out, b.contracts...)
	out = append(out, b.contractSubs...)
	out = append(out, b.files...)
	out = append(out, b.paths...)
	out = append(out, b.transactions...)
	out = append(out, b.markets...)
	out = append(out, b.orders...)
	out = append(out, b.ohlc...)
	out = append(out, b.other...)
	return out
}

// Deletes returns the batch's delete mutations.
func (b *Batch) Deletes() []graph.Entity { return b.deletes }

// Empty reports whether the batch produced no mutations at all.
func (b *Batch) Empty() bool {
	return len(b.Entities()) == 0 && len(b.deletes) == 0
}

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func itoa(n int) string {
	if n < 0 {
		return "-" + uitoa(uint64(-n))
	}
	return uitoa(uint64(n))
}
