// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transform

import (
	"context"
	"sort"
	"strings"

	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/meta"
	"github.com/spknetwork/honeygraph/spk"
)

// contractData is the terse authoring-node shape of a storage contract.
// Single letters are the wire field names; everything is loosely typed.
type contractData struct {
	id        string
	purchaser string
	owner     string
	status    int64
	power     int64
	authorized int64
	broker    string
	refunded  int64
	utilized  int64
	verified  int64
	nodeTotal int64
	expires   string
	metadata  string
	files     map[string]any
	nodes     map[string]any
	exts      string
}

func decodeContractData(raw map[string]any) contractData {
	d := contractData{
		id:         str(raw["i"]),
		purchaser:  str(raw["f"]),
		owner:      str(raw["t"]),
		status:     CoerceInt(raw["c"]),
		power:      CoerceInt(raw["p"]),
		authorized: CoerceInt(raw["a"]),
		broker:     str(raw["b"]),
		refunded:   CoerceInt(raw["r"]),
		utilized:   CoerceInt(raw["u"]),
		verified:   CoerceInt(raw["v"]),
		nodeTotal:  CoerceInt(raw["nt"]),
		expires:    str(raw["e"]),
		metadata:   str(raw["m"]),
		exts:       str(raw["ex"]),
	}
	d.files, _ = raw["df"].(map[string]any)
	d.nodes, _ = raw["n"].(map[string]any)
	return d
}

// transformContract handles storage contract puts under
// ["contract", owner, "<blockHeight>-<txid>"] or ["contract", fullId].
// One contract expands into the contract entity, its encryption keys,
// node validations and extensions, one ContractFile per content id, and
// path nodes for every visible file.
func (t *Transformer) transformContract(ctx context.Context, op *Op, b *Batch) error {
	raw, ok := op.Data.(map[string]any)
	if !ok {
		if op.Type == "del" {
			t.recordDelete(op, b)
			return nil
		}
		return nil
	}
	d := decodeContractData(raw)

	id := d.id
	if id == "" {
		switch len(op.Path) {
		case 2:
			id = op.Path[1]
		case 3:
			purchaser := d.purchaser
			if purchaser == "" {
				purchaser = op.Path[1]
			}
			id = purchaser + ":0:" + op.Path[2]
		default:
			logger.Debug("contract op with unusable path", "path", strings.Join(op.Path, "/"))
			return nil
		}
	}
	if d.purchaser == "" {
		d.purchaser = contractPurchaser(id, op.Path)
	}
	if d.owner == "" {
		d.owner = d.purchaser
	}

	ref, err := t.refs.get(ctx, "contract_"+graph.SanitizeLabel(id), "contractId", id)
	if err != nil {
		return err
	}

	purchaserRef, err := t.accounts.Ensure(ctx, d.purchaser, b)
	if err != nil {
		return err
	}
	ownerRef, err := t.accounts.Ensure(ctx, d.owner, b)
	if err != nil {
		return err
	}

	// content ids in data-file-map sorted order, the order metadata
	// groups are matched against
	cids := make([]string, 0, len(d.files))
	for cid := range d.files {
		cids = append(cids, cid)
	}
	sort.Strings(cids)
	parsed := meta.Parse(d.metadata, cids)

	e := graph.NewEntity("StorageContract", ref)
	e["contractId"] = id
	e["purchaser"] = purchaserRef
	e["owner"] = ownerRef
	e["status"] = d.status
	e["statusText"] = spk.ContractStatus(d.status).String()
	e["contractPower"] = d.power
	e["authorized"] = d.authorized
	e["refunded"] = d.refunded
	e["utilized"] = d.utilized
	e["verified"] = d.verified
	e["nodeTotal"] = d.nodeTotal
	e["fileCount"] = int64(len(cids))
	e["isUnderstored"] = d.nodeTotal < d.power
	e["metadata"] = d.metadata
	e["autoRenew"] = parsed.AutoRenew
	e["blockNumber"] = int64(op.BlockNum)
	if d.broker != "" {
		e["broker"] = d.broker
	}
	if d.expires != "" {
		expBlock, chronID, _ := strings.Cut(d.expires, ":")
		e["expiresBlock"] = CoerceInt(expBlock)
		if chronID != "" {
			e["expiresChronId"] = chronID
		}
	}

	if keys, err := t.contractEncKeys(ctx, ref, id, parsed.Grants, b); err != nil {
		return err
	} else if len(keys) > 0 {
		e["encryptionKeys"] = keys
	}
	if nodes, err := t.contractNodes(ctx, ref, id, d.nodes, b); err != nil {
		return err
	} else if len(nodes) > 0 {
		e["storageNodes"] = nodes
	}
	if exts := t.contractExtensions(ref, id, d.exts, op.BlockNum, b); len(exts) > 0 {
		e["extensions"] = exts
	}
	b.contracts = append(b.contracts, e)

	contractBlock := contractCreationBlock(id, op.BlockNum)
	for _, cid := range cids {
		if err := t.contractFile(ctx, ref, d, parsed, cid, contractBlock, b); err != nil {
			return err
		}
	}
	return nil
}

// contractEncKeys emits one EncryptionKey entity per metadata grant.
func (t *Transformer) contractEncKeys(ctx context.Context, contract graph.Ref, id string, grants []meta.EncGrant, b *Batch) ([]graph.Ref, error) {
	var refs []graph.Ref
	for _, g := range grants {
		shared, err := t.accounts.Ensure(ctx, g.Username, b)
		if err != nil {
			return nil, err
		}
		ref := graph.Local("enckey_" + graph.SanitizeLabel(id+"_"+g.Username))
		e := graph.NewEntity("EncryptionKey", ref)
		e["contract"] = contract
		e["sharedWith"] = shared
		e["encryptedKey"] = g.EncryptedKey
		e["keyType"] = "AES-256"
		b.contractSubs = append(b.contractSubs, e)
		refs = append(refs, ref)
	}
	return refs, nil
}

// contractNodes emits one validation entity per storage node slot in
// the contract's "n" map (slot number -> account name).
func (t *Transformer) contractNodes(ctx context.Context, contract graph.Ref, id string, nodes map[string]any, b *Batch) ([]graph.Ref, error) {
	slots := make([]string, 0, len(nodes))
	for slot := range nodes {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	var refs []graph.Ref
	for _, slot := range slots {
		name := str(nodes[slot])
		if name == "" {
			continue
		}
		acct, err := t.accounts.Ensure(ctx, name, b)
		if err != nil {
			return nil, err
		}
		ref := graph.Local("valnode_" + graph.SanitizeLabel(id+"_"+slot))
		e := graph.NewEntity("StorageNodeValidation", ref)
		e["contract"] = contract
		e["owner"] = acct
		e["nodeSlot"] = slot
		b.contractSubs = append(b.contractSubs, e)
		refs = append(refs, ref)
	}
	return refs, nil
}

// contractExtensions parses "paidBy:amount:start-end" comma groups.
func (t *Transformer) contractExtensions(contract graph.Ref, id, exts string, block uint64, b *Batch) []graph.Ref {
	if exts == "" {
		return nil
	}
	var refs []graph.Ref
	for i, group := range strings.Split(exts, ",") {
		parts := strings.SplitN(group, ":", 3)
		if len(parts) != 3 {
			continue
		}
		start, end, _ := strings.Cut(parts[2], "-")
		ref := graph.Local("ext_" + graph.SanitizeLabel(id) + "_" + itoa(i) + "_" + uitoa(block))
		e := graph.NewEntity("ContractExtension", ref)
		e["contract"] = contract
		e["paidBy"] = graph.Name(parts[0])
		e["amount"] = CoerceInt(parts[1])
		e["startBlock"] = CoerceInt(start)
		e["endBlock"] = CoerceInt(end)
		b.contractSubs = append(b.contractSubs, e)
		refs = append(refs, ref)
	}
	return refs
}

// contractFile emits the ContractFile for one content id and registers
// its path nodes. Files are deduplicated by cid across contracts with
// last-writer-wins by the owning contract's creation block; an older
// contract re-presenting a cid leaves the newer file metadata alone.
func (t *Transformer) contractFile(ctx context.Context, contract graph.Ref, d contractData, parsed *meta.Result, cid string, contractBlock uint64, b *Batch) error {
	fm := parsed.FileByCID(cid)
	if fm == nil {
		fm = &meta.FileMeta{CID: cid, Name: cid, FullPath: "/"}
	}

	ref, seenBlock, err := t.files.get(ctx, cid)
	if err != nil {
		return err
	}
	if contractBlock >= seenBlock {
		e := graph.NewEntity("ContractFile", ref)
		e["cid"] = cid
		e["size"] = CoerceInt(d.files[cid])
		e["name"] = fm.Name
		if fm.Ext != "" {
			e["extension"] = fm.Ext
		}
		e["flags"] = int64(fm.Flags)
		if fm.License != "" {
			e["license"] = fm.License
		}
		if fm.Labels != "" {
			e["labels"] = fm.Labels
		}
		if fm.Thumb != "" {
			e["thumbnail"] = fm.Thumb
		}
		e["path"] = fm.FullPath
		e["contract"] = contract
		e["contractBlockNumber"] = int64(contractBlock)
		b.files = append(b.files, e)
		t.files.mark(cid, contractBlock)
	}

	// hidden files (thumbnails) are stored but never linked into the
	// filesystem tree
	if fm.Hidden() {
		return nil
	}
	t.paths.TouchFile(d.owner, fm.FullPath, fm.Name, ref, contractBlock)
	return nil
}

// contractPurchaser extracts the purchaser from a full contract id
// ("purchaser:type:block-txid"), falling back to the path owner.
func contractPurchaser(id string, path []string) string {
	if i := strings.IndexByte(id, ':'); i > 0 {
		return id[:i]
	}
	if len(path) >= 2 {
		return path[1]
	}
	return ""
}

// contractCreationBlock pulls the block height out of the contract id's
// trailing "block-txid" segment, defaulting to the op's block.
func contractCreationBlock(id string, fallback uint64) uint64 {
	seg := id
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		seg = id[i+1:]
	}
	numStr, _, _ := strings.Cut(seg, "-")
	if n := CoerceInt(numStr); n > 0 {
		return uint64(n)
	}
	return fallback
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
