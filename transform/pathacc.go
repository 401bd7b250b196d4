// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transform

import (
	"sort"
	"strings"
	"sync"

	"github.com/spknetwork/honeygraph/graph"
)

// PathAccumulator keeps the per-owner filesystem tree across batches so
// that successive contracts appending files to the same directory
// accumulate instead of overwriting each other's item counts. It is
// written during transform and frozen while mutations are emitted.
type PathAccumulator struct {
	mu     sync.Mutex
	owners map[string]map[string]*pathNode // owner -> fullPath -> node
	dirty  map[string]map[string]bool      // touched this batch
	frozen bool
}

type pathNode struct {
	owner    string
	fullPath string
	name     string
	isDir    bool
	ref      graph.Ref
	parent   string // parent fullPath, "" for the root node itself

	files    []graph.Ref // accumulated content refs, directories only
	fileSet  map[string]bool
	current  graph.Ref // newest content ref by owning contract block
	curBlock uint64
	hidden   bool
}

// NewPathAccumulator creates an empty accumulator.
func NewPathAccumulator() *PathAccumulator {
	return &PathAccumulator{
		owners: make(map[string]map[string]*pathNode),
		dirty:  make(map[string]map[string]bool),
	}
}

// StartBatch opens the accumulator for a new batch. Prior state is
// kept; only the per-batch touched set is reset.
func (p *PathAccumulator) StartBatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = false
	p.dirty = make(map[string]map[string]bool)
}

// EndBatch freezes the accumulator. Writes after EndBatch are rejected
// until the next StartBatch.
func (p *PathAccumulator) EndBatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = true
}

// RegisterPath ensures a directory node (and its ancestors) for the
// owner and returns its reference.
func (p *PathAccumulator) RegisterPath(owner, fullPath string) graph.Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		logger.Warn("path accumulator write after freeze", "owner", owner, "path", fullPath)
		return graph.Ref{}
	}
	return p.ensureDir(owner, fullPath).ref
}

// AddFileToPath records a content ref under a directory. The set is
// deduplicated by the ref's rendered id.
func (p *PathAccumulator) AddFileToPath(owner, dirPath string, file graph.Ref) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		logger.Warn("path accumulator write after freeze", "owner", owner, "path", dirPath)
		return
	}
	node := p.ensureDir(owner, dirPath)
	id := file.UID()
	if node.fileSet[id] {
		return
	}
	node.fileSet[id] = true
	node.files = append(node.files, file)
}

// TouchFile ensures the file path node dirPath/name, points it (and its
// directory) at the given content ref when the owning contract block is
// the newest seen, and accumulates the ref under the directory. Hidden
// files are never materialized as path nodes; callers skip them.
func (p *PathAccumulator) TouchFile(owner, dirPath, name string, file graph.Ref, block uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		logger.Warn("path accumulator write after freeze", "owner", owner, "path", dirPath)
		return
	}

	dir := p.ensureDir(owner, dirPath)
	id := file.UID()
	if !dir.fileSet[id] {
		dir.fileSet[id] = true
		dir.files = append(dir.files, file)
	}
	if block >= dir.curBlock {
		dir.current, dir.curBlock = file, block
	}

	full := joinPath(dirPath, name)
	node := p.ensure(owner, full, false)
	if block >= node.curBlock {
		node.current, node.curBlock = file, block
	}
	p.markDirty(owner, full)
}

// GetPathFiles returns the accumulated content refs for a directory, in
// insertion order. The slice is a copy.
func (p *PathAccumulator) GetPathFiles(owner, dirPath string) []graph.Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	tree, ok := p.owners[owner]
	if !ok {
		return nil
	}
	node, ok := tree[dirPath]
	if !ok {
		return nil
	}
	out := make([]graph.Ref, len(node.files))
	copy(out, node.files)
	return out
}

// Emit appends Path entities for every node touched this batch, plus
// their ancestors, with item counts recomputed. ownerRef resolves the
// owner's account reference. Emit is called between EndBatch and the
// commit, so the tree is stable while it runs.
func (p *PathAccumulator) Emit(b *Batch, ownerRef func(owner string) graph.Ref) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for owner, touched := range p.dirty {
		tree := p.owners[owner]

		// ancestors of every touched node are re-emitted too, their
		// item counts may have changed
		emit := make(map[string]bool)
		for full := range touched {
			for {
				emit[full] = true
				node, ok := tree[full]
				if !ok || node.parent == "" && full == "/" {
					break
				}
				if full == "/" {
					break
				}
				full = node.parent
			}
		}

		paths := make([]string, 0, len(emit))
		for full := range emit {
			paths = append(paths, full)
		}
		sort.Strings(paths)

		acct := ownerRef(owner)
		for _, full := range paths {
			node := tree[full]
			if node == nil {
				continue
			}
			b.paths = append(b.paths, p.entity(tree, node, acct))
		}
	}
}

// Resolve rewrites local refs to stored uids after a successful commit,
// using the store's blank-node assignment map.
func (p *PathAccumulator) Resolve(uids map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tree := range p.owners {
		for _, node := range tree {
			if node.ref.Kind() == graph.RefLocal {
				if uid, ok := uids[node.ref.Value()]; ok {
					node.ref = graph.Stored(uid)
				}
			}
		}
	}
}

func (p *PathAccumulator) entity(tree map[string]*pathNode, node *pathNode, acct graph.Ref) graph.Entity {
	e := graph.NewEntity("Path", node.ref)
	e["owner"] = acct
	e["fullPath"] = node.fullPath
	e["pathName"] = node.name
	if node.isDir {
		e["pathType"] = "directory"
		e["itemCount"] = p.itemCount(tree, node)
		var children []graph.Ref
		for _, child := range p.children(tree, node) {
			children = append(children, child.ref)
		}
		if len(children) > 0 {
			e["children"] = children
		}
	} else {
		e["pathType"] = "file"
	}
	if !node.current.IsZero() {
		e["currentFile"] = node.current
		e["newestBlockNumber"] = int64(node.curBlock)
	}
	if node.parent != "" || node.fullPath != "/" {
		if parent, ok := tree[node.parent]; ok {
			e["parent"] = parent.ref
		}
	}
	return e
}

// itemCount is the number of direct file children when any exist,
// otherwise the number of direct subdirectories. Hidden entries are
// never counted because they are never materialized.
func (p *PathAccumulator) itemCount(tree map[string]*pathNode, node *pathNode) int {
	var files, dirs int
	for _, child := range p.children(tree, node) {
		if child.isDir {
			dirs++
		} else {
			files++
		}
	}
	if files > 0 {
		return files
	}
	return dirs
}

func (p *PathAccumulator) children(tree map[string]*pathNode, node *pathNode) []*pathNode {
	var out []*pathNode
	for _, cand := range tree {
		if cand != node && cand.parent == node.fullPath {
			out = append(out, cand)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fullPath < out[j].fullPath })
	return out
}

// ensureDir creates the directory node and every missing ancestor.
func (p *PathAccumulator) ensureDir(owner, fullPath string) *pathNode {
	node := p.ensure(owner, fullPath, true)
	p.markDirty(owner, fullPath)
	return node
}

func (p *PathAccumulator) ensure(owner, fullPath string, isDir bool) *pathNode {
	tree, ok := p.owners[owner]
	if !ok {
		tree = make(map[string]*pathNode)
		p.owners[owner] = tree
	}
	if node, ok := tree[fullPath]; ok {
		return node
	}

	node := &pathNode{
		owner:    owner,
		fullPath: fullPath,
		name:     baseName(fullPath),
		isDir:    isDir,
		ref:      graph.Local("path_" + graph.SanitizeLabel(owner+"_"+fullPath)),
		fileSet:  make(map[string]bool),
	}
	if fullPath != "/" {
		node.parent = parentPath(fullPath)
		// ancestors are always directories
		p.ensure(owner, node.parent, true)
		p.markDirty(owner, node.parent)
	}
	tree[fullPath] = node
	return node
}

func (p *PathAccumulator) markDirty(owner, fullPath string) {
	set, ok := p.dirty[owner]
	if !ok {
		set = make(map[string]bool)
		p.dirty[owner] = set
	}
	set[fullPath] = true
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func parentPath(full string) string {
	i := strings.LastIndexByte(full, '/')
	if i <= 0 {
		return "/"
	}
	return full[:i]
}

func baseName(full string) string {
	if full == "/" {
		return "/"
	}
	i := strings.LastIndexByte(full, '/')
	return full[i+1:]
}
