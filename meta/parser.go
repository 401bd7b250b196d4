// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package meta

import (
	"strings"

	"github.com/spknetwork/honeygraph/spk"
)

// Parse decodes a contract metadata string against the contract's
// content ids, which the caller passes in data-file-map sorted order.
//
// Three recognizers are tried in priority order: the encryption-only
// short form (leading '#', no '|'), the standard form (flag header,
// optional grants, folder declarations, file groups of four), and the
// legacy names-only form. The short form requires a leading '#' and no
// '|' so it is disjoint from the standard grammar in practice. Parse
// never fails: unparseable file groups fall back to name = cid at root.
func Parse(metadata string, cids []string) *Result {
	r := &Result{Folders: map[string]Folder{}}

	if tryShortForm(metadata, cids, r) {
		return r
	}
	if tryStandard(metadata, cids, r) {
		return r
	}
	if tryLegacy(metadata, cids, r) {
		return r
	}

	// best effort: whatever the header was, treat the tail as file groups
	fields := strings.Split(metadata, ",")
	parseFileGroups(fields[1:], cids, r)
	return r
}

// tryShortForm matches metadata that is nothing but encryption grants:
// "#key@alice;#key2@bob". All files live at root.
func tryShortForm(metadata string, cids []string, r *Result) bool {
	if !strings.HasPrefix(metadata, "#") || strings.Contains(metadata, "|") {
		return false
	}
	header := metadata
	if i := strings.IndexByte(metadata, ','); i >= 0 {
		header = metadata[:i]
	}
	if !strings.Contains(header, "@") {
		return false
	}
	r.Encrypted = true
	r.Grants = parseGrants(header)

	rest := ""
	if i := strings.IndexByte(metadata, ','); i >= 0 {
		rest = metadata[i+1:]
	}
	var tail []string
	if rest != "" {
		tail = strings.Split(rest, ",")
	}
	parseFileGroups(tail, cids, r)
	return true
}

// tryStandard matches "<flags>[#grants]|folder|..." headers, or a bare
// flags header when the tail divides evenly into file groups.
func tryStandard(metadata string, cids []string, r *Result) bool {
	fields := strings.Split(metadata, ",")
	header := fields[0]
	rest := fields[1:]

	hasFolders := strings.Contains(header, "|")
	if !hasFolders && len(rest) != 4*len(cids) {
		return false
	}

	parts := strings.Split(header, "|")
	head := parts[0]

	flagsStr := head
	if i := strings.IndexByte(head, '#'); i >= 0 {
		flagsStr = head[:i]
		r.Encrypted = true
		r.Grants = parseGrants(head[i:])
	}
	if flagsStr != "" {
		if v := spk.CharValue(flagsStr[0]); v > 0 {
			r.AutoRenew = v&1 != 0
		}
	}

	userCount := 0
	for _, decl := range parts[1:] {
		if decl == "" {
			continue
		}
		idx, ok := spk.UserFolderIndex(userCount)
		if !ok {
			break
		}
		userCount++

		parentIdx, name := "", decl
		if i := strings.IndexByte(decl, '/'); i >= 0 {
			parentIdx, name = decl[:i], decl[i+1:]
		}
		parentPath := "/"
		if parentIdx != "" {
			parentPath = r.ensureFolder(parentIdx)
		}
		full := parentPath + name
		if parentPath != "/" {
			full = parentPath + "/" + name
		}
		r.Folders[idx] = Folder{Index: idx, Name: name, Parent: parentIdx, FullPath: full}
	}

	parseFileGroups(rest, cids, r)
	return true
}

// tryLegacy matches the oldest form: a bare comma list of file names,
// one per content id, no header.
func tryLegacy(metadata string, cids []string, r *Result) bool {
	if len(cids) == 0 {
		return false
	}
	fields := strings.Split(metadata, ",")
	if len(fields) != len(cids) {
		return false
	}
	for i, cid := range cids {
		name := fields[i]
		if name == "" {
			name = cid
		}
		r.Files = append(r.Files, FileMeta{CID: cid, Name: name, FullPath: "/"})
	}
	return true
}

// parseGrants decodes a ';'-separated list of "#<key>@<user>" grants.
// The first grant may carry the header flags byte prefix.
func parseGrants(s string) []EncGrant {
	var grants []EncGrant
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimPrefix(part, "#")
		at := strings.LastIndexByte(part, '@')
		if at <= 0 || at == len(part)-1 {
			continue
		}
		grants = append(grants, EncGrant{
			EncryptedKey: part[:at],
			Username:     part[at+1:],
		})
	}
	return grants
}

// parseFileGroups walks the comma fields after the header in groups of
// four per cid: name, ext.folderIndex, thumb, flags-license-labels.
func parseFileGroups(fields []string, cids []string, r *Result) {
	for i, cid := range cids {
		base := i * 4
		if base+3 >= len(fields) {
			r.Files = append(r.Files, FileMeta{CID: cid, Name: cid, FullPath: r.defaultPath()})
			continue
		}

		f := FileMeta{
			CID:   cid,
			Name:  fields[base],
			Thumb: fields[base+2],
		}
		if f.Name == "" {
			f.Name = cid
		}

		extIdx := fields[base+1]
		f.Ext = extIdx
		if dot := strings.LastIndexByte(extIdx, '.'); dot >= 0 && len(extIdx)-dot-1 == 1 {
			f.Ext = extIdx[:dot]
			f.FolderIndex = extIdx[dot+1:]
		}

		fll := strings.SplitN(fields[base+3], "-", 3)
		if len(fll) > 0 && fll[0] != "" {
			if v := spk.CharValue(fll[0][0]); v > 0 {
				f.Flags = v
			}
		}
		if len(fll) > 1 {
			f.License = fll[1]
		}
		if len(fll) > 2 {
			f.Labels = fll[2]
		}

		f.FullPath = r.resolveFolder(f.FolderIndex)
		r.Files = append(r.Files, f)
	}
}

// resolveFolder maps a folder index character to its full path. Absent
// indices (and "1" with no user folder declared) resolve to root.
func (r *Result) resolveFolder(index string) string {
	switch index {
	case "":
		return r.defaultPath()
	case spk.RootFolderIndex:
		return "/"
	}
	if f, ok := r.Folders[index]; ok {
		return f.FullPath
	}
	if name, ok := spk.PresetFolders[index]; ok {
		r.Folders[index] = Folder{Index: index, Name: name, FullPath: "/" + name}
		return "/" + name
	}
	return "/"
}

// defaultPath is where files without a folder index live: the first user
// folder when one was declared, otherwise root.
func (r *Result) defaultPath() string {
	if f, ok := r.Folders[spk.FirstUserFolderIndex]; ok {
		return f.FullPath
	}
	return "/"
}

// ensureFolder materializes a referenced folder index, presets included,
// and returns its full path.
func (r *Result) ensureFolder(index string) string {
	return r.resolveFolder(index)
}
