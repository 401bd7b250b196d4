// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package meta decodes the pipe/comma/base64/bitflag-encoded metadata
// string attached to storage contracts.
package meta

// Folder is one directory declared (or preset-referenced) by a
// contract's metadata.
type Folder struct {
	Index    string // single-character folder index
	Name     string
	Parent   string // parent folder index, "" for top level
	FullPath string // absolute path, e.g. "/Images/Vacation"
}

// FileMeta is the decoded per-file metadata of one content id.
type FileMeta struct {
	CID         string
	Name        string
	Ext         string
	FolderIndex string
	Thumb       string
	Flags       int
	License     string
	Labels      string
	FullPath    string // directory the file lives in, "/" for root
}

// Encrypted reports flag bit 0.
func (f *FileMeta) Encrypted() bool { return f.Flags&1 != 0 }

// Hidden reports flag bit 1 (thumbnail/hidden files never get paths).
func (f *FileMeta) Hidden() bool { return f.Flags&2 != 0 }

// EncGrant is one encrypted-key grant of an encrypted contract.
type EncGrant struct {
	EncryptedKey string
	Username     string
}

// Result is the structured form of a contract metadata string. Malformed
// input yields as much of it as was parseable.
type Result struct {
	AutoRenew bool
	Encrypted bool
	Grants    []EncGrant
	Folders   map[string]Folder // by index
	Files     []FileMeta        // in the cid order handed to Parse
}

// FileByCID returns the decoded metadata of cid, or nil.
func (r *Result) FileByCID(cid string) *FileMeta {
	for i := range r.Files {
		if r.Files[i].CID == cid {
			return &r.Files[i]
		}
	}
	return nil
}
