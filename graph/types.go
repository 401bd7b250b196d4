// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package graph

import "strings"

// RefKind discriminates the three reference forms an entity field can
// carry before a batch commits.
type RefKind int

const (
	// RefLocal is a deferred identifier (blank node) resolved by the
	// store on commit. It must appear in the same commit as its target.
	RefLocal RefKind = iota
	// RefStored is an identifier already resolved by the store.
	RefStored
	// RefName refers to an account by username; the transformer resolves
	// it to a local or stored ref before emission.
	RefName
)

// Ref is a tagged reference to another entity.
type Ref struct {
	kind  RefKind
	value string
}

// Local creates a deferred (blank node) reference.
func Local(label string) Ref { return Ref{RefLocal, label} }

// Stored creates a reference to an already stored uid.
func Stored(uid string) Ref { return Ref{RefStored, uid} }

// Name creates a by-username reference, to be resolved before emission.
func Name(username string) Ref { return Ref{RefName, username} }

// Kind returns the reference kind.
func (r Ref) Kind() RefKind { return r.kind }

// Value returns the raw label, uid or username.
func (r Ref) Value() string { return r.value }

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool { return r.value == "" }

// UID renders the reference in mutation form: "_:label" for local refs,
// the uid for stored ones. Name refs have no mutation form.
func (r Ref) UID() string {
	switch r.kind {
	case RefLocal:
		return "_:" + r.value
	case RefStored:
		return r.value
	}
	return ""
}

// MarshalJSON renders the reference as an edge, {"uid": ...}.
func (r Ref) MarshalJSON() ([]byte, error) {
	return []byte(`{"uid":"` + r.UID() + `"}`), nil
}

// Entity is one node of a mutation batch. The "uid" field holds the
// rendered reference string, edge fields hold Refs or Ref slices.
type Entity map[string]any

// NewEntity creates an entity of the given dgraph type identified by ref.
func NewEntity(typ string, ref Ref) Entity {
	return Entity{
		"uid":         ref.UID(),
		"dgraph.type": typ,
	}
}

// Type returns the entity's dgraph type, if set.
func (e Entity) Type() string {
	t, _ := e["dgraph.type"].(string)
	return t
}

// SanitizeLabel makes s usable as a blank-node label by replacing every
// non-alphanumeric character with '_'. The original value is unchanged;
// only the label is rewritten.
func SanitizeLabel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
