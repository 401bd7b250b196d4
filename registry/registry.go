// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package registry tracks the networks this node replicates. Each
// network is one token community identified by its state prefix (e.g.
// "spkccT_") with its own store namespace and schema extensions. The
// roster is one JSON document on disk, rewritten atomically.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/log"
)

var logger = log.WithContext("pkg", "registry")

// Network is one registered token network.
type Network struct {
	Prefix      string    `json:"prefix"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	APIEndpoint string    `json:"apiEndpoint,omitempty"`
	StartBlock  uint64    `json:"startBlock,omitempty"`
	Tokens      []string  `json:"tokens,omitempty"`
	ExtraSchema string    `json:"extraSchema,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type document struct {
	Networks map[string]*Network `json:"networks"`
}

// Registry is the network roster.
type Registry struct {
	mu       sync.RWMutex
	path     string
	networks map[string]*Network
}

// Open loads the roster at path, creating an empty one when the file
// does not exist.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, networks: make(map[string]*Network)}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, errors.WithMessage(err, "read registry")
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.WithMessage(err, "decode registry")
	}
	if doc.Networks != nil {
		r.networks = doc.Networks
	}
	logger.Info("registry loaded", "networks", len(r.networks))
	return r, nil
}

// Register adds a network. The prefix is the identity; registering an
// existing prefix fails.
func (r *Registry) Register(n Network) error {
	if err := validatePrefix(n.Prefix); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.networks[n.Prefix]; ok {
		return errors.Errorf("network %s already registered", n.Prefix)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	r.networks[n.Prefix] = &n
	if err := r.save(); err != nil {
		delete(r.networks, n.Prefix)
		return err
	}
	logger.Info("network registered", "prefix", n.Prefix, "name", n.Name)
	return nil
}

// Update replaces an existing network's record.
func (r *Registry) Update(n Network) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.networks[n.Prefix]
	if !ok {
		return errors.Errorf("network %s not registered", n.Prefix)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = old.CreatedAt
	}
	r.networks[n.Prefix] = &n
	if err := r.save(); err != nil {
		r.networks[n.Prefix] = old
		return err
	}
	return nil
}

// Remove drops a network from the roster. Stored data is untouched.
func (r *Registry) Remove(prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.networks[prefix]
	if !ok {
		return errors.Errorf("network %s not registered", prefix)
	}
	delete(r.networks, prefix)
	if err := r.save(); err != nil {
		r.networks[prefix] = old
		return err
	}
	logger.Info("network removed", "prefix", prefix)
	return nil
}

// Get returns a copy of the network for prefix.
func (r *Registry) Get(prefix string) (Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.networks[prefix]
	if !ok {
		return Network{}, false
	}
	return *n, true
}

// List returns every network, ordered by prefix.
func (r *Registry) List() []Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

// save writes the document atomically; callers hold the lock.
func (r *Registry) save() error {
	raw, err := json.MarshalIndent(document{Networks: r.networks}, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func validatePrefix(prefix string) error {
	if prefix == "" {
		return errors.New("empty network prefix")
	}
	if !strings.HasSuffix(prefix, "_") {
		return errors.Errorf("network prefix %q must end with '_'", prefix)
	}
	for i := 0; i < len(prefix)-1; i++ {
		c := prefix[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			continue
		}
		return errors.Errorf("network prefix %q has invalid characters", prefix)
	}
	return nil
}
