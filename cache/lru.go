// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package cache provides the LRU cache shape shared by the account cache
// and other read-through maps.
package cache

import lru "github.com/hashicorp/golang-lru"

// LRU extends golang-lru with a loader hook.
type LRU struct {
	*lru.Cache
}

// NewLRU creates an LRU cache. maxSize must be > 0.
func NewLRU(maxSize int) (*LRU, error) {
	c, err := lru.New(maxSize)
	if err != nil {
		return nil, err
	}
	return &LRU{c}, nil
}

// Loader loads the value for key on a cache miss.
type Loader func(key any) (any, error)

// GetOrLoad returns the cached value, invoking loader and caching its
// result on a miss.
func (l *LRU) GetOrLoad(key any, loader Loader) (any, error) {
	if v, ok := l.Get(key); ok {
		return v, nil
	}
	v, err := loader(key)
	if err != nil {
		return nil, err
	}
	l.Add(key, v)
	return v, nil
}
