// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package worker

import (
	"encoding/binary"
	"time"

	"github.com/qianbin/directcache"
)

// DefaultDedupTTL is how long a processed operation stays suppressed.
// Authoring nodes occasionally replay recent blocks; two hours covers
// every observed replay window.
const DefaultDedupTTL = 2 * time.Hour

const defaultDedupBytes = 8 * 1024 * 1024

// Dedup is the processed-operation set, keyed
// "blockNum:index:type:path". Backed by a fixed-size cache, so memory
// stays bounded and the oldest entries fall out on their own.
type Dedup struct {
	cache *directcache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewDedup creates the set with the default size and TTL.
func NewDedup() *Dedup {
	return &Dedup{
		cache: directcache.New(defaultDedupBytes),
		ttl:   DefaultDedupTTL,
		now:   time.Now,
	}
}

// SetTTL overrides the suppression window. Zero or negative values are
// ignored.
func (d *Dedup) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		d.ttl = ttl
	}
}

// Seen reports whether key was marked within the TTL.
func (d *Dedup) Seen(key string) bool {
	var markedAt int64
	if !d.cache.AdvGet([]byte(key), func(val []byte) {
		if len(val) == 8 {
			markedAt = int64(binary.BigEndian.Uint64(val))
		}
	}, false) {
		return false
	}
	return d.now().Unix()-markedAt < int64(d.ttl/time.Second)
}

// Mark records key as processed now.
func (d *Dedup) Mark(key string) {
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], uint64(d.now().Unix()))
	_ = d.cache.Set([]byte(key), val[:])
}
