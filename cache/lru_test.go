// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cache_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/spknetwork/honeygraph/cache"
)

func TestLRUGetOrLoad(t *testing.T) {
	c, err := cache.NewLRU(16)
	assert.Nil(t, err)

	loads := 0
	loader := func(key any) (any, error) {
		loads++
		return key.(string) + "-v", nil
	}

	v, err := c.GetOrLoad("a", loader)
	assert.Nil(t, err)
	assert.Equal(t, "a-v", v)

	v, err = c.GetOrLoad("a", loader)
	assert.Nil(t, err)
	assert.Equal(t, "a-v", v)
	assert.Equal(t, 1, loads)

	_, err = c.GetOrLoad("b", func(any) (any, error) {
		return nil, errors.New("load failed")
	})
	assert.Error(t, err)
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	var s cache.Stats
	s.Hit()
	s.Hit()
	s.Miss()
	changed, hit, miss := s.Stats()
	assert.True(t, changed)
	assert.Equal(t, int64(2), hit)
	assert.Equal(t, int64(1), miss)

	changed, _, _ = s.Stats()
	assert.False(t, changed)
}
