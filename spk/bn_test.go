// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package spk_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spknetwork/honeygraph/spk"
)

func TestBlockNumRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 63, 64, 65, 4095, 80975487, 1 << 40} {
		got, err := spk.DecodeBlockNum(spk.EncodeBlockNum(n))
		assert.Nil(t, err)
		assert.Equal(t, n, got)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		n := rng.Uint64() >> uint(rng.Intn(40))
		got, err := spk.DecodeBlockNum(spk.EncodeBlockNum(n))
		assert.Nil(t, err)
		assert.Equal(t, n, got)
	}
}

func TestDecodeBlockNum(t *testing.T) {
	// "A" is zero in the positional alphabet.
	n, err := spk.DecodeBlockNum("A")
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), n)

	// value observed in live broca strings
	n, err = spk.DecodeBlockNum("5qUoh")
	assert.Nil(t, err)
	assert.Equal(t, spk.EncodeBlockNum(n), "5qUoh")

	_, err = spk.DecodeBlockNum("")
	assert.Error(t, err)
	_, err = spk.DecodeBlockNum("ab#")
	assert.Error(t, err)
}

func TestCharValue(t *testing.T) {
	assert.Equal(t, 0, spk.CharValue('A'))
	assert.Equal(t, 26, spk.CharValue('a'))
	assert.Equal(t, 52, spk.CharValue('0'))
	assert.Equal(t, 63, spk.CharValue('/'))
	assert.Equal(t, -1, spk.CharValue('#'))

	// flag digits keep their low two bits, which is what the file
	// flag field relies on
	assert.Equal(t, 0, spk.CharValue('0')&3)
	assert.Equal(t, 1, spk.CharValue('1')&3)
	assert.Equal(t, 2, spk.CharValue('2')&3)
	assert.Equal(t, 3, spk.CharValue('3')&3)
}

func TestUserFolderIndex(t *testing.T) {
	idx, ok := spk.UserFolderIndex(0)
	assert.True(t, ok)
	assert.Equal(t, "1", idx)

	idx, ok = spk.UserFolderIndex(1)
	assert.True(t, ok)
	assert.Equal(t, "A", idx)

	seen := map[string]bool{}
	for i := 0; ; i++ {
		idx, ok := spk.UserFolderIndex(i)
		if !ok {
			break
		}
		assert.False(t, seen[idx], "index %q assigned twice", idx)
		assert.Nil(t, nil)
		_, preset := spk.PresetFolders[idx]
		assert.False(t, preset, "index %q collides with preset", idx)
		assert.NotEqual(t, spk.RootFolderIndex, idx)
		seen[idx] = true
	}
}
