// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package spk

import "github.com/pkg/errors"

// blockAlphabet is the positional base64 alphabet used by authoring nodes
// to pack block numbers into balance strings ("NNN,base64block").
const blockAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var blockAlphabetRev = func() [128]int8 {
	var rev [128]int8
	for i := range rev {
		rev[i] = -1
	}
	for i := 0; i < len(blockAlphabet); i++ {
		rev[blockAlphabet[i]] = int8(i)
	}
	return rev
}()

// EncodeBlockNum encodes n in positional base64. n must be >= 0.
func EncodeBlockNum(n uint64) string {
	if n == 0 {
		return string(blockAlphabet[0])
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = blockAlphabet[n%64]
		n /= 64
	}
	return string(buf[i:])
}

// DecodeBlockNum decodes a positional base64 block number.
func DecodeBlockNum(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty block number")
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 128 || blockAlphabetRev[c] < 0 {
			return 0, errors.Errorf("invalid block number char %q", c)
		}
		n = n*64 + uint64(blockAlphabetRev[c])
	}
	return n, nil
}

// CharValue returns the base64 value of a single alphabet character, or -1.
// Flag bytes in contract metadata are single characters of this alphabet.
func CharValue(c byte) int {
	if c >= 128 {
		return -1
	}
	return int(blockAlphabetRev[c])
}
