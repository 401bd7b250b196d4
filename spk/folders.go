// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package spk

// Folder index schedule used by contract metadata:
//
//	"0"      root
//	"1"      first user-declared folder
//	"2".."9" preset folders
//	then the base58 alphabet (O, I, l, 0 omitted) for further user folders.
const (
	RootFolderIndex      = "0"
	FirstUserFolderIndex = "1"
)

// PresetFolders maps the fixed single-character indices to folder names.
var PresetFolders = map[string]string{
	"2": "Documents",
	"3": "Images",
	"4": "Videos",
	"5": "Music",
	"6": "Archives",
	"7": "Code",
	"8": "Trash",
	"9": "Misc",
}

// userFolderAlphabet yields indices for user folders past the first one.
// Digits are excluded (0 is root, 1 the first user folder, 2-9 presets);
// O, I and l are omitted per the base58 convention.
const userFolderAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// UserFolderIndex returns the index character assigned to the n-th
// user-declared folder (0-based). ok is false when the schedule is
// exhausted.
func UserFolderIndex(n int) (string, bool) {
	if n == 0 {
		return FirstUserFolderIndex, true
	}
	n--
	if n >= len(userFolderAlphabet) {
		return "", false
	}
	return string(userFolderAlphabet[n]), true
}
