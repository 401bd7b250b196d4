// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package spk holds protocol-level constants of the SPK sidechain:
// contract status codes, token/market mappings, the positional base64
// block-number codec and the folder-index alphabet used by contract
// metadata.
package spk

// ContractStatus is the lifecycle code carried by a storage contract.
type ContractStatus int

const (
	StatusPending    ContractStatus = 0
	StatusUploading  ContractStatus = 1
	StatusProcessing ContractStatus = 2
	StatusActive     ContractStatus = 3
	StatusExpired    ContractStatus = 4
	StatusCancelled  ContractStatus = 5
)

// String returns the canonical name of the status code.
func (s ContractStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusUploading:
		return "UPLOADING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusActive:
		return "ACTIVE"
	case StatusExpired:
		return "EXPIRED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// File flag bits as packed into the fourth metadata field.
const (
	FileFlagEncrypted = 1 << 0
	FileFlagHidden    = 1 << 1 // hidden/thumbnail, never linked into paths
)

// Tokens traded on the sidechain DEX.
const (
	TokenLarynx = "LARYNX"
	TokenSpk    = "SPK"
	TokenBroca  = "BROCA"
)

// Quote currencies.
const (
	QuoteHBD  = "HBD"
	QuoteHive = "HIVE"
)

// dexPrefixes maps the state-path prefix to the traded token.
var dexPrefixes = map[string]string{
	"dex":  TokenLarynx,
	"dexs": TokenSpk,
	"dexb": TokenBroca,
}

// TokenForDexPrefix resolves a dex state-path prefix (dex, dexs, dexb)
// to its token symbol. ok is false for anything else.
func TokenForDexPrefix(prefix string) (token string, ok bool) {
	token, ok = dexPrefixes[prefix]
	return
}

// MarketKey builds the canonical market identifier, e.g. "LARYNX:HBD".
func MarketKey(token, quote string) string {
	return token + ":" + quote
}
