// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package feed classifies chain feed entries into transaction
// categories. Parsing is pure: no I/O, no store access.
package feed

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Category buckets a feed entry by what happened on chain.
type Category string

const (
	TokenTransfer Category = "TOKEN_TRANSFER"
	DexOrder      Category = "DEX_ORDER"
	DexTrade      Category = "DEX_TRADE"
	NFTMint       Category = "NFT_MINT"
	NFTTransfer   Category = "NFT_TRANSFER"
	NFTAuction    Category = "NFT_AUCTION"
	NFTSale       Category = "NFT_SALE"
	PowerUp       Category = "POWER_UP"
	PowerDown     Category = "POWER_DOWN"
	StorageUpload Category = "STORAGE_UPLOAD"
	StorageCancel Category = "STORAGE_CANCEL"
	Delegation    Category = "DELEGATION"
	Unknown       Category = "UNKNOWN"
)

// Transaction is a parsed feed entry.
type Transaction struct {
	ID         string // "<blockNum>:<txId>" as received
	BlockNum   uint64
	TxID       string
	Category   Category
	From       string
	To         string
	Amount     int64 // milli-units
	Token      string
	OrderType  string
	NFTID      string
	ContractID string
	Raw        string
}

var (
	reTransfer = regexp.MustCompile(`@([\w.-]+) sent ([\d.]+) (LARYNX|SPK|BROCA) to @([\w.-]+)`)
	reOrder    = regexp.MustCompile(`@([\w.-]+) (?:placed|created) a (buy|sell) order for ([\d.]+) (LARYNX|SPK|BROCA)`)
	reTrade    = regexp.MustCompile(`@([\w.-]+) (bought|sold) ([\d.]+) (LARYNX|SPK|BROCA)(?: from @([\w.-]+))?`)
	rePowerUp  = regexp.MustCompile(`@([\w.-]+) powered up ([\d.]+) ?(LARYNX|SPK|BROCA)?`)
	rePowerDn  = regexp.MustCompile(`@([\w.-]+) powered down ([\d.]+) ?(LARYNX|SPK|BROCA)?`)
	reUpload   = regexp.MustCompile(`@([\w.-]+) (?:uploaded|stored) .*contract ([\w.:@-]+)`)
	reCancel   = regexp.MustCompile(`(?:contract ([\w.:@-]+) )?cancell?ed(?: contract ([\w.:@-]+))?`)
	reNFTMint  = regexp.MustCompile(`@([\w.-]+) minted (?:NFT )?([\w:.-]+)`)
	reNFTXfer  = regexp.MustCompile(`@([\w.-]+) (?:sent|transferred) (?:NFT )?([\w:.-]+) to @([\w.-]+)`)
	reNFTAuct  = regexp.MustCompile(`@([\w.-]+) auctioned (?:NFT )?([\w:.-]+)`)
	reNFTSale  = regexp.MustCompile(`@([\w.-]+) bought (?:NFT )?([\w:.-]+) from @([\w.-]+)`)
	reDelegate = regexp.MustCompile(`@([\w.-]+) delegated ([\d.]+) ?(LARYNX|SPK|BROCA)? to @([\w.-]+)`)
)

// Parse classifies a feed entry. id has the form "<blockNum>:<txId>";
// payload is the message string (structured payloads are stringified by
// the caller). Unknown formats pass through with the raw message kept.
func Parse(id string, payload string) Transaction {
	tx := Transaction{ID: id, Category: Unknown, Raw: payload}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		if n, err := strconv.ParseUint(id[:i], 10, 64); err == nil {
			tx.BlockNum = n
		}
		tx.TxID = id[i+1:]
	}

	// NFT phrasings overlap the token transfer/trade patterns, so they
	// are tried first and gated on the NFT marker.
	isNFT := strings.Contains(payload, "NFT")

	switch {
	case isNFT && match(reNFTXfer, payload, func(m []string) {
		tx.Category, tx.From, tx.NFTID, tx.To = NFTTransfer, m[1], m[2], m[3]
	}):

	case isNFT && match(reNFTSale, payload, func(m []string) {
		tx.Category, tx.From, tx.NFTID, tx.To = NFTSale, m[1], m[2], m[3]
	}):

	case isNFT && match(reNFTAuct, payload, func(m []string) {
		tx.Category, tx.From, tx.NFTID = NFTAuction, m[1], m[2]
	}):

	case isNFT && match(reNFTMint, payload, func(m []string) {
		tx.Category, tx.From, tx.NFTID = NFTMint, m[1], m[2]
	}):

	case match(reTransfer, payload, func(m []string) {
		tx.Category, tx.From, tx.To, tx.Token = TokenTransfer, m[1], m[4], m[3]
		tx.Amount = parseAmount(m[2])
	}):

	case match(reOrder, payload, func(m []string) {
		tx.Category, tx.From, tx.OrderType, tx.Token = DexOrder, m[1], strings.ToUpper(m[2]), m[4]
		tx.Amount = parseAmount(m[3])
	}):

	case match(reTrade, payload, func(m []string) {
		tx.Category, tx.From, tx.Token = DexTrade, m[1], m[4]
		tx.OrderType = strings.ToUpper(m[2])
		tx.Amount = parseAmount(m[3])
		if len(m) > 5 {
			tx.To = m[5]
		}
	}):

	case match(rePowerUp, payload, func(m []string) {
		tx.Category, tx.From, tx.Token = PowerUp, m[1], m[3]
		tx.Amount = parseAmount(m[2])
	}):

	case match(rePowerDn, payload, func(m []string) {
		tx.Category, tx.From, tx.Token = PowerDown, m[1], m[3]
		tx.Amount = parseAmount(m[2])
	}):

	case match(reDelegate, payload, func(m []string) {
		tx.Category, tx.From, tx.Token, tx.To = Delegation, m[1], m[3], m[4]
		tx.Amount = parseAmount(m[2])
	}):

	case match(reUpload, payload, func(m []string) {
		tx.Category, tx.From, tx.ContractID = StorageUpload, m[1], m[2]
	}):

	case strings.Contains(payload, "cancel") && match(reCancel, payload, func(m []string) {
		tx.Category = StorageCancel
		if m[1] != "" {
			tx.ContractID = m[1]
		} else {
			tx.ContractID = m[2]
		}
	}):
	}

	return tx
}

// match applies re and, on a hit, hands the submatches to fn.
func match(re *regexp.Regexp, s string, fn func([]string)) bool {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	fn(m)
	return true
}

// parseAmount converts a "1.234" token amount into milli-units.
func parseAmount(s string) int64 {
	whole, frac, _ := strings.Cut(s, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	n *= 1000
	if frac != "" {
		for len(frac) < 3 {
			frac += "0"
		}
		if f, err := strconv.ParseInt(frac[:3], 10, 64); err == nil {
			n += f
		}
	}
	return n
}

// FeedID builds the canonical feed identifier.
func FeedID(blockNum uint64, txID string) string {
	return fmt.Sprintf("%d:%s", blockNum, txID)
}
