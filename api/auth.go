// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/api/restutil"
	"github.com/spknetwork/honeygraph/metrics"
)

// Signed-request headers. The signature is a hex compact signature over
// ChallengeDigest, recoverable to one of the account's registered keys.
const (
	HeaderAccount   = "x-account"
	HeaderSignature = "x-signature"
	HeaderTimestamp = "x-timestamp"
)

// AuthWindow bounds the age of a signed request. Replays outside the
// window are rejected regardless of signature validity.
const AuthWindow = 5 * time.Minute

var metricAuthRejected = metrics.LazyLoadCounterVec("api_auth_rejected_total", []string{"reason"})

// KeyFunc resolves the public keys an account may sign with.
type KeyFunc func(account string) ([]*secp256k1.PublicKey, error)

// StaticKeys builds a KeyFunc from a fixed account to compressed-hex
// pubkey table.
func StaticKeys(table map[string][]string) (KeyFunc, error) {
	keys := make(map[string][]*secp256k1.PublicKey, len(table))
	for account, hexKeys := range table {
		for _, h := range hexKeys {
			raw, err := hex.DecodeString(h)
			if err != nil {
				return nil, errors.Wrapf(err, "decode pubkey for %s", account)
			}
			pub, err := secp256k1.ParsePubKey(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "parse pubkey for %s", account)
			}
			keys[account] = append(keys[account], pub)
		}
	}
	return func(account string) ([]*secp256k1.PublicKey, error) {
		return keys[account], nil
	}, nil
}

// ChallengeDigest is the hash a client signs: the account, the unix
// timestamp and the request body, newline joined.
func ChallengeDigest(account, timestamp string, body []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(account))
	h.Write([]byte{'\n'})
	h.Write([]byte(timestamp))
	h.Write([]byte{'\n'})
	h.Write(body)
	var digest [32]byte
	h.Sum(digest[:0])
	return digest
}

// Auth verifies signed requests from authoring nodes.
type Auth struct {
	keys      KeyFunc
	whitelist map[string]bool
	now       func() time.Time
}

// NewAuth creates the middleware. An empty whitelist admits any account
// whose signature verifies; a non-empty one additionally restricts to
// the listed accounts.
func NewAuth(keys KeyFunc, whitelist []string) *Auth {
	a := &Auth{keys: keys, now: time.Now}
	if len(whitelist) > 0 {
		a.whitelist = make(map[string]bool, len(whitelist))
		for _, account := range whitelist {
			a.whitelist[account] = true
		}
	}
	return a
}

// Handler wraps next with signature verification. The body is read and
// restored so downstream handlers can decode it again.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := r.Header.Get(HeaderAccount)
		sigHex := r.Header.Get(HeaderSignature)
		ts := r.Header.Get(HeaderTimestamp)

		var body []byte
		if r.Body != nil {
			var err error
			if body, err = io.ReadAll(r.Body); err != nil {
				restutil.WriteError(w, errors.New("unreadable body"), http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		if err := a.verify(account, sigHex, ts, body); err != nil {
			status := http.StatusUnauthorized
			reason := "signature"
			if errors.Is(err, errNotWhitelisted) {
				status = http.StatusForbidden
				reason = "whitelist"
			}
			metricAuthRejected().AddWithLabel(1, map[string]string{"reason": reason})
			logger.Warn("request rejected", "account", account, "path", r.URL.Path, "err", err)
			restutil.WriteError(w, err, status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errNotWhitelisted = errors.New("account not authorized")

func (a *Auth) verify(account, sigHex, ts string, body []byte) error {
	if account == "" || sigHex == "" || ts == "" {
		return errors.New("missing auth headers")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("malformed timestamp")
	}
	age := a.now().Sub(time.Unix(unix, 0))
	if age > AuthWindow || age < -AuthWindow {
		return errors.New("timestamp outside auth window")
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return errors.New("malformed signature")
	}
	digest := ChallengeDigest(account, ts, body)
	recovered, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return errors.New("unrecoverable signature")
	}

	keys, err := a.keys(account)
	if err != nil {
		return errors.WithMessage(err, "resolve account keys")
	}
	match := false
	for _, pub := range keys {
		if pub.IsEqual(recovered) {
			match = true
			break
		}
	}
	if !match {
		return errors.New("signature does not match account keys")
	}
	if a.whitelist != nil && !a.whitelist[account] {
		return errNotWhitelisted
	}
	return nil
}
