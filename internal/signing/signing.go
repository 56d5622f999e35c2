// Package signing implements the HMAC request-signing protocol used to
// authenticate mutating API calls. The caller's plaintext API key doubles as
// the HMAC secret, so a valid signature proves both request integrity and
// possession of the key without the key acting as a plain bearer token.
//
// Signer and verifier must agree on every constant here: SHA-256, the
// pipe-delimited canonical payload, millisecond timestamps, and the
// five-minute freshness window.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Header names are part of the wire contract and must not change.
const (
	HeaderAPIKey    = "x-api-key"
	HeaderSignature = "x-r1-signature"
	HeaderTimestamp = "x-r1-timestamp"
)

// FreshnessWindow is the maximum allowed difference between a request's
// declared timestamp and the verifier's clock, in either direction. Requests
// outside the window are rejected regardless of signature validity.
const FreshnessWindow = 5 * time.Minute

// Compute returns the lowercase hex HMAC-SHA256 signature over the canonical
// request payload. The payload is the uppercased method, the path with the
// query string excluded, the raw body (a missing body canonicalizes to the
// empty string), the millisecond timestamp, and the secret itself, joined
// with pipes. Deterministic: the verifier recomputes and compares.
func Compute(method, path string, body []byte, timestampMillis int64, secret string) string {
	payload := strings.Join([]string{
		strings.ToUpper(method),
		path,
		string(body),
		strconv.FormatInt(timestampMillis, 10),
		secret,
	}, "|")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a supplied signature and timestamp header against the actual
// request method, path, and body. It fails if either header is absent or
// malformed, if the timestamp falls outside the freshness window relative to
// now, or if the recomputed signature does not match. The comparison is
// constant-time; a short-circuiting equality check would leak signature
// bytes through timing.
func Verify(method, path string, body []byte, signatureHex, timestampHeader, secret string, now time.Time) bool {
	if signatureHex == "" || timestampHeader == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false
	}

	skew := now.UnixMilli() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > FreshnessWindow.Milliseconds() {
		return false
	}

	supplied, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(Compute(method, path, body, ts, secret))
	if err != nil {
		return false
	}
	return hmac.Equal(supplied, expected)
}

// Sign is the client-side helper: it computes a signature for an outgoing
// request using the current time and returns the headers to attach.
func Sign(method, path string, body []byte, secret string) map[string]string {
	ts := time.Now().UnixMilli()
	return map[string]string{
		HeaderSignature: Compute(method, path, body, ts, secret),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
	}
}
