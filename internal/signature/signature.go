// Package signature computes the Lightrail-Signature header value for
// outbound webhook calls.
//
// Each of the webhook's secrets produces an HMAC-SHA256 hex digest over the
// JSON-serialized payload; the digests are joined with commas in secret
// order. Receivers verify by computing the HMAC with each secret they know,
// which lets secrets rotate without a verification gap.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Sign serializes payload to JSON once and signs it with every secret.
// Zero secrets yield an empty string.
func Sign(secrets []string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for signing: %w", err)
	}
	return SignBytes(secrets, b), nil
}

// SignBytes signs an already-serialized payload. The bytes must be exactly
// what goes on the wire or receivers cannot verify the digest.
func SignBytes(secrets []string, payload []byte) string {
	if len(secrets) == 0 {
		return ""
	}
	sigs := make([]string, len(secrets))
	for i, secret := range secrets {
		h := hmac.New(sha256.New, []byte(secret))
		h.Write(payload)
		sigs[i] = hex.EncodeToString(h.Sum(nil))
	}
	return strings.Join(sigs, ",")
}
