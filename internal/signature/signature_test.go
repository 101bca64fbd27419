package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func hmacHex(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func TestSignBytes(t *testing.T) {
	payload := []byte(`{"id":"evt-1","type":"lightrail.transaction.created"}`)

	t.Run("single secret", func(t *testing.T) {
		got := SignBytes([]string{"SECRET1"}, payload)
		want := hmacHex("SECRET1", payload)
		if got != want {
			t.Errorf("SignBytes() = %q, want %q", got, want)
		}
		if len(got) != 64 {
			t.Errorf("digest length = %d, want 64 hex chars", len(got))
		}
	})

	t.Run("multiple secrets join with comma in order", func(t *testing.T) {
		got := SignBytes([]string{"SECRET1", "SECRET2"}, payload)
		parts := strings.Split(got, ",")
		if len(parts) != 2 {
			t.Fatalf("expected 2 signatures, got %d", len(parts))
		}
		if parts[0] != hmacHex("SECRET1", payload) {
			t.Errorf("first signature does not match first secret")
		}
		if parts[1] != hmacHex("SECRET2", payload) {
			t.Errorf("second signature does not match second secret")
		}
	})

	t.Run("no secrets", func(t *testing.T) {
		if got := SignBytes(nil, payload); got != "" {
			t.Errorf("SignBytes(nil) = %q, want empty", got)
		}
	})

	t.Run("different payloads differ", func(t *testing.T) {
		a := SignBytes([]string{"SECRET1"}, []byte(`{"a":1}`))
		b := SignBytes([]string{"SECRET1"}, []byte(`{"a":2}`))
		if a == b {
			t.Error("signatures for different payloads must differ")
		}
	})
}

func TestSign(t *testing.T) {
	payload := map[string]string{"id": "evt-1"}

	got, err := Sign([]string{"SECRET1"}, payload)
	if err != nil {
		t.Fatal(err)
	}
	want := hmacHex("SECRET1", []byte(`{"id":"evt-1"}`))
	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}

	if _, err := Sign([]string{"SECRET1"}, make(chan int)); err == nil {
		t.Error("expected error for unmarshalable payload")
	}
}
