package sas

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("super-secret-device-key"))

func TestTokenAtIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, err := TokenAt(now, "hub.example.net", "d1", testKey, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := TokenAt(now, "hub.example.net", "d1", testKey, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Fatalf("identical inputs produced different tokens:\n%s\n%s", a, b)
	}
}

func TestTokenAtLayout(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tok, err := TokenAt(now, "hub.example.net", "d1", testKey, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(tok, "SharedAccessSignature sr=hub.example.net%2Fdevices%2Fd1&sig=") {
		t.Fatalf("unexpected token prefix: %s", tok)
	}
	wantSuffix := fmt.Sprintf("&se=%d", now.Unix()+3600)
	if !strings.HasSuffix(tok, wantSuffix) {
		t.Fatalf("expected expiry suffix %s, got %s", wantSuffix, tok)
	}
}

func TestTokenAtTTLOnlyChangesExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	oneHour, err := TokenAt(now, "hub.example.net", "d1", testKey, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twoHours, err := TokenAt(now, "hub.example.net", "d1", testKey, 2*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if oneHour == twoHours {
		t.Fatalf("expected different tokens for different ttls")
	}
	// The sr field must be unaffected by the ttl; sig changes because the
	// expiry is part of the signed string.
	srA := fieldValue(t, oneHour, "sr")
	srB := fieldValue(t, twoHours, "sr")
	if srA != srB {
		t.Fatalf("sr changed with ttl: %s vs %s", srA, srB)
	}
	seA := fieldValue(t, oneHour, "se")
	seB := fieldValue(t, twoHours, "se")
	if seA == seB {
		t.Fatalf("se did not change with ttl")
	}
	if seA != fmt.Sprintf("%d", now.Unix()+3600) || seB != fmt.Sprintf("%d", now.Unix()+7200) {
		t.Fatalf("unexpected expiries: %s, %s", seA, seB)
	}
}

func TestTokenRejectsBadKey(t *testing.T) {
	_, err := Token("hub.example.net", "d1", "not base64!!!", time.Hour)
	if err == nil {
		t.Fatalf("expected error for invalid key")
	}
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestUsername(t *testing.T) {
	got := Username("hub.example.net", "d1", "2021-04-12")
	want := "hub.example.net/d1/?api-version=2021-04-12"
	if got != want {
		t.Fatalf("unexpected username: %s", got)
	}
}

func fieldValue(t *testing.T, token, field string) string {
	t.Helper()
	body := strings.TrimPrefix(token, "SharedAccessSignature ")
	for _, kv := range strings.Split(body, "&") {
		if strings.HasPrefix(kv, field+"=") {
			return strings.TrimPrefix(kv, field+"=")
		}
	}
	t.Fatalf("field %s not found in %s", field, token)
	return ""
}
