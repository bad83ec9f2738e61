// Package sas builds time-bounded shared-access credentials for device
// authentication against the ingestion endpoint.
package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrInvalidKey reports a device key that is not valid base64. Retrying with
// the same key will never help.
var ErrInvalidKey = errors.New("device key is not valid base64")

// Token builds a SharedAccessSignature for device-scoped auth, valid for ttl
// from now.
func Token(host, deviceID, keyBase64 string, ttl time.Duration) (string, error) {
	return TokenAt(time.Now(), host, deviceID, keyBase64, ttl)
}

// TokenAt is Token with an explicit issue time. The layout is a wire
// contract with the authentication endpoint:
//
//	SharedAccessSignature sr=<resource>&sig=<signature>&se=<expiry>
//
// where sr is the URL-encoded "{host}/devices/{deviceID}" resource, sig the
// URL-encoded base64 HMAC-SHA256 of "{sr}\n{se}" under the decoded key, and
// se the unix expiry. Deterministic for a fixed now.
func TokenAt(now time.Time, host, deviceID, keyBase64 string, ttl time.Duration) (string, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	expiry := now.Unix() + int64(ttl/time.Second)
	resource := url.QueryEscape(fmt.Sprintf("%s/devices/%s", host, deviceID))

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s\n%d", resource, expiry)
	signature := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d", resource, signature, expiry), nil
}

// Username returns the connection username the ingestion endpoint expects.
func Username(host, deviceID, apiVersion string) string {
	return fmt.Sprintf("%s/%s/?api-version=%s", host, deviceID, apiVersion)
}
