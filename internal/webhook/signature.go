package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// SignatureHeaders are checked in order; the first present one is used.
var SignatureHeaders = []string{
	"X-Yalidine-Signature",
	"X-Webhook-Signature",
	"X-Signature",
	"X-Hub-Signature-256",
}

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("invalid webhook signature")
)

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the request signature against the raw body in
// constant time. An optional "sha256=" prefix is accepted.
func VerifySignature(secret string, body []byte, h http.Header) error {
	var got string
	for _, name := range SignatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			got = v
			break
		}
	}
	if got == "" {
		return ErrMissingSignature
	}
	got = strings.TrimPrefix(got, "sha256=")
	sig, err := hex.DecodeString(strings.ToLower(got))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
