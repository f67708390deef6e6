package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// VerifySignature checks header against HMAC-SHA256(secret, body). body must
// be the exact bytes received. An empty secret disables the check.
func VerifySignature(body []byte, secret, header string) error {
	if secret == "" {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrSignatureMalformed
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil || len(got) != sha256.Size {
		return ErrSignatureMalformed
	}
	if !hmac.Equal(got, Sign(body, secret)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 digest of body.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeaderValue formats a digest the way the provider sends it.
func SignatureHeaderValue(body []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(Sign(body, secret))
}
