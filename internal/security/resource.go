package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignResource computes the tamper-evidence signature stored alongside each
// media record. The same secret and parts always produce the same value.
func SignResource(secret string, parts ...string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for i, part := range parts {
		if i > 0 {
			mac.Write([]byte{':'})
		}
		mac.Write([]byte(part))
	}
	return []byte(base64.RawURLEncoding.EncodeToString(mac.Sum(nil)))
}

// VerifyResource checks a stored signature against the record's identity.
func VerifyResource(secret string, signature []byte, parts ...string) bool {
	return hmac.Equal(signature, SignResource(secret, parts...))
}
