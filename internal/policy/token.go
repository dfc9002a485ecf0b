package policy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
)

const defaultApprovalSecret = "webbroker-approval-secret"

// ApprovalSecret returns the shared secret used to sign approval tokens,
// honoring the WEB_APPROVAL_SECRET override.
func ApprovalSecret() string {
	if s := os.Getenv("WEB_APPROVAL_SECRET"); s != "" {
		return s
	}
	return defaultApprovalSecret
}

// SignApprovalToken produces the token that authorizes one action digest for
// one session. Binding both fields prevents replaying an approval for a
// different session or action.
func SignApprovalToken(secret, sessionID, actionDigest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s", sessionID, actionDigest)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyApprovalToken reports whether token matches the expected signature
// for the (sessionID, actionDigest) pair.
func VerifyApprovalToken(secret, sessionID, actionDigest, token string) bool {
	return token != "" && token == SignApprovalToken(secret, sessionID, actionDigest)
}
