package launch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// CallbackTokenHeader carries the worker's proof that it was launched for
// the item it reports on.
const CallbackTokenHeader = "X-Launch-Token"

// CallbackToken is hex HMAC-SHA256(secret, itemID).
func CallbackToken(secret, itemID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(itemID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallbackToken compares token with the expected one in constant time.
func VerifyCallbackToken(secret, itemID, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	return hmac.Equal([]byte(CallbackToken(secret, itemID)), []byte(token))
}
