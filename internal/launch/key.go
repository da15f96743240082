package launch

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// IdempotencyKey derives the provider-level idempotency key for an item:
// the first 32 hex characters of the BLAKE3 digest of the id. Every
// delivery of the same item produces the same key.
func IdempotencyKey(itemID string) string {
	sum := blake3.Sum256([]byte(itemID))
	return hex.EncodeToString(sum[:])[:32]
}

// keyNamespace scopes name-based UUIDs built from idempotency keys.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("launchpad/launch"))

// RequestUUID turns an idempotency key into a stable UUID for providers
// whose request ids must be UUIDs.
func RequestUUID(key string) string {
	return uuid.NewSHA1(keyNamespace, []byte(key)).String()
}
