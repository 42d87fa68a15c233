package idempotency

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// keyBucket is the granularity of the timestamp in derived keys.
const keyBucket = time.Minute

// DeriveKey builds a key from a scope, the current minute, a hash of the
// payload and a random suffix:
//
//	scope:20250314T1530:9f2c1a7b3d4e5f60:1b4e28ba
//
// Different payloads, or calls in different minutes, almost certainly get
// different keys. Callers that mean "the same logical operation" must
// pass the same key explicitly; DeriveKey never returns the same key twice.
//
// The xxhash is a fast deduplication hint and not a security boundary.
func DeriveKey(scopeID string, payload any) string {
	return deriveKey(time.Now(), scopeID, payload, uuid.New())
}

func deriveKey(now time.Time, scopeID string, payload any, suffix uuid.UUID) string {
	bucket := now.UTC().Truncate(keyBucket).Format("20060102T1504")
	return fmt.Sprintf("%s:%s:%s:%s", scopeID, bucket, PayloadHash(payload), hex.EncodeToString(suffix[:4]))
}

// PayloadHash returns the 16-hex-digit xxhash of the payload's JSON
// encoding. Payloads that cannot be encoded hash their %v form.
func PayloadHash(payload any) string {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", p))
		}
		data = encoded
	}

	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
