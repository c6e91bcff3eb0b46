package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const rejectedKeyPrefix = "rejected:"

// DedupKeyDeriver builds the idempotency key for a delivery: the provider
// event id when present, otherwise a keyed hash of the raw payload.
type DedupKeyDeriver struct {
	HashKey []byte
}

func NewDedupKeyDeriver(hashKey string) DedupKeyDeriver {
	return DedupKeyDeriver{HashKey: []byte(hashKey)}
}

func (d DedupKeyDeriver) Derive(provider string, externalEventID string, rawPayload []byte) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if eventID := strings.TrimSpace(externalEventID); eventID != "" {
		return provider + ":" + eventID
	}
	mac := hmac.New(sha256.New, d.HashKey)
	_, _ = mac.Write(rawPayload)
	return provider + ":hmac:" + hex.EncodeToString(mac.Sum(nil))
}

// RejectedDedupKey keys an audit record for a rejected delivery. It never
// collides with a real dedup key, so a forged payload cannot claim one.
func RejectedDedupKey(provider string, eventID string) string {
	return rejectedKeyPrefix + strings.ToLower(strings.TrimSpace(provider)) + ":" + strings.TrimSpace(eventID)
}

func IsRejectedDedupKey(key string) bool {
	return strings.HasPrefix(strings.TrimSpace(key), rejectedKeyPrefix)
}
