package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"dealscout/internal/domain"
)

// ComputeDealID computes a deterministic deal_id using SHA256.
// Formula: SHA256(platform|external_id)
// Returns hex-encoded hash (64 characters).
//
// The same listing sighted in different cycles always maps to the same
// deal_id, which is what makes deduplication by key possible.
func ComputeDealID(platform domain.Platform, externalID string) string {
	data := fmt.Sprintf("%s|%s", string(platform), externalID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
