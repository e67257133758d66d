package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// CanonicalDigest returns a hex SHA-256 over the RFC 8785 canonical form of a
// payload. It is the dedup-key fallback for providers whose deliveries carry
// no native delivery id: redeliveries of the same payload hash identically
// regardless of key ordering.
func CanonicalDigest(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
