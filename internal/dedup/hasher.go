package dedup

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"eventhub/internal/constants"
)

// Hasher computes the content fingerprint of an event payload.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// HashPayload fingerprints the payload. json.Marshal sorts map keys,
// so equal payloads always produce equal hashes.
func (h *Hasher) HashPayload(payload map[string]interface{}) (string, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload for hashing: %w", err)
	}

	switch h.algorithm {
	case constants.HashAlgorithmSHA256:
		sum := sha256.Sum256(input)
		return hex.EncodeToString(sum[:]), nil
	case constants.HashAlgorithmMD5:
		sum := md5.Sum(input)
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := sha256.Sum256(input)
		return hex.EncodeToString(sum[:]), nil
	}
}
