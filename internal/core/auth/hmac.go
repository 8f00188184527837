package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	keyPrefix  = "tw"
	keyVersion = "v1"
)

// ParseAPIKey extracts secret_id and random_data from API key format.
// Format: tw-v1-<secret_id>-<random_data>, secret_id 32 hex chars,
// random_data 64 hex chars.
func ParseAPIKey(key string) (secretID, randomData string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 4 || parts[0] != keyPrefix || parts[1] != keyVersion {
		return "", "", ErrInvalidKeyFormat
	}

	secretID, randomData = parts[2], parts[3]
	if len(secretID) != 32 || len(randomData) != 64 {
		return "", "", ErrInvalidKeyFormat
	}
	for _, c := range secretID + randomData {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", "", ErrInvalidKeyFormat
		}
	}

	return secretID, randomData, nil
}

// FormatAPIKey constructs API key from components.
func FormatAPIKey(secretID, randomData string) string {
	return fmt.Sprintf("%s-%s-%s-%s", keyPrefix, keyVersion, secretID, randomData)
}

// NewAPIKey mints a key bound to secretID and returns it with the hash to
// store. The key itself is never persisted.
func NewAPIKey(secretID string, secret []byte) (key string, hash []byte, err error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	key = FormatAPIKey(secretID, hex.EncodeToString(random))
	if _, _, err := ParseAPIKey(key); err != nil {
		return "", nil, fmt.Errorf("secret id %q: %w", secretID, err)
	}
	return key, ComputeHMAC(secret, key), nil
}

// ComputeHMAC computes HMAC-SHA256 signature of API key using secret.
func ComputeHMAC(secret []byte, apiKey string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(apiKey))
	return h.Sum(nil)
}
