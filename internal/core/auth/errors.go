package auth

import "errors"

// UNAUTHENTICATED for missing/invalid keys (doesn't confirm key existence).
// PERMISSION_DENIED for revoked keys (confirms key exists but blocked).
var (
	ErrMissingKey       = errors.New("API key required in x-api-key metadata")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrStore            = errors.New("key store unavailable")
)
