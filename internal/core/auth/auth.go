// Package auth provides HMAC-based API key authentication for the control
// plane.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const keyIDKey = contextKey("key_id")

// Queries is the subset of *db.Queries used here.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys against HMAC hashes in control_keys.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets keyed by
// secret id.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		now:     time.Now,
	}
}

// Authenticate validates apiKey and returns its key id.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	var row struct {
		KeyID      string         `db:"key_id"`
		Name       string         `db:"name"`
		LastUsedAt sql.NullString `db:"last_used_at"`
		RevokedAt  sql.NullString `db:"revoked_at"`
	}
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}

	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// Throttled to one write per minute per key.
	now := a.now().UTC()
	if shouldUpdateLastUsed(row.LastUsedAt, now) {
		_, _ = a.queries.Exec(ctx, "update-last-used", now.Format(time.RFC3339), row.KeyID)
	}

	return row.KeyID, nil
}

func shouldUpdateLastUsed(lastUsed sql.NullString, now time.Time) bool {
	if !lastUsed.Valid {
		return true
	}
	t, err := time.Parse(time.RFC3339, lastUsed.String)
	if err != nil {
		return true
	}
	return now.Sub(t) > time.Minute
}

// CreateKey mints a key under secretID, stores its hash and returns the
// key id and the key. Only the hash is kept.
func CreateKey(ctx context.Context, q Queries, name, secretID string, secret []byte) (keyID, key string, err error) {
	key, hash, err := NewAPIKey(secretID, secret)
	if err != nil {
		return "", "", err
	}
	keyID = uuid.Must(uuid.NewV7()).String()
	_, err = q.Exec(ctx, "insert-api-key", keyID, name, secretID, hash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStore, err)
	}
	return keyID, key, nil
}

// RevokeKey marks a key revoked. Revoking twice is not an error.
func RevokeKey(ctx context.Context, q Queries, keyID string) error {
	if _, err := q.Exec(ctx, "revoke-api-key", time.Now().UTC().Format(time.RFC3339), keyID); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// UnaryInterceptor returns a gRPC interceptor that authenticates requests.
// Health checks pass through unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info.FullMethod == "/grpc.health.v1.Health/Check" {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		keyID, err := a.Authenticate(ctx, apiKeys[0])
		switch {
		case err == nil:
		case errors.Is(err, ErrKeyRevoked):
			return nil, status.Error(codes.PermissionDenied, err.Error())
		case errors.Is(err, ErrStore):
			return nil, status.Error(codes.Unavailable, err.Error())
		default:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(context.WithValue(ctx, keyIDKey, keyID), req)
	}
}

// KeyIDFromContext returns the authenticated key id, or "".
func KeyIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(keyIDKey).(string); ok {
		return id
	}
	return ""
}
