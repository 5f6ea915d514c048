// Package auth decides whether a caller is an operator. The rest of the
// domain only ever sees the resulting boolean.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrOperatorRequired is returned for operator-only actions attempted by
// anyone else.
var ErrOperatorRequired = errors.New("operator required")

// APIKeyInfo holds the identity of a validated operator API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type operatorKey struct{}

// WithOperator marks ctx as carrying an authenticated operator.
func WithOperator(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, operatorKey{}, info)
}

// OperatorFrom returns the operator key info stored by WithOperator.
func OperatorFrom(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(operatorKey{}).(*APIKeyInfo)
	return info, ok && info != nil
}

// IsOperator reports whether the caller is an operator.
func IsOperator(ctx context.Context) bool {
	_, ok := OperatorFrom(ctx)
	return ok
}

// ActorID returns a stable identifier for logs and events: the key name for
// operators, "customer" otherwise.
func ActorID(ctx context.Context) string {
	if info, ok := OperatorFrom(ctx); ok {
		return info.Name
	}
	return "customer"
}

// HashKey returns the hex-encoded HMAC-SHA256 of key under pepper. Only hashes
// are ever stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
