package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/auth"
)

// APIKeyHeader carries the operator API key. "Authorization: Bearer <key>"
// is accepted as well.
const APIKeyHeader = "X-API-Key"

// SecurityHandler authenticates operators via HMAC-SHA256 hashed API keys.
// Requests without a key proceed as customers; a presented but unknown key
// is rejected.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{apikeys: apikeys, pepper: pepper}
}

// Middleware marks the request context with the operator identity.
func (s *SecurityHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := presentedKey(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		info, ok := s.authenticate(r, key)
		if !ok {
			writeError(w, r, errUnauthorized)
			return
		}
		ctx := auth.WithOperator(r.Context(), info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate looks the key up by hash, then compares in constant time in
// case the repository returned a different row.
func (s *SecurityHandler) authenticate(r *http.Request, key string) (*auth.APIKeyInfo, bool) {
	if s.apikeys == nil {
		return nil, false
	}
	hexHash := auth.HashKey(s.pepper, key)
	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		zctx.From(r.Context()).Debug("API key rejected", zap.Error(err))
		return nil, false
	}
	want, err := hex.DecodeString(hexHash)
	if err != nil {
		return nil, false
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, false
	}
	if subtle.ConstantTimeCompare(want, stored) != 1 {
		return nil, false
	}
	return info, true
}

func presentedKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(APIKeyHeader)); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
