package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/domain/auth"
	"github.com/xenking/wholesale-orders/internal/domain/user"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

type userIDKey struct{}

// UserIDFromContext returns the authenticated user id, or "" outside an
// authenticated request.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys
// and lets only approved accounts through.
type SecurityHandler struct {
	apikeys auth.Repository
	users   user.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, users user.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		users:   users,
		pepper:  pepper,
	}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in
// api_keys.key_hash.
func HashKey(pepper []byte, key string) string {
	return hex.EncodeToString(keyDigest(pepper, key))
}

// keyDigest is the single definition of the stored key digest.
func keyDigest(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

var (
	errUnauthorized = errors.New("unauthorized")
	errNotApproved  = errors.New("account pending approval")
)

// Authenticate resolves an API key to an approved user.
func (s *SecurityHandler) Authenticate(ctx context.Context, key string) (*user.User, error) {
	if key == "" {
		return nil, errUnauthorized
	}

	hash := keyDigest(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			zctx.From(ctx).Error("API key lookup failed", zap.Error(err))
		}
		return nil, errUnauthorized
	}

	storedBytes, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
		return nil, errUnauthorized
	}

	u, err := s.users.GetByID(ctx, info.UserID)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			zctx.From(ctx).Error("API key owner lookup failed", zap.Error(err))
		}
		return nil, errUnauthorized
	}
	if !u.Approved {
		return nil, errNotApproved
	}

	return u, nil
}

// Middleware rejects unauthenticated requests and stores the user id in the
// request context.
func (s *SecurityHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		u, err := s.Authenticate(ctx, r.Header.Get(APIKeyHeader))
		switch {
		case errors.Is(err, errNotApproved):
			writeError(w, http.StatusForbidden, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx = WithUserID(ctx, u.ID)
		ctx = zctx.With(ctx, zap.String("user_id", u.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
