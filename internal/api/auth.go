package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"

	"wasmscan/internal/models"
)

type contextKey string

const accountContextKey contextKey = "account"

func accountFrom(ctx context.Context) *models.Account {
	acct, _ := ctx.Value(accountContextKey).(*models.Account)
	return acct
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// newAPIKey mints a fresh key. Only its hash is ever stored; the key is
// returned to the caller exactly once.
func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "wsk_" + hex.EncodeToString(buf), nil
}

// resolveAccount maps the request's X-API-Key to an account, caching
// positive lookups briefly. A missing header returns (nil, nil).
func (s *Server) resolveAccount(r *http.Request) (*models.Account, error) {
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		return nil, nil
	}
	hash := hashAPIKey(key)

	if v, ok := s.accountCache.Get(hash); ok {
		return v.(*models.Account), nil
	}
	acct, err := s.accounts.GetAccountByKeyHash(r.Context(), hash)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		s.accountCache.Set(hash, acct, gocache.DefaultExpiration)
	}
	return acct, nil
}

// apiKeyMiddleware attaches the calling account to the request context.
// Without RequireAPIKey anonymous requests pass through uncharged; a
// presented key must still be valid.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasKey := strings.TrimSpace(r.Header.Get("X-API-Key")) != ""
		if !hasKey {
			if s.cfg.RequireAPIKey {
				writeAPIError(w, http.StatusUnauthorized, "missing X-API-Key")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		acct, err := s.resolveAccount(r)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if acct == nil {
			writeAPIError(w, http.StatusForbidden, "unknown API key")
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAccountMiddleware is apiKeyMiddleware with the key mandatory,
// for the account-scoped webhook routes.
func (s *Server) requireAccountMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := s.resolveAccount(r)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if acct == nil {
			writeAPIError(w, http.StatusUnauthorized, "valid X-API-Key required")
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuthMiddleware gates /admin behind an HS256 bearer token signed
// with the configured secret. Without a secret the routes stay off.
func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret == "" {
			writeAPIError(w, http.StatusServiceUnavailable, "admin API disabled")
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		if raw == "" {
			writeAPIError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeAPIError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createAccountRequest struct {
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeAPIError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Credits < 0 {
		writeAPIError(w, http.StatusBadRequest, "credits must not be negative")
		return
	}

	key, err := newAPIKey()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	acct, err := s.accounts.CreateAccount(r.Context(), uuid.NewString(), req.Name, hashAPIKey(key), req.Credits)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeAPIResponse(w, map[string]interface{}{
		"account": acct,
		"api_key": key,
	}, nil, nil)
}

type addCreditsRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount <= 0 {
		writeAPIError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	remaining, err := s.accounts.AddCredits(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "account not found")
		return
	}
	writeAPIResponse(w, map[string]interface{}{"credits_remaining": remaining}, nil, nil)
}
