// Package auth verifies Bearer API keys. Keys live either in a static
// in-process store (single configured key) or in Postgres with a Redis
// read-through cache.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vmtri/llm-router/internal/metrics"
)

var ErrKeyNotFound = errors.New("api key not found")

type APIKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"key_hash"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis.
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis.
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

type Store interface {
	GetByHash(ctx context.Context, keyHash string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

// StaticStore holds the single key configured via environment. Used when
// no Postgres DSN is configured.
type StaticStore struct {
	key *APIKey
}

func NewStaticStore(rawKey string) *StaticStore {
	return &StaticStore{key: &APIKey{
		ID:      "static",
		Name:    "static",
		KeyHash: HashKey(rawKey),
		Active:  true,
	}}
}

func (s *StaticStore) GetByHash(_ context.Context, keyHash string) (*APIKey, error) {
	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(s.key.KeyHash)) == 1 {
		return s.key, nil
	}
	return nil, ErrKeyNotFound
}

func (s *StaticStore) Create(context.Context, *APIKey) error { return errors.New("static store is read-only") }
func (s *StaticStore) Revoke(context.Context, string) error  { return errors.New("static store is read-only") }

// HashKey returns the hex SHA-256 of a raw key. Only hashes are stored.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	keyIDKey     contextKey = "api_key_id"
	requestIDKey contextKey = "router_request_id"
)

// NewMiddleware builds the Bearer auth middleware. cache may be nil, in
// which case every lookup hits the store. Rejections are counted into the
// collector under model "unknown", matching the request counter shape.
func NewMiddleware(store Store, cache *redis.Client, collector *metrics.Collector, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				reject(w, collector, "missing or invalid Authorization header")
				return
			}
			keyHash := HashKey(strings.TrimPrefix(authHeader, "Bearer "))

			if cache != nil {
				var cached APIKey
				err := cache.Get(ctx, "auth:"+keyHash).Scan(&cached)
				if err == nil {
					ctx = context.WithValue(ctx, keyIDKey, cached.ID)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				if err != redis.Nil {
					logger.Warn("auth cache error", "error", err)
				}
			}

			key, err := store.GetByHash(ctx, keyHash)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					reject(w, collector, "invalid API key")
					return
				}
				logger.Error("auth store error", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if cache != nil {
				_ = cache.Set(ctx, "auth:"+keyHash, key, 5*time.Minute).Err()
			}

			ctx = context.WithValue(ctx, keyIDKey, key.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(w http.ResponseWriter, collector *metrics.Collector, msg string) {
	if collector != nil {
		collector.RecordRejection(http.StatusUnauthorized)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// GetKeyID returns the authenticated API key id, if any.
func GetKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(keyIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestID returns the request id assigned by the middleware.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithKeyID and WithRequestID inject values for tests.
func WithKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyIDKey, id)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
