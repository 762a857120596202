// Package identity derives stable, salted, one-way digests for sensitive
// identifiers before they enter telemetry. Repeated occurrences of the same
// identifier correlate without revealing it.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mapfold/listsync/internal/core"
)

const saltBytes = 32

// Hasher computes salted SHA-256 digests. The salt resolves lazily on first
// use and stays fixed for the process lifetime.
type Hasher struct {
	mu         sync.Mutex
	configured string
	resolved   string
	store      core.SaltStore
	logger     *zap.Logger
}

// Config controls Hasher construction.
//   - Salt: caller-supplied salt; skips store lookup and generation.
//   - Store: durable side-store for a generated fallback salt (optional).
//   - Logger: optional structured logger.
type Config struct {
	Salt   string
	Store  core.SaltStore
	Logger *zap.Logger
}

// New constructs a Hasher.
func New(cfg Config) *Hasher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hasher{
		configured: cfg.Salt,
		store:      cfg.Store,
		logger:     logger,
	}
}

// Hash returns a URL-safe, padding-free digest of salt + ":" + raw. Once the
// salt is resolved, Hash is a pure function of its input.
func (h *Hasher) Hash(raw string) string {
	salt := h.ResolveSalt()
	sum := sha256.Sum256([]byte(salt + ":" + raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ResolveSalt returns the configured salt if present, then the cached
// fallback, then a durably stored one, and finally generates a fresh salt
// from OS entropy. A generated salt is cached and persisted best-effort;
// persistence failures are ignored so hashing keeps working for the session.
func (h *Hasher) ResolveSalt() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.configured != "" {
		return h.configured
	}
	if h.resolved != "" {
		return h.resolved
	}
	if h.store != nil {
		stored, err := h.store.Get(context.Background())
		if err != nil {
			h.logger.Debug("salt store read failed", zap.Error(err))
		} else if stored != "" {
			h.resolved = stored
			return h.resolved
		}
	}

	salt, err := generateSalt()
	if err != nil {
		// crypto/rand failing is effectively unreachable; fall back to a
		// fixed marker rather than panicking out of a telemetry path.
		h.logger.Error("salt generation failed", zap.Error(err))
		salt = "entropy-unavailable"
	}
	h.resolved = salt
	if h.store != nil {
		if err := h.store.Set(context.Background(), salt); err != nil {
			h.logger.Debug("salt store write failed, salt kept in memory", zap.Error(err))
		}
	}
	return h.resolved
}

func generateSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
