package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RoleAdmin is the role required by the admin routes.
const RoleAdmin = "admin"

// UserIDHeader carries the authenticated user id, set by the auth proxy.
const UserIDHeader = "X-User-ID"

// RoleResolver looks up a user's role. An empty role means none.
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID string) (string, error)
}

type cachedRole struct {
	role    string
	expires time.Time
}

// RoleCache memoises resolved roles for TTL. The zero TTL disables caching.
type RoleCache struct {
	TTL time.Duration
	Now func() time.Time

	mu    sync.Mutex
	roles map[string]cachedRole
}

func NewRoleCache(ttl time.Duration) *RoleCache {
	return &RoleCache{
		TTL:   ttl,
		Now:   time.Now,
		roles: make(map[string]cachedRole),
	}
}

// Get returns the cached role, or false when missing or expired.
func (c *RoleCache) Get(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.roles[userID]
	if !ok {
		return "", false
	}
	if !c.Now().Before(cached.expires) {
		delete(c.roles, userID)
		return "", false
	}
	return cached.role, true
}

func (c *RoleCache) Set(userID, role string) {
	if c.TTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[userID] = cachedRole{role: role, expires: c.Now().Add(c.TTL)}
}

func (c *RoleCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roles, userID)
}

func (c *RoleCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = make(map[string]cachedRole)
}

// Resolve returns the role from the cache, falling back to the resolver.
func (c *RoleCache) Resolve(ctx context.Context, resolver RoleResolver, userID string) (string, error) {
	if role, ok := c.Get(userID); ok {
		return role, nil
	}
	role, err := resolver.ResolveRole(ctx, userID)
	if err != nil {
		return "", err
	}
	c.Set(userID, role)
	return role, nil
}

// RequireRole rejects requests whose X-User-ID does not resolve to role.
func RequireRole(cache *RoleCache, resolver RoleResolver, role string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "Missing user id", nil)
				return
			}

			got, err := cache.Resolve(r.Context(), resolver, userID)
			if err != nil {
				logger.Error("role lookup failed", zap.String("user_id", userID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Failed to resolve role", err)
				return
			}
			if got != role {
				writeError(w, http.StatusForbidden, "Insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
