package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpirySkew is how long past its expiry a cached grant is still handed out.
const ExpirySkew = 10 * time.Second

// Cache holds the grant of a single client and refreshes it lazily.
type Cache struct {
	clientID string
	auth     Authenticator
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	info *Info
}

// NewCache creates an empty cache for clientID.
func NewCache(clientID string, a Authenticator, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		clientID: clientID,
		auth:     a,
		logger:   logger,
		now:      time.Now,
	}
}

// Credentials returns the cached url and token, logging in first when nothing
// is cached or the grant expired more than ExpirySkew ago. On any login failure
// both values are empty and nothing is cached, so the next call logs in again.
func (c *Cache) Credentials(ctx context.Context) (serviceURL, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.info != nil && !c.expired() {
		return c.info.ServiceURL, c.info.Token
	}

	info, err := c.auth.Authenticate(ctx, c.clientID)
	if err != nil {
		c.info = nil
		c.logger.Error("login failed", "error", err)
		return "", ""
	}
	c.info = &info
	return info.ServiceURL, info.Token
}

// Invalidate drops the cached grant.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.info = nil
	c.mu.Unlock()
}

// Cached reports the current grant, if any.
func (c *Cache) Cached() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return Info{}, false
	}
	return *c.info, true
}

func (c *Cache) expired() bool {
	return c.info.ExpiresAt < c.now().Add(-ExpirySkew).Unix()
}
