package directory

import (
	"context"

	"tripresence/internal/cache"
	"tripresence/internal/models"
)

// CachedUsers fronts user lookups with the shared memory cache, so the
// connection binder does not hit the directory for every reconnect.
type CachedUsers struct {
	directory Directory
	cache     cache.MemoryCache
}

// NewCachedUsers creates a new CachedUsers
func NewCachedUsers(dir Directory, memCache cache.MemoryCache) *CachedUsers {
	return &CachedUsers{
		directory: dir,
		cache:     memCache,
	}
}

// GetUser returns a user record, cache first. Only found users are
// cached; misses and inactive users always go back to the directory.
func (c *CachedUsers) GetUser(ctx context.Context, userID string) (models.User, error) {
	if user, found := c.cache.GetUser(userID); found {
		return user, nil
	}

	user, err := c.directory.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	c.cache.SetUser(userID, user)
	return user, nil
}
