package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caneko-app/caneko-server/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// User Cache Operations

// SetUser caches a user profile
func (c *Cache) SetUser(ctx context.Context, user *models.User, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	key := fmt.Sprintf("user:%s", user.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetUser retrieves a user profile from cache; a miss returns nil, nil
func (c *Cache) GetUser(ctx context.Context, userID string) (*models.User, error) {
	key := fmt.Sprintf("user:%s", userID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get user from cache: %w", err)
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &user, nil
}

// DeleteUser removes a user profile from cache
func (c *Cache) DeleteUser(ctx context.Context, userID string) error {
	key := fmt.Sprintf("user:%s", userID)
	return c.client.Del(ctx, key).Err()
}

// App Config Cache Operations

// SetAppConfig caches the branding/contact settings document
func (c *Cache) SetAppConfig(ctx context.Context, cfg *models.AppConfig, ttl time.Duration) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal app config: %w", err)
	}
	return c.client.Set(ctx, "settings:appConfig", data, ttl).Err()
}

// GetAppConfig retrieves the settings document from cache; a miss returns nil, nil
func (c *Cache) GetAppConfig(ctx context.Context) (*models.AppConfig, error) {
	data, err := c.client.Get(ctx, "settings:appConfig").Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get app config from cache: %w", err)
	}

	var cfg models.AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal app config: %w", err)
	}

	return &cfg, nil
}

// DeleteAppConfig removes the settings document from cache
func (c *Cache) DeleteAppConfig(ctx context.Context) error {
	return c.client.Del(ctx, "settings:appConfig").Err()
}

// Login Lockout Operations

// RegisterFailedLogin increments the failed-attempt counter for the account
// and returns the new count. The counter expires with the lockout window.
func (c *Cache) RegisterFailedLogin(ctx context.Context, email string, window time.Duration) (int64, error) {
	key := fmt.Sprintf("login:attempts:%s", email)

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment login attempts: %w", err)
	}

	// Set expiry on first failure
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	return count, nil
}

// LockAccount marks the account as locked for the given duration.
func (c *Cache) LockAccount(ctx context.Context, email string, duration time.Duration) error {
	key := fmt.Sprintf("login:lock:%s", email)
	return c.client.Set(ctx, key, "locked", duration).Err()
}

// LockRemaining returns how long the account stays locked; zero means not locked.
func (c *Cache) LockRemaining(ctx context.Context, email string) (time.Duration, error) {
	key := fmt.Sprintf("login:lock:%s", email)
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read lock TTL: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// ClearLoginAttempts resets the failure counter and the lock after a
// successful login.
func (c *Cache) ClearLoginAttempts(ctx context.Context, email string) error {
	return c.client.Del(ctx,
		fmt.Sprintf("login:attempts:%s", email),
		fmt.Sprintf("login:lock:%s", email),
	).Err()
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
