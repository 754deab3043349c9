package middleware

import (
	"context"
	"fmt"

	"teamchat-backend/internal/database"
	"teamchat-backend/pkg/jwt"
)

// RevokedTokenKeyPrefix is the Redis key prefix the auth service writes revoked token IDs under
const RevokedTokenKeyPrefix = "blacklist:"

// RedisRevocationChecker implements RevocationChecker using Redis
type RedisRevocationChecker struct {
	client *database.RedisClient
}

// NewRedisRevocationChecker creates a new RedisRevocationChecker
func NewRedisRevocationChecker(client *database.RedisClient) *RedisRevocationChecker {
	return &RedisRevocationChecker{client: client}
}

// IsTokenRevoked checks if the token ID is in the Redis blacklist
func (c *RedisRevocationChecker) IsTokenRevoked(ctx context.Context, claims *jwt.Claims) (bool, error) {
	if claims.ID == "" {
		return false, nil
	}

	exists, err := c.client.SafeExists(ctx, RevokedTokenKeyPrefix+claims.ID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}

	return exists > 0, nil
}
