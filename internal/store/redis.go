package store

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisUserKeyPrefix = "gochat:user:"

// RedisUsers keeps presence status in Redis hashes keyed by user id.
type RedisUsers struct {
	client redis.UniversalClient
}

// NewRedisUsers stores user status in redis hashes.
func NewRedisUsers(client redis.UniversalClient) *RedisUsers {
	return &RedisUsers{
		client: client,
	}
}

// NewRedisUsersFromAddr connects to a single Redis server and verifies it responds.
func NewRedisUsersFromAddr(ctx context.Context, addr, password string, db int) (*RedisUsers, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return NewRedisUsers(client), nil
}

func (s *RedisUsers) Close() error {
	return s.client.Close()
}

func (s *RedisUsers) SetStatus(ctx context.Context, userID string, status UserStatus, lastSeen time.Time) error {
	err := s.client.HSet(ctx, redisUserKeyPrefix+userID,
		"status", string(status),
		"lastSeen", lastSeen.UnixMilli(),
	).Err()
	return errors.Wrapf(err, "set status of %s", userID)
}

// Status returns the stored presence status of a user.
func (s *RedisUsers) Status(ctx context.Context, userID string) (UserRecord, error) {
	values, err := s.client.HGetAll(ctx, redisUserKeyPrefix+userID).Result()
	if err != nil {
		return UserRecord{}, errors.Wrapf(err, "get status of %s", userID)
	}
	if len(values) == 0 {
		return UserRecord{}, ErrNotFound
	}

	record := UserRecord{
		Status: UserStatus(values["status"]),
	}
	if ms, err := strconv.ParseInt(values["lastSeen"], 10, 64); err == nil {
		record.LastSeen = time.UnixMilli(ms).UTC()
	}
	return record, nil
}
