// Package redisstore keeps device token registrations in Redis hashes.
//
// Layout: one hash per user, user_device_tokens:<userID>, with one field per
// registration, <gateway>:<deviceID>, holding the JSON DeviceToken. Writes
// touch a single field, so concurrent registrations of different devices of
// the same user never overwrite each other. The hash TTL is renewed on every
// write.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const keyPrefix = "user_device_tokens:"

// TokenStore implements dispatch.TokenStore on Redis.
type TokenStore struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

var _ dispatch.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates the store. A non-positive ttl falls back to push.TokenTTL.
func NewTokenStore(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *TokenStore {
	if ttl <= 0 {
		ttl = push.TokenTTL
	}
	return &TokenStore{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "RedisTokenStore"),
	}
}

func (s *TokenStore) Put(ctx context.Context, userID string, token push.DeviceToken) error {
	if err := token.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	key := userKey(userID)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fieldName(token.Gateway, token.DeviceID), data)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write failed: %w", err)
	}
	return nil
}

func (s *TokenStore) All(ctx context.Context, userID string) ([]push.DeviceToken, error) {
	entries, err := s.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read failed: %w", err)
	}
	tokens := make([]push.DeviceToken, 0, len(entries))
	for field, raw := range entries {
		tok, ok := s.decode(userID, field, raw)
		if !ok {
			continue
		}
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].Gateway != tokens[j].Gateway {
			return tokens[i].Gateway < tokens[j].Gateway
		}
		return tokens[i].DeviceID < tokens[j].DeviceID
	})
	return tokens, nil
}

func (s *TokenStore) DeleteDevice(ctx context.Context, userID, deviceID string) (int, error) {
	key := userKey(userID)
	fields, err := s.rdb.HKeys(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis read failed: %w", err)
	}
	var doomed []string
	for _, f := range fields {
		if _, dev, ok := splitField(f); ok && dev == deviceID {
			doomed = append(doomed, f)
		}
	}
	return s.del(ctx, key, doomed)
}

func (s *TokenStore) DeleteTokens(ctx context.Context, userID string, gateway push.Gateway, tokens []string) (int, error) {
	key := userKey(userID)
	entries, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis read failed: %w", err)
	}
	dead := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		dead[t] = struct{}{}
	}
	var doomed []string
	for field, raw := range entries {
		tok, ok := s.decode(userID, field, raw)
		if !ok || tok.Gateway != gateway {
			continue
		}
		if _, hit := dead[tok.Token]; hit {
			doomed = append(doomed, field)
		}
	}
	return s.del(ctx, key, doomed)
}

func (s *TokenStore) del(ctx context.Context, key string, fields []string) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.rdb.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete failed: %w", err)
	}
	return int(n), nil
}

// decode validates a stored record; corrupt rows are skipped, not fatal.
func (s *TokenStore) decode(userID, field, raw string) (push.DeviceToken, bool) {
	var tok push.DeviceToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		s.logger.Warn("Skipping undecodable registration", "user", userID, "field", field, "err", err)
		return tok, false
	}
	if err := tok.Validate(); err != nil {
		s.logger.Warn("Skipping invalid registration", "user", userID, "field", field, "err", err)
		return tok, false
	}
	return tok, true
}

func userKey(userID string) string {
	return keyPrefix + userID
}

func fieldName(g push.Gateway, deviceID string) string {
	return string(g) + ":" + deviceID
}

func splitField(f string) (push.Gateway, string, bool) {
	g, dev, ok := strings.Cut(f, ":")
	if !ok {
		return "", "", false
	}
	return push.Gateway(g), dev, true
}
