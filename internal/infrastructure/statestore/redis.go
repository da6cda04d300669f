package statestore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	bots "rulebot/internal/domain/entity/bots"
)

// casScript performs the field-level compare-and-set atomically. ARGV[2]
// flags whether a current value is expected ("1") or the field must be
// absent ("0"); ARGV[4] flags whether to write ARGV[5] or delete the field.
// Returns 1 when the precondition held.
const casScript = `
local cur = redis.call("HGET", KEYS[1], ARGV[1])
if ARGV[2] == "1" then
	if cur == false or cur ~= ARGV[3] then
		return 0
	end
elseif cur ~= false then
	return 0
end
if ARGV[4] == "1" then
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[5])
else
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return 1
`

// RedisStore keeps each bot's execution state in one hash, with every field
// transition guarded by a Lua compare-and-set. There is no blind write path.
type RedisStore struct {
	client *redis.Client
	prefix string
	cas    *redis.Script
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		cas:    redis.NewScript(casScript),
	}
}

func (s *RedisStore) key(botID uuid.UUID) string {
	return s.prefix + botID.String()
}

// Get loads the bot's state hash. A missing hash is a fresh bot, not an
// error.
func (s *RedisStore) Get(ctx context.Context, botID uuid.UUID) (*bots.ExecutionState, error) {
	fields, err := s.client.HGetAll(ctx, s.key(botID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return bots.DecodeState(fields), nil
}

// CompareAndSet atomically transitions one field iff its current value (or
// absence) matches expected. A false return is a lost race, not an error.
func (s *RedisStore) CompareAndSet(ctx context.Context, botID uuid.UUID, field string, expected, next *string) (bool, error) {
	args := []interface{}{field, "0", "", "0", ""}
	if expected != nil {
		args[1] = "1"
		args[2] = *expected
	}
	if next != nil {
		args[3] = "1"
		args[4] = *next
	}
	result, err := s.cas.Run(ctx, s.client, []string{s.key(botID)}, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("redis cas: %w", err)
	}
	return result == 1, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
