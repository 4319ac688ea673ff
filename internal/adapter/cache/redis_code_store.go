package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saadaziz/identity-backend/internal/domain"
	"github.com/saadaziz/identity-backend/internal/repository"
)

const (
	codeKeyPrefix = "authcode:"
	codeIndexKey  = "authcode:index"
)

// takeCodeScript removes and returns a code hash in one step. A nil reply means the code
// is missing, bound to another client, or older than ARGV[2].
var takeCodeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'subject', 'client_id', 'scope', 'issued_at')
if not f[1] then
	return false
end
if ARGV[1] ~= '' and f[2] ~= ARGV[1] then
	return false
end
if tonumber(f[4]) < tonumber(ARGV[2]) then
	return false
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[3])
return f
`)

// purgeScript drops every indexed code issued before ARGV[1] and returns how many were
// indexed.
var purgeScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, code in ipairs(stale) do
	redis.call('DEL', ARGV[2] .. code)
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
return #stale
`)

// RedisCodeStore implements repository.CodeRepository with one hash per code plus a
// sorted-set index by issue time. Hashes also carry a TTL so an unswept store does not
// grow without bound.
type RedisCodeStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ repository.CodeRepository = (*RedisCodeStore)(nil)

// NewRedisCodeStore constructs a Redis-backed code repository.
func NewRedisCodeStore(client redis.UniversalClient, ttl time.Duration) *RedisCodeStore {
	return &RedisCodeStore{client: client, ttl: ttl}
}

func codeKey(code string) string { return codeKeyPrefix + code }

// CreateCode stores the code hash, its expiry and its index entry in one transaction.
func (s *RedisCodeStore) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	issued := code.IssuedAt.UTC().UnixMilli()
	key := codeKey(code.Code)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"subject", code.Subject,
			"client_id", code.ClientID,
			"scope", code.Scope,
			"issued_at", issued,
		)
		pipe.PExpireAt(ctx, key, code.IssuedAt.Add(s.ttl))
		pipe.ZAdd(ctx, codeIndexKey, redis.Z{Score: float64(issued), Member: code.Code})
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist code: %w", err)
	}
	return nil
}

func (s *RedisCodeStore) TakeCode(ctx context.Context, code, clientID string, notBefore time.Time) (domain.AuthorizationCode, error) {
	fields, err := takeCodeScript.Run(ctx, s.client,
		[]string{codeKey(code), codeIndexKey},
		clientID, notBefore.UTC().UnixMilli(), code,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AuthorizationCode{}, domain.ErrCodeNotFound
		}
		return domain.AuthorizationCode{}, fmt.Errorf("take code: %w", err)
	}
	if len(fields) != 4 {
		return domain.AuthorizationCode{}, fmt.Errorf("take code: unexpected reply of %d fields", len(fields))
	}
	issued, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("decode issued_at: %w", err)
	}
	return domain.AuthorizationCode{
		Code:     code,
		Subject:  fields[0],
		ClientID: fields[1],
		Scope:    fields[2],
		IssuedAt: time.UnixMilli(issued).UTC(),
	}, nil
}

func (s *RedisCodeStore) CodeExists(ctx context.Context, code string, notBefore time.Time) (bool, error) {
	issued, err := s.client.HGet(ctx, codeKey(code), "issued_at").Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("code exists: %w", err)
	}
	return issued >= notBefore.UTC().UnixMilli(), nil
}

func (s *RedisCodeStore) DeleteCodesIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := purgeScript.Run(ctx, s.client,
		[]string{codeIndexKey},
		cutoff.UTC().UnixMilli(), codeKeyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("purge codes: %w", err)
	}
	return n, nil
}
