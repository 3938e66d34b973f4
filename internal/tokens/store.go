package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned for unknown or empty token values.
	ErrNotFound = errors.New("refresh token not found")
	// ErrExpired is returned for tokens past their expiry. Not a security
	// event: no cascade is triggered.
	ErrExpired = errors.New("refresh token expired")
	// ErrReused is returned when an already-revoked token is presented.
	// The caller's whole token family has been revoked by the time the
	// error is returned.
	ErrReused = errors.New("refresh token reuse detected")
	// ErrBackendUnavailable wraps Redis failures.
	ErrBackendUnavailable = errors.New("refresh token backend unavailable")
)

const tokenEntropyBytes = 32

const (
	revokeStatusNotFound int64 = 0
	revokeStatusRevoked  int64 = 1
	revokeStatusReplayed int64 = 2
	revokeStatusExpired  int64 = 3
)

// markRevokedScript is the single-winner transition for rotation. It tests
// the revoked byte and the expiry under the Redis execution lock, so exactly
// one of any number of concurrent callers observes status 1; the rest see
// status 2 and the already-revoked blob. The revoked byte is checked before
// expiry so a replayed token keeps reporting reuse for as long as its row
// survives, matching Verify.
//
// A freshly revoked row keeps a TTL of its remaining lifetime plus the
// retention window: reuse stays detectable until the token would have
// expired anyway, and for RevokedRetention beyond that.
//
// KEYS[1] token key. ARGV: now unix, packed last-used-at (8 raw bytes),
// retention for the revoked row in ms.
const markRevokedScript = `
local function read_be64(s, i)
  local v = 0
  for j = 0, 7 do
    local b = string.byte(s, i + j)
    if not b then
      return nil
    end
    v = v * 256 + b
  end
  return v
end

local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local expires = read_be64(data, 12)
if not expires then
  return {0}
end

if string.byte(data, 2) == 1 then
  return {2, data}
end

local now = tonumber(ARGV[1])
if expires <= now then
  return {3}
end

local updated = string.sub(data, 1, 1)
  .. string.char(1)
  .. string.sub(data, 3, 19)
  .. ARGV[2]
  .. string.sub(data, 28)

local ttl = (expires - now) * 1000 + tonumber(ARGV[3])
redis.call("SET", KEYS[1], updated, "PX", ttl)
return {1, updated}
`

var markRevokedLua = redis.NewScript(markRevokedScript)

// Config tunes token lifetimes and retention horizons.
type Config struct {
	Lifetime         time.Duration // token validity, default 30 days
	RevokedRetention time.Duration // keep revoked+expired rows this long
	PurgeHorizon     time.Duration // hard-delete anything expired this long
}

// Store persists refresh token rows in Redis. Each row lives under
// <prefix>:t:<token>; a per-principal set <prefix>:p:<kind>:<principal>
// indexes the family for cascade revocation and logout-all.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	config Config
	now    func() time.Time
}

// NewStore creates a token store. prefix defaults to "art".
func NewStore(client redis.UniversalClient, prefix string, cfg Config) *Store {
	if prefix == "" {
		prefix = "art"
	}
	return &Store{
		redis:  client,
		prefix: prefix,
		config: cfg,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) tokenKey(token string) string {
	return s.prefix + ":t:" + token
}

func (s *Store) principalKey(kind uint8, principalID string) string {
	return fmt.Sprintf("%s:p:%d:%s", s.prefix, kind, principalID)
}

func newTokenValue() (string, error) {
	raw := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Issue creates and persists a fresh token for the principal. The row's Redis
// TTL extends past the logical expiry by the purge horizon so expired and
// revoked rows stay observable for reuse detection until maintenance drops
// them.
func (s *Store) Issue(ctx context.Context, principalID string, kind uint8, clientIP, device string) (*Record, error) {
	token, err := newTokenValue()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &Record{
		Token:       token,
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Kind:        kind,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.config.Lifetime),
		ClientIP:    clientIP,
		Device:      device,
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	ttl := s.config.Lifetime + s.config.PurgeHorizon
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(token), data, ttl)
		pipe.SAdd(ctx, s.principalKey(kind, principalID), token)
		pipe.PExpire(ctx, s.principalKey(kind, principalID), ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return rec, nil
}

// Get loads a token row without side effects.
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	data, err := s.redis.Get(ctx, s.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	rec.Token = token
	return rec, nil
}

// Verify checks a presented token. A revoked token is a reuse signal: every
// token currently issued to that principal is revoked before ErrReused is
// returned. Ordinary expiry returns ErrExpired with no cascade.
func (s *Store) Verify(ctx context.Context, token string) (*Record, error) {
	rec, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		if _, rerr := s.RevokeAll(ctx, rec.PrincipalID, rec.Kind); rerr != nil {
			return nil, rerr
		}
		return rec, ErrReused
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, ErrExpired
	}
	return rec, nil
}

// Rotate consumes oldToken and mints its replacement. The revoke is a
// compare-and-set: of two racing calls presenting the same still-valid token,
// exactly one wins and mints a child; the loser observes the already-revoked
// row, triggers the reuse cascade, and gets ErrReused.
func (s *Store) Rotate(ctx context.Context, oldToken, clientIP, device string) (*Record, error) {
	if oldToken == "" {
		return nil, ErrNotFound
	}

	status, data, err := s.markRevoked(ctx, oldToken)
	if err != nil {
		return nil, err
	}

	switch status {
	case revokeStatusNotFound:
		return nil, ErrNotFound
	case revokeStatusExpired:
		return nil, ErrExpired
	case revokeStatusReplayed:
		old, derr := decodeRecord(data)
		if derr != nil {
			return nil, derr
		}
		if _, rerr := s.RevokeAll(ctx, old.PrincipalID, old.Kind); rerr != nil {
			return nil, rerr
		}
		return nil, ErrReused
	}

	old, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return s.Issue(ctx, old.PrincipalID, old.Kind, clientIP, device)
}

// Revoke marks one token revoked. Used by logout; revoking an already-revoked
// or expired token is a no-op, not an error.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return ErrNotFound
	}
	status, _, err := s.markRevoked(ctx, token)
	if err != nil {
		return err
	}
	if status == revokeStatusNotFound {
		return ErrNotFound
	}
	return nil
}

// RevokeAll revokes every live token of one principal and returns how many
// rows transitioned. Drives logout-all and the reuse cascade.
func (s *Store) RevokeAll(ctx context.Context, principalID string, kind uint8) (int, error) {
	members, err := s.redis.SMembers(ctx, s.principalKey(kind, principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	revoked := 0
	for _, token := range members {
		status, _, err := s.markRevoked(ctx, token)
		if err != nil {
			return revoked, err
		}
		if status == revokeStatusRevoked {
			revoked++
		}
	}
	return revoked, nil
}

func (s *Store) markRevoked(ctx context.Context, token string) (int64, []byte, error) {
	now := s.now().UTC()
	res, err := markRevokedLua.Run(ctx, s.redis,
		[]string{s.tokenKey(token)},
		now.Unix(),
		packUnix(now),
		s.config.RevokedRetention.Milliseconds(),
	).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed script reply", ErrBackendUnavailable)
	}
	status, ok := reply[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: malformed script status", ErrBackendUnavailable)
	}

	var data []byte
	if len(reply) > 1 {
		if blob, ok := reply[1].(string); ok {
			data = []byte(blob)
		}
	}
	return status, data, nil
}

// Purge is the maintenance sweep invoked by an external scheduler. It deletes
// rows that are revoked and expired beyond the revoked-retention window,
// hard-deletes any row expired beyond the purge horizon, and removes dangling
// members from principal index sets. Returns the number of rows deleted.
func (s *Store) Purge(ctx context.Context) (int, error) {
	now := s.now()
	deleted := 0

	iter := s.redis.Scan(ctx, 0, s.prefix+":t:*", 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			// Undecodable rows cannot be rotated or verified either; drop.
			log.Printf("authcore: purging undecodable token row %s: %v", key, err)
			if derr := s.redis.Del(ctx, key).Err(); derr != nil {
				return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, derr)
			}
			deleted++
			continue
		}

		expiredFor := now.Sub(rec.ExpiresAt)
		drop := expiredFor > s.config.PurgeHorizon ||
			(rec.Revoked && expiredFor > s.config.RevokedRetention)
		if !drop {
			continue
		}

		token := key[len(s.prefix)+3:]
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.principalKey(rec.Kind, rec.PrincipalID), token)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Repair index sets whose token rows expired out from under them.
	iter = s.redis.Scan(ctx, 0, s.prefix+":p:*", 256).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		members, err := s.redis.SMembers(ctx, setKey).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		for _, token := range members {
			exists, err := s.redis.Exists(ctx, s.tokenKey(token)).Result()
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			if exists == 0 {
				if err := s.redis.SRem(ctx, setKey, token).Err(); err != nil {
					return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
				}
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return deleted, nil
}
