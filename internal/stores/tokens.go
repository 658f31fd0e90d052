package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenInvalid = errors.New("token invalid or expired")
	ErrTokenBackend = errors.New("token backend unavailable")
)

// TokenSession ties a provider session id to its account. Each session
// holds exactly one live access/refresh pair; issuing a new pair revokes
// the previous one.
type TokenSession struct {
	SessionID string
	AccountID string
}

// TokenStore maps token digests to sessions. Callers pass digests, never
// the tokens themselves.
type TokenStore struct {
	redis      redis.UniversalClient
	prefix     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string, accessTTL, refreshTTL time.Duration) *TokenStore {
	if prefix == "" {
		prefix = "tok"
	}
	return &TokenStore{
		redis:      redisClient,
		prefix:     prefix,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *TokenStore) accessKey(digest string) string  { return s.prefix + ":at:" + digest }
func (s *TokenStore) refreshKey(digest string) string { return s.prefix + ":rt:" + digest }
func (s *TokenStore) sessionKey(sid string) string    { return s.prefix + ":sess:" + sid }

// Issue installs a new pair for sess and revokes the one it replaces.
func (s *TokenStore) Issue(ctx context.Context, sess TokenSession, accessDigest, refreshDigest string) error {
	const maxRetries = 4
	key := s.sessionKey(sess.SessionID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			old, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if at := old["at"]; at != "" {
					pipe.Del(ctx, s.accessKey(at))
				}
				if rt := old["rt"]; rt != "" {
					pipe.Del(ctx, s.refreshKey(rt))
				}
				pipe.Set(ctx, s.accessKey(accessDigest), sess.SessionID, s.accessTTL)
				pipe.Set(ctx, s.refreshKey(refreshDigest), sess.SessionID, s.refreshTTL)
				pipe.HSet(ctx, key, "account", sess.AccountID, "at", accessDigest, "rt", refreshDigest)
				pipe.Expire(ctx, key, s.refreshTTL)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTokenBackend, err)
		}
		return nil
	}
	return fmt.Errorf("%w: contention on %s", ErrTokenBackend, key)
}

// ResolveAccess returns the session an access token digest belongs to.
func (s *TokenStore) ResolveAccess(ctx context.Context, accessDigest string) (*TokenSession, error) {
	sid, err := s.redis.Get(ctx, s.accessKey(accessDigest)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return s.session(ctx, sid)
}

// ConsumeRefresh deletes a refresh token digest and returns its session.
// A refresh token works once.
func (s *TokenStore) ConsumeRefresh(ctx context.Context, refreshDigest string) (*TokenSession, error) {
	sid, err := s.redis.GetDel(ctx, s.refreshKey(refreshDigest)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return s.session(ctx, sid)
}

// Revoke ends session sid and both of its tokens.
func (s *TokenStore) Revoke(ctx context.Context, sid string) error {
	key := s.sessionKey(sid)
	old, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}

	keys := []string{key}
	if at := old["at"]; at != "" {
		keys = append(keys, s.accessKey(at))
	}
	if rt := old["rt"]; rt != "" {
		keys = append(keys, s.refreshKey(rt))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return nil
}

func (s *TokenStore) session(ctx context.Context, sid string) (*TokenSession, error) {
	account, err := s.redis.HGet(ctx, s.sessionKey(sid), "account").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return &TokenSession{SessionID: sid, AccountID: account}, nil
}
