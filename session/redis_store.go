package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "obs"

// RedisStore keeps encoded sessions in Redis under "<prefix>:<handle>". The
// cookie carries only the handle, signed by a [HandleSigner].
type RedisStore struct {
	redis  redis.UniversalClient
	signer HandleSigner
	prefix string
	opts   Options
}

// NewRedisStore creates a [RedisStore].
func NewRedisStore(rdb redis.UniversalClient, signer HandleSigner, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		redis:  rdb,
		signer: signer,
		prefix: prefix,
		opts:   opts.withDefaults(),
	}
}

// Ping measures one round trip to Redis.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *RedisStore) key(handle string) string {
	return s.prefix + ":" + handle
}

func (s *RedisStore) handle(r *http.Request) string {
	raw := s.opts.read(r)
	if raw == "" {
		return ""
	}
	sid, err := s.signer.ParseHandle(raw)
	if err != nil {
		return ""
	}
	return sid
}

// Load returns the session named by the request cookie. A missing handle,
// a bad signature, an expired key or an undecodable blob all yield an empty
// Session. Only a Redis failure is reported, wrapped in
// [ErrStoreUnavailable].
func (s *RedisStore) Load(r *http.Request) (Session, error) {
	handle := s.handle(r)
	if handle == "" {
		return Session{}, nil
	}

	data, err := s.redis.Get(r.Context(), s.key(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, nil
		}
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return Session{}, nil
	}
	sess.Handle = handle
	return *sess, nil
}

// Save writes the whole session and refreshes the cookie. A session without
// a Handle gets a fresh one, and the key named by the request cookie is
// deleted when it differs.
func (s *RedisStore) Save(w http.ResponseWriter, r *http.Request, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	handle := sess.Handle
	if handle == "" {
		handle = uuid.NewString()
	}
	token, err := s.signer.CreateHandle(handle)
	if err != nil {
		return err
	}

	if err := s.redis.Set(r.Context(), s.key(handle), data, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if old := s.handle(r); old != "" && old != handle {
		if err := s.redis.Del(r.Context(), s.key(old)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	sess.Handle = handle
	http.SetCookie(w, s.opts.cookie(token))
	return nil
}

// Destroy deletes the stored session and expires the cookie. It is
// idempotent.
func (s *RedisStore) Destroy(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, s.opts.expiredCookie())

	handle := s.handle(r)
	if handle == "" {
		return nil
	}
	if err := s.redis.Del(r.Context(), s.key(handle)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
