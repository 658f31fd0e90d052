package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountState    = errors.New("account not in expected state")
	ErrAccountBackend  = errors.New("account backend unavailable")
)

// Account is a provider-side principal. Status uses the provider wire
// names; PINHash is a PHC string.
type Account struct {
	ID        string `redis:"id"`
	Role      string `redis:"role"`
	Contact   string `redis:"contact"`
	Status    string `redis:"status"`
	PINHash   string `redis:"pin_hash"`
	Profile   string `redis:"profile"`
	CreatedAt int64  `redis:"created_at"`
	UpdatedAt int64  `redis:"updated_at"`
}

// AccountStore keeps accounts as Redis hashes with a (role, contact)
// index and one set per status.
type AccountStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAccountStore(redisClient redis.UniversalClient, prefix string) *AccountStore {
	if prefix == "" {
		prefix = "acct"
	}
	return &AccountStore{redis: redisClient, prefix: prefix}
}

func (s *AccountStore) key(id string) string {
	return s.prefix + ":id:" + id
}

func (s *AccountStore) indexKey(role, contact string) string {
	return s.prefix + ":contact:" + role + ":" + contact
}

func (s *AccountStore) statusKey(status string) string {
	return s.prefix + ":status:" + status
}

// FindOrCreate returns the account for (role, contact), creating it from
// seed when none exists. created reports which happened.
func (s *AccountStore) FindOrCreate(ctx context.Context, seed Account) (*Account, bool, error) {
	const maxRetries = 4
	index := s.indexKey(seed.Role, seed.Contact)

	for i := 0; i < maxRetries; i++ {
		var existing string
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			id, err := tx.Get(ctx, index).Result()
			if err == nil {
				existing = id
				return nil
			}
			if !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, index, seed.ID, 0)
				pipe.HSet(ctx, s.key(seed.ID), seed)
				pipe.SAdd(ctx, s.statusKey(seed.Status), seed.ID)
				return nil
			})
			return err
		}, index)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrAccountBackend, err)
		}
		if existing == "" {
			created := seed
			return &created, true, nil
		}
		acct, err := s.Get(ctx, existing)
		return acct, false, err
	}
	return nil, false, fmt.Errorf("%w: contention on %s", ErrAccountBackend, index)
}

// Find looks an account up by role and contact.
func (s *AccountStore) Find(ctx context.Context, role, contact string) (*Account, error) {
	id, err := s.redis.Get(ctx, s.indexKey(role, contact)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}
	return s.Get(ctx, id)
}

func (s *AccountStore) Get(ctx context.Context, id string) (*Account, error) {
	res := s.redis.HGetAll(ctx, s.key(id))
	fields, err := res.Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}
	if len(fields) == 0 {
		return nil, ErrAccountNotFound
	}

	var acct Account
	if err := res.Scan(&acct); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}
	return &acct, nil
}

// Transition moves account id from status from to status to and writes
// the extra hash fields in the same transaction. It fails with
// ErrAccountState when the account is not at from.
func (s *AccountStore) Transition(ctx context.Context, id, from, to string, fields map[string]any) (*Account, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.HGet(ctx, key, "status").Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrAccountNotFound
				}
				return err
			}
			if current != from {
				return ErrAccountState
			}

			values := map[string]any{"status": to}
			for k, v := range fields {
				values[k] = v
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, values)
				if from != to {
					pipe.SRem(ctx, s.statusKey(from), id)
					pipe.SAdd(ctx, s.statusKey(to), id)
				}
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrAccountState) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrAccountBackend, err)
		}
		return s.Get(ctx, id)
	}
	return nil, fmt.Errorf("%w: contention on %s", ErrAccountBackend, key)
}

// SetFields overwrites hash fields without touching the status.
func (s *AccountStore) SetFields(ctx context.Context, id string, fields map[string]any) error {
	if err := s.redis.HSet(ctx, s.key(id), fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}
	return nil
}

// ListByStatus returns every account currently at status.
func (s *AccountStore) ListByStatus(ctx context.Context, status string) ([]Account, error) {
	ids, err := s.redis.SMembers(ctx, s.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountBackend, err)
	}

	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		acct, err := s.Get(ctx, id)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *acct)
	}
	return out, nil
}
