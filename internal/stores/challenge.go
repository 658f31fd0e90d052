package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersionV1 = 1
)

var (
	ErrChallengeNotFound         = errors.New("otp challenge not found")
	ErrChallengeMismatch         = errors.New("otp mismatch")
	ErrChallengeAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrChallengeBackend          = errors.New("otp challenge backend unavailable")
)

// OTPChallenge is the one outstanding code for a contact on a device.
type OTPChallenge struct {
	Role      uint8
	CodeHash  [32]byte
	IssuedAt  int64
	ExpiresAt int64
	Attempts  uint16
}

// ChallengeStore keeps at most one challenge per (role, contact, device).
// Saving a new challenge replaces the previous one, so a resent code
// invalidates the earlier code.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) key(role, contact, deviceID string) string {
	return s.prefix + ":" + role + ":" + contact + ":" + deviceID
}

func (s *ChallengeStore) Save(
	ctx context.Context,
	role, contact, deviceID string,
	record *OTPChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(role, contact, deviceID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Consume deletes the challenge when providedHash matches. A mismatch
// counts an attempt; reaching maxAttempts deletes the challenge.
func (s *ChallengeStore) Consume(
	ctx context.Context,
	role, contact, deviceID string,
	providedHash [32]byte,
	maxAttempts int,
) (*OTPChallenge, error) {
	const maxRetries = 4
	key := s.key(role, contact, deviceID)

	del := func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		var matched *OTPChallenge

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				if err := del(tx); err != nil {
					return err
				}
				return ErrChallengeNotFound
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := del(tx); err != nil {
						return err
					}
					return ErrChallengeAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					if err := del(tx); err != nil {
						return err
					}
					return ErrChallengeNotFound
				}

				updated, err := encodeChallenge(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeMismatch
			}

			if err := del(tx); err != nil {
				return err
			}
			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeMismatch), errors.Is(err, ErrChallengeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
			}
		}
		return matched, nil
	}

	return nil, ErrChallengeNotFound
}

func encodeChallenge(record *OTPChallenge) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)
	buf.WriteByte(record.Role)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*OTPChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid otp challenge version")
	}

	role, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record := &OTPChallenge{Role: role}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
