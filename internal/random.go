package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const opaqueTokenSize = 32

// NewOTP returns digits uniformly random decimal digits.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewOpaqueToken returns a random base64url token carrying no claims.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashSecret is the lookup digest stored in place of an OTP or token.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// SecretKey is the hex form of HashSecret, used inside Redis keys.
func SecretKey(secret string) string {
	h := HashSecret(secret)
	return hex.EncodeToString(h[:])
}
