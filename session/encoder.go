package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

const (
	sessionFormatVersionCurrent = 1

	flagPending byte = 1 << 0
	flagLogin   byte = 1 << 1

	flagLoginTokens byte = 1 << 0
)

var (
	// ErrInvalidEncoding is returned by Decode for blobs it cannot read.
	ErrInvalidEncoding = errors.New("invalid session encoding")
	errFieldTooLong    = errors.New("session field too long")
)

// Encode serialises a session into the compact versioned binary form used
// by every [Store]. The Handle is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(256)

	buf.WriteByte(sessionFormatVersionCurrent)
	buf.WriteByte(byte(s.Role))
	buf.WriteByte(byte(s.Status))

	if err := writeTokens(&buf, s.Tokens); err != nil {
		return nil, err
	}
	for _, v := range []string{s.DeviceID, s.Phone, s.Email, s.NextStep} {
		if err := writeString(&buf, v); err != nil {
			return nil, err
		}
	}
	writeTime(&buf, s.CreatedAt)
	writeTime(&buf, s.UpdatedAt)

	var flags byte
	if s.Pending != nil {
		flags |= flagPending
	}
	if s.Login != nil {
		flags |= flagLogin
	}
	buf.WriteByte(flags)

	if p := s.Pending; p != nil {
		for _, v := range []string{p.Phone, p.Email, p.DeviceID} {
			if err := writeString(&buf, v); err != nil {
				return nil, err
			}
		}
		writeTime(&buf, p.SentAt)
	}

	if l := s.Login; l != nil {
		buf.WriteByte(byte(l.Role))
		buf.WriteByte(byte(l.Phase))
		for _, v := range []string{l.PendingPhone, l.PendingEmail, l.PendingDeviceID} {
			if err := writeString(&buf, v); err != nil {
				return nil, err
			}
		}
		writeTime(&buf, l.SentAt)
		writeTime(&buf, l.StartedAt)
		if l.PendingTokens != nil {
			buf.WriteByte(flagLoginTokens)
			if err := writeTokens(&buf, *l.PendingTokens); err != nil {
				return nil, err
			}
		} else {
			buf.WriteByte(0)
		}
	}

	return buf.Bytes(), nil
}

// Decode reverses [Encode].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if version != sessionFormatVersionCurrent {
		return nil, ErrInvalidEncoding
	}

	s := &Session{}
	role, err := reader.ReadByte()
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	status, err := reader.ReadByte()
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if role > byte(RoleAdministrator) || status > byte(StatusComplete) {
		return nil, ErrInvalidEncoding
	}
	s.Role = Role(role)
	s.Status = RegistrationStatus(status)

	if s.Tokens, err = readTokens(reader); err != nil {
		return nil, err
	}
	for _, dst := range []*string{&s.DeviceID, &s.Phone, &s.Email, &s.NextStep} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	if s.CreatedAt, err = readTime(reader); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = readTime(reader); err != nil {
		return nil, err
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, ErrInvalidEncoding
	}

	if flags&flagPending != 0 {
		p := &Challenge{}
		for _, dst := range []*string{&p.Phone, &p.Email, &p.DeviceID} {
			if *dst, err = readString(reader); err != nil {
				return nil, err
			}
		}
		if p.SentAt, err = readTime(reader); err != nil {
			return nil, err
		}
		s.Pending = p
	}

	if flags&flagLogin != 0 {
		l := &LoginContext{}
		lr, err := reader.ReadByte()
		if err != nil {
			return nil, ErrInvalidEncoding
		}
		phase, err := reader.ReadByte()
		if err != nil {
			return nil, ErrInvalidEncoding
		}
		if lr > byte(RoleAdministrator) || phase < byte(LoginOTPRequested) || phase > byte(LoginOTPVerified) {
			return nil, ErrInvalidEncoding
		}
		l.Role = Role(lr)
		l.Phase = LoginPhase(phase)
		for _, dst := range []*string{&l.PendingPhone, &l.PendingEmail, &l.PendingDeviceID} {
			if *dst, err = readString(reader); err != nil {
				return nil, err
			}
		}
		if l.SentAt, err = readTime(reader); err != nil {
			return nil, err
		}
		if l.StartedAt, err = readTime(reader); err != nil {
			return nil, err
		}
		tokenFlag, err := reader.ReadByte()
		if err != nil {
			return nil, ErrInvalidEncoding
		}
		if tokenFlag&flagLoginTokens != 0 {
			t, err := readTokens(reader)
			if err != nil {
				return nil, err
			}
			l.PendingTokens = &t
		}
		s.Login = l
	}

	if reader.Len() != 0 {
		return nil, ErrInvalidEncoding
	}

	return s, nil
}

func writeTokens(buf *bytes.Buffer, t Tokens) error {
	for _, v := range []string{t.AccessToken, t.RefreshToken, t.TokenType, t.SessionID} {
		if err := writeString(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func readTokens(r *bytes.Reader) (Tokens, error) {
	var t Tokens
	for _, dst := range []*string{&t.AccessToken, &t.RefreshToken, &t.TokenType, &t.SessionID} {
		v, err := readString(r)
		if err != nil {
			return Tokens{}, err
		}
		*dst = v
	}
	return t, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > math.MaxUint16 {
		return errFieldTooLong
	}
	_ = binary.Write(buf, binary.BigEndian, uint16(len(v)))
	buf.WriteString(v)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", ErrInvalidEncoding
	}
	if int(n) > r.Len() {
		return "", ErrInvalidEncoding
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", ErrInvalidEncoding
	}
	return string(out), nil
}

// Times are stored as Unix nanoseconds; 0 encodes the zero time.
func writeTime(buf *bytes.Buffer, t time.Time) {
	var v int64
	if !t.IsZero() {
		v = t.UnixNano()
	}
	_ = binary.Write(buf, binary.BigEndian, v)
}

func readTime(r *bytes.Reader) (time.Time, error) {
	var v int64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return time.Time{}, ErrInvalidEncoding
	}
	if v == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, v), nil
}
