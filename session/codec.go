package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	sessionFormatV1   = 1
	challengeFormatV1 = 1

	flagRememberMe = 1 << 0
)

var errCorruptRecord = errors.New("corrupt session record")

// Encode serializes a session. Field order is fixed: flags, user, org,
// role, ip, created, expires. The session ID is the Redis key and is
// not part of the payload.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatV1)

	var flags byte
	if s.RememberMe {
		flags |= flagRememberMe
	}
	buf.WriteByte(flags)

	for _, field := range []string{s.UserID, s.OrgID, s.Role, s.IP} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a serialized session. The caller fills in ID from the
// key it was loaded under.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != sessionFormatV1 {
		return nil, errCorruptRecord
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}

	s := &Session{RememberMe: flags&flagRememberMe != 0}
	for _, dst := range []*string{&s.UserID, &s.OrgID, &s.Role, &s.IP} {
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	if err := binary.Read(r, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(r, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, errCorruptRecord
	}

	return s, nil
}

// EncodeChallenge serializes a pending-MFA challenge.
func EncodeChallenge(c *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeFormatV1)

	var flags byte
	if c.RememberMe {
		flags |= flagRememberMe
	}
	buf.WriteByte(flags)
	buf.WriteByte(c.Attempts)

	for _, field := range []string{c.UserID, c.OrgID, c.OrgSlug} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}
	// Redirect targets can outgrow a one-byte length.
	if err := writeLongString(&buf, c.RedirectTo); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, c.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeChallenge parses a serialized challenge.
func DecodeChallenge(data []byte) (*Challenge, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != challengeFormatV1 {
		return nil, errCorruptRecord
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	attempts, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}

	c := &Challenge{
		RememberMe: flags&flagRememberMe != 0,
		Attempts:   attempts,
	}
	for _, dst := range []*string{&c.UserID, &c.OrgID, &c.OrgSlug} {
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	redirect, err := readLongString(r)
	if err != nil {
		return nil, err
	}
	c.RedirectTo = redirect

	if err := binary.Read(r, binary.BigEndian, &c.ExpiresAt); err != nil {
		return nil, errCorruptRecord
	}

	return c, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return errors.New("session field too long")
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", errCorruptRecord
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errCorruptRecord
	}
	return string(b), nil
}

func writeLongString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("session field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readLongString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", errCorruptRecord
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errCorruptRecord
	}
	return string(b), nil
}
