// Package password hashes and verifies credentials. New hashes are
// argon2id in PHC string format; bcrypt hashes from the previous
// platform generation verify transparently so existing accounts keep
// working, and NeedsRehash flags them for upgrade on the next login.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// ErrUnknownHash is returned when a stored hash is neither argon2id PHC
// nor a recognizable bcrypt string.
var ErrUnknownHash = errors.New("unknown password hash format")

// Config carries argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes new passwords with argon2id and verifies both argon2id
// and legacy bcrypt hashes. Safe for concurrent use.
type Hasher struct {
	config Config
}

// New validates the cost parameters and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives an argon2id hash with a fresh random salt and encodes it
// in PHC format. Strength rules are enforced by the caller's policy,
// not here; the raw bytes are used exactly as provided.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches the stored hash. bcrypt
// mismatches are (false, nil), not errors; only malformed hashes error.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, err
		}
	}

	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsRehash reports whether a verified hash should be rewritten at
// the current parameters. Every bcrypt hash qualifies; argon2id hashes
// qualify when any cost parameter is below the configured one.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}

	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if h.config.Memory > parsed.memory {
		return true, nil
	}
	if h.config.Time > parsed.time {
		return true, nil
	}
	if h.config.Parallelism > parsed.parallelism {
		return true, nil
	}
	if h.config.KeyLength != parsed.keyLength {
		return true, nil
	}
	return false, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrUnknownHash
	}
	if parts[1] != algorithmID {
		return nil, ErrUnknownHash
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var out parsedPHC
	var haveM, haveT, haveP bool
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid argon2 parameter entry")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid argon2 memory parameter")
			}
			out.memory = uint32(v)
			haveM = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid argon2 time parameter")
			}
			out.time = uint32(v)
			haveT = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid argon2 parallelism parameter")
			}
			out.parallelism = uint8(v)
			haveP = true
		default:
			return nil, errors.New("unsupported argon2 parameter")
		}
	}
	if !haveM || !haveT || !haveP {
		return nil, errors.New("missing argon2 parameters")
	}

	out.salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(out.salt) < int(minSaltLength) {
		return nil, errors.New("invalid argon2 salt")
	}
	out.hash, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(out.hash) == 0 {
		return nil, errors.New("invalid argon2 hash")
	}
	out.keyLength = uint32(len(out.hash))

	return &out, nil
}
