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
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrMalformedHash is returned when a stored hash is not a supported PHC string.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrInvalidConfig is returned by NewArgon2 for parameters below the floor.
	ErrInvalidConfig = errors.New("password: invalid argon2 configuration")
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32 `env:"ARGON2_MEMORY_KB" envDefault:"65536"`
	Time        uint32 `env:"ARGON2_TIME" envDefault:"3"`
	Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"2"`
	SaltLength  uint32 `env:"ARGON2_SALT_LENGTH" envDefault:"16"`
	KeyLength   uint32 `env:"ARGON2_KEY_LENGTH" envDefault:"32"`
}

// DefaultConfig returns the production cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes and verifies passwords. It is safe for concurrent use.
type Argon2 struct {
	config Config
	// dummy is hashed once so lookups for unknown accounts can spend the
	// same effort as a real verification.
	dummy *parsedPHC
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	a := &Argon2{config: cfg}
	encoded, err := a.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, err
	}
	if a.dummy, err = parsePHC(encoded); err != nil {
		return nil, err
	}
	return a, nil
}

// Hash returns the PHC encoding of password under a fresh random salt.
// Bytes are used exactly as given; no Unicode normalization is applied.
func (a *Argon2) Hash(password string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. The parameters stored in
// encoded are used, so hashes survive cost changes.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return compare(password, parsed), nil
}

// VerifyDummy burns one verification against a fixed hash. Call it when the
// account does not exist so response timing does not reveal that.
func (a *Argon2) VerifyDummy(password string) {
	compare(password, a.dummy)
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return a.config.Memory > parsed.memory ||
		a.config.Time > parsed.time ||
		a.config.Parallelism > parsed.parallelism ||
		a.config.KeyLength != parsed.keyLength, nil
}

func compare(password string, p *parsedPHC) bool {
	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, p.keyLength)
	return subtle.ConstantTimeCompare(computed, p.hash) == 1
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: expected 6 segments", ErrMalformedHash)
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedHash, parts[1])
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version", ErrMalformedHash)
	}

	p := &parsedPHC{}
	if err := parseParams(parts[3], p); err != nil {
		return nil, err
	}

	if p.salt, err = decodeSegment(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.hash, err = decodeSegment(parts[5]); err != nil || len(p.hash) == 0 {
		return nil, fmt.Errorf("%w: hash", ErrMalformedHash)
	}
	p.keyLength = uint32(len(p.hash))
	return p, nil
}

// decodeSegment accepts both padded and unpadded base64; older hashes were
// written with padding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func parseParams(part string, p *parsedPHC) error {
	var seen uint8
	for _, pair := range strings.Split(part, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: parameter %q", ErrMalformedHash, pair)
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return fmt.Errorf("%w: memory", ErrMalformedHash)
			}
			p.memory = uint32(n)
			seen |= 1
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minTimeCost) {
				return fmt.Errorf("%w: time", ErrMalformedHash)
			}
			p.time = uint32(n)
			seen |= 2
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return fmt.Errorf("%w: parallelism", ErrMalformedHash)
			}
			p.parallelism = uint8(n)
			seen |= 4
		default:
			return fmt.Errorf("%w: unsupported parameter %q", ErrMalformedHash, k)
		}
	}
	if seen != 7 {
		return fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidConfig, minMemoryKB)
	case cfg.Time < minTimeCost:
		return fmt.Errorf("%w: time must be >= 1", ErrInvalidConfig)
	case cfg.Parallelism < minParallelism:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidConfig)
	case cfg.SaltLength < minSaltLength:
		return fmt.Errorf("%w: salt length must be >= %d", ErrInvalidConfig, minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return fmt.Errorf("%w: key length must be >= %d", ErrInvalidConfig, minKeyLength)
	}
	return nil
}
