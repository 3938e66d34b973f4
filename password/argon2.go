// Package password implements the credential hasher: argon2id over the
// plaintext combined with an application-wide pepper and a per-credential
// salt. Hash output is PHC-encoded and self-describing, so verification never
// depends on config drift between the hashing and verifying deployments.
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

	// DefaultSaltLength is the salt size produced by GenerateSalt.
	DefaultSaltLength = 16
)

// Config tunes the argon2id cost parameters and carries the pepper.
// Instances are set once at build time and treated as immutable.
type Config struct {
	Memory      uint32 // KB
	Time        uint32
	Parallelism uint8
	KeyLength   uint32
	Pepper      []byte
}

// Hasher hashes and verifies passwords. Methods are pure over their inputs
// and the configured pepper; safe for concurrent use.
type Hasher struct {
	config Config
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	hash        []byte
	keyLength   uint32
}

// NewHasher validates cost floors and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("password parallelism must be >= 1")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// GenerateSalt returns DefaultSaltLength cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, DefaultSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// EncodeSalt renders a salt in its external (base64) representation.
func EncodeSalt(salt []byte) string {
	return base64.StdEncoding.EncodeToString(salt)
}

// DecodeSalt parses the external salt representation back to raw bytes.
func DecodeSalt(encoded string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}
	return salt, nil
}

// Hash derives an argon2id key from password+pepper under the supplied salt
// and returns the PHC-encoded string ($argon2id$v=..$m=..,t=..,p=..$salt$key).
// The salt travels inside the encoding as well as on the credential record;
// verification uses the encoded copy so the two cannot disagree silently.
func (h *Hasher) Hash(password string, salt []byte) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	if len(salt) < int(minSaltLength) {
		return "", errors.New("salt too short")
	}

	key := argon2.IDKey(
		h.peppered(password),
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

// Verify recomputes the hash under the parameters embedded in encodedHash and
// compares in constant time. It returns false, never an error, for malformed
// or corrupted hash strings and for any mismatched salt, pepper, or password.
func (h *Hasher) Verify(password string, salt []byte, encodedHash string) bool {
	parsed, parsedSalt, err := parsePHC(encodedHash)
	if err != nil {
		return false
	}
	if subtle.ConstantTimeCompare(parsedSalt, salt) != 1 {
		return false
	}

	computed := argon2.IDKey(
		h.peppered(password),
		parsedSalt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1
}

// NeedsRehash reports whether the encoded hash was produced under weaker
// parameters than the current config. Malformed hashes report true so the
// caller upgrades them on next successful login.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	parsed, _, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	return h.config.Memory > parsed.memory ||
		h.config.Time > parsed.time ||
		h.config.Parallelism > parsed.parallelism ||
		h.config.KeyLength != parsed.keyLength
}

func (h *Hasher) peppered(password string) []byte {
	if len(h.config.Pepper) == 0 {
		return []byte(password)
	}
	buf := make([]byte, 0, len(password)+len(h.config.Pepper))
	buf = append(buf, password...)
	buf = append(buf, h.config.Pepper...)
	return buf
}

func parsePHC(encodedHash string) (*parsedPHC, []byte, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, nil, errors.New("unsupported algorithm")
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, nil, errors.New("missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, nil, errors.New("unsupported argon2 version")
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, nil, errors.New("invalid salt")
	}

	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, nil, errors.New("invalid hash")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, salt, nil
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		params                             parsedParams
		memorySet, timeSet, parallelismSet bool
	)
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, errors.New("unsupported parameter")
		}
	}
	if !memorySet || !timeSet || !parallelismSet {
		return nil, errors.New("missing parameters")
	}
	return &params, nil
}
