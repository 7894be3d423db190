package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"storefront-api/internal/config"
	"storefront-api/internal/util"
)

var (
	ErrInvalidHash   = errors.New("invalid hash format")
	ErrUnknownPepper = errors.New("pepper version not found")
	ErrNoPeppers     = errors.New("at least one pepper is required")
	ErrEmptyPassword = errors.New("password must not be empty")
)

const Algorithm = "argon2id-v1"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes secrets with Argon2id and a versioned pepper. Peppers come
// from configuration so hashes verify across restarts; the highest version
// hashes new values and older versions stay readable until rotated out.
type Hasher struct {
	params         Argon2Params
	peppers        map[int]string
	currentVersion int
	lookupKey      []byte
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg config.HashingConfig) (*Hasher, error) {
	if len(cfg.Peppers) == 0 {
		return nil, ErrNoPeppers
	}

	versions := make([]int, 0, len(cfg.Peppers))
	for v := range cfg.Peppers {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	h := &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Argon2MemoryCost),
			Iterations:  uint32(cfg.Argon2TimeCost),
			Parallelism: uint8(cfg.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		peppers:        cfg.Peppers,
		currentVersion: versions[len(versions)-1],
		// lookup digests must never change, so they stay on the oldest pepper
		lookupKey: []byte(cfg.Peppers[versions[0]]),
	}

	util.Info("Hasher initialized",
		zap.Int("pepper_version", h.currentVersion),
		zap.Int("pepper_count", len(versions)))

	return h, nil
}

func (h *Hasher) HashPassword(password string) (*HashResult, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	return h.hashWithPepper(password, "password")
}

func (h *Hasher) VerifyPassword(password string, hashResult *HashResult) (bool, error) {
	return h.verifyWithPepper(password, hashResult, "password")
}

// NeedsRehash reports whether a stored hash predates the current pepper.
func (h *Hasher) NeedsRehash(hashResult *HashResult) bool {
	return hashResult.PepperVersion != h.currentVersion || hashResult.Algorithm != Algorithm
}

// LookupHash is a deterministic keyed digest used as an index for values
// that are stored encrypted, such as email addresses.
func (h *Hasher) LookupHash(value string) string {
	mac := hmac.New(sha256.New, h.lookupKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// TokenDigest is the form in which bearer-like secrets are persisted.
func TokenDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares a secret against a stored digest in constant time.
func TokenMatches(secret, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(TokenDigest(secret)), []byte(digest)) == 1
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	pepper := h.peppers[h.currentVersion]

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// context keeps hashes of one purpose from verifying for another
	contextualData := data + pepper + context

	hash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: h.currentVersion,
		Algorithm:     Algorithm,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, hashResult *HashResult, context string) (bool, error) {
	if hashResult == nil || hashResult.Hash == "" {
		return false, ErrInvalidHash
	}

	pepper, ok := h.peppers[hashResult.PepperVersion]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownPepper, hashResult.PepperVersion)
	}

	salt, err := base64.RawURLEncoding.DecodeString(hashResult.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(hashResult.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	contextualData := data + pepper + context

	computedHash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}
