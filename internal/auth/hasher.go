package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// DefaultMaxPasswordLength is the password policy limit, in characters,
// applied after trimming surrounding whitespace.
const DefaultMaxPasswordLength = 256

// Scheme identifies the algorithm that produced a stored credential.
type Scheme string

const (
	SchemeArgon2id Scheme = "argon2id"
	SchemeBcrypt   Scheme = "bcrypt"
)

var errMalformedCredential = errors.New("malformed credential")

// Argon2Params are the tunable Argon2id parameters. They are encoded into
// every credential so changing them only affects new hashes.
type Argon2Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params mirrors the argon2-cffi/passlib defaults the stored
// credentials were originally produced with.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:  64 * 1024,
		Time:    3,
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
	}
}

func (p Argon2Params) validate() error {
	if p.Time < 1 {
		return fmt.Errorf("%w: argon2 time must be >= 1", ErrInvalidInput)
	}
	if p.Threads < 1 {
		return fmt.Errorf("%w: argon2 threads must be >= 1", ErrInvalidInput)
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("%w: argon2 memory must be >= 8*threads KiB", ErrInvalidInput)
	}
	if p.KeyLen < 16 {
		return fmt.Errorf("%w: argon2 key length must be >= 16", ErrInvalidInput)
	}
	if p.SaltLen < 8 {
		return fmt.Errorf("%w: argon2 salt length must be >= 8", ErrInvalidInput)
	}
	return nil
}

// HasherOptions configures a Hasher. Zero values fall back to defaults.
type HasherOptions struct {
	MaxLength int
	Argon2    Argon2Params
}

// Hasher hashes passwords with Argon2id and still verifies legacy bcrypt
// credentials so they can be upgraded on the next successful login.
//
// A Hasher is immutable after construction and safe for concurrent use.
type Hasher struct {
	maxLength int
	current   argon2Scheme
	legacy    bcryptScheme
}

// NewHasher validates opts and builds a Hasher.
func NewHasher(opts HasherOptions) (*Hasher, error) {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxPasswordLength
	}
	if opts.Argon2 == (Argon2Params{}) {
		opts.Argon2 = DefaultArgon2Params()
	}
	if err := opts.Argon2.validate(); err != nil {
		return nil, err
	}
	return &Hasher{
		maxLength: opts.MaxLength,
		current:   argon2Scheme{params: opts.Argon2},
	}, nil
}

// Hash trims plaintext and returns an Argon2id credential for it.
func (h *Hasher) Hash(plaintext string) (string, error) {
	pw := strings.TrimSpace(plaintext)
	if utf8.RuneCountInString(pw) > h.maxLength {
		return "", fmt.Errorf("%w: password too long (max %d characters)", ErrInvalidInput, h.maxLength)
	}
	return h.current.hash(pw)
}

// Verify reports whether plaintext matches credential. Malformed or
// unrecognised credentials never match.
func (h *Hasher) Verify(plaintext, credential string) bool {
	s := h.schemeFor(credential)
	if s == nil {
		return false
	}
	ok, err := s.verify(strings.TrimSpace(plaintext), credential)
	return err == nil && ok
}

// NeedsUpgrade reports whether credential should be replaced by a fresh Hash
// after the next successful verification.
func (h *Hasher) NeedsUpgrade(credential string) bool {
	s := h.schemeFor(credential)
	if s == nil {
		return true
	}
	return s.needsUpgrade(credential)
}

// DetectScheme returns the scheme tagged in credential.
func DetectScheme(credential string) (Scheme, bool) {
	switch {
	case strings.HasPrefix(credential, "$argon2id$"):
		return SchemeArgon2id, true
	case strings.HasPrefix(credential, "$2a$"),
		strings.HasPrefix(credential, "$2b$"),
		strings.HasPrefix(credential, "$2y$"):
		return SchemeBcrypt, true
	default:
		return "", false
	}
}

type scheme interface {
	verify(plaintext, credential string) (bool, error)
	needsUpgrade(credential string) bool
}

func (h *Hasher) schemeFor(credential string) scheme {
	tag, ok := DetectScheme(credential)
	if !ok {
		return nil
	}
	switch tag {
	case SchemeArgon2id:
		return h.current
	case SchemeBcrypt:
		return h.legacy
	}
	return nil
}

// argon2Scheme encodes credentials in PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
type argon2Scheme struct {
	params Argon2Params
}

type argon2Credential struct {
	version uint32
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (s argon2Scheme) hash(pw string) (string, error) {
	salt := make([]byte, s.params.SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}
	p := s.params
	key := argon2.IDKey([]byte(pw), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (s argon2Scheme) verify(pw, credential string) (bool, error) {
	c, err := decodeArgon2(credential)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(pw), c.salt, c.time, c.memory, c.threads, uint32(len(c.key)))
	return subtle.ConstantTimeCompare(computed, c.key) == 1, nil
}

func (s argon2Scheme) needsUpgrade(credential string) bool {
	c, err := decodeArgon2(credential)
	if err != nil {
		return true
	}
	return c.version != argon2.Version ||
		c.memory != s.params.Memory ||
		c.time != s.params.Time ||
		c.threads != s.params.Threads ||
		uint32(len(c.key)) != s.params.KeyLen
}

func decodeArgon2(credential string) (*argon2Credential, error) {
	parts := strings.Split(credential, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != string(SchemeArgon2id) {
		return nil, errMalformedCredential
	}
	version, err := parseUintField(parts[2], "v", 32)
	if err != nil {
		return nil, err
	}

	c := &argon2Credential{version: uint32(version)}
	fields := strings.Split(parts[3], ",")
	if len(fields) != 3 {
		return nil, errMalformedCredential
	}
	m, err := parseUintField(fields[0], "m", 32)
	if err != nil {
		return nil, err
	}
	t, err := parseUintField(fields[1], "t", 32)
	if err != nil {
		return nil, err
	}
	p, err := parseUintField(fields[2], "p", 8)
	if err != nil {
		return nil, err
	}
	if t == 0 || p == 0 {
		return nil, errMalformedCredential
	}
	c.memory, c.time, c.threads = uint32(m), uint32(t), uint8(p)

	if c.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("%w: salt: %v", errMalformedCredential, err)
	}
	if c.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("%w: key: %v", errMalformedCredential, err)
	}
	if len(c.key) == 0 {
		return nil, errMalformedCredential
	}
	return c, nil
}

func parseUintField(s, key string, bits int) (uint64, error) {
	v, ok := strings.CutPrefix(s, key+"=")
	if !ok {
		return 0, errMalformedCredential
	}
	n, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errMalformedCredential, key, err)
	}
	return n, nil
}

// bcryptScheme is verify-only; every bcrypt credential is due for upgrade.
type bcryptScheme struct{}

func (bcryptScheme) verify(pw, credential string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(credential), []byte(pw))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

func (bcryptScheme) needsUpgrade(string) bool { return true }
