// Package keystore loads, generates and persists the 256-bit tunnel key.
//
// Loading is deliberately forgiving: a malformed key file is coerced into some deterministic
// key instead of failing. Every coercion is reported as a LoadResult so callers can warn when
// two peers may have silently diverged.
package keystore

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/floegence/lantun/internal/logging"
	"github.com/floegence/lantun/internal/securefile"
)

// KeySize is the key length in bytes (AES-256).
const KeySize = 32

// HexKeyLen is the length of a hex-encoded key.
const HexKeyLen = 2 * KeySize

// DefaultFileName is the key file name used under the user's home directory.
const DefaultFileName = ".lantun_key"

// ErrInvalidKeyLength is returned by Save and ParseHex for material that is neither 32 raw
// bytes nor 64 hex characters.
var ErrInvalidKeyLength = errors.New("key must be 32 bytes or 64 hex characters")

// Key is a symmetric tunnel key.
type Key [KeySize]byte

// Hex returns the lowercase hex encoding of k.
func (k Key) Hex() string { return hex.EncodeToString(k[:]) }

// Fingerprint returns a short identifier peers can compare out of band without exposing the key.
func (k Key) Fingerprint() string {
	sum := sha256.Sum256(k[:])
	return hex.EncodeToString(sum[:4])
}

// String never prints key material.
func (k Key) String() string { return "key:" + k.Fingerprint() }

// LoadResult reports which normalization path produced a loaded key.
type LoadResult int

const (
	// Exact means the file held exactly 32 raw bytes.
	Exact LoadResult = iota + 1
	// HexDecoded means the first 64 hex characters of the file were decoded.
	HexDecoded
	// HashDerived means the file content was hashed down to 32 bytes.
	HashDerived
	// Generated means the file was missing or empty and a fresh key was written.
	Generated
)

func (r LoadResult) String() string {
	switch r {
	case Exact:
		return "exact"
	case HexDecoded:
		return "hex_decoded"
	case HashDerived:
		return "hash_derived"
	case Generated:
		return "generated"
	default:
		return "unknown"
	}
}

// Store persists a key at Path.
type Store struct {
	Path   string
	Logger *zap.Logger
}

// DefaultPath returns ~/.lantun_key, or ./.lantun_key when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

func (s *Store) path() string {
	if s == nil || strings.TrimSpace(s.Path) == "" {
		return DefaultPath()
	}
	return s.Path
}

func (s *Store) logger() *zap.Logger {
	if s == nil {
		return zap.NewNop()
	}
	return logging.OrNop(s.Logger).Named("keystore")
}

// Generate draws a fresh random key and writes it to the store, replacing any existing file.
func (s *Store) Generate() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	if err := s.write(k); err != nil {
		return Key{}, err
	}
	s.logger().Info("generated key", zap.String("path", s.path()), zap.String("fingerprint", k.Fingerprint()))
	return k, nil
}

// Load reads the key file and normalizes its content; see Parse for the rules.
//
// A missing or empty file triggers Generate. Read errors other than "not exist" are returned.
func (s *Store) Load() (Key, LoadResult, error) {
	p := s.path()
	data, err := os.ReadFile(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Key{}, 0, fmt.Errorf("read key file: %w", err)
	}
	log := s.logger().With(zap.String("path", p))
	if len(data) == 0 {
		log.Info("key file missing or empty, generating a new key")
		k, err := s.Generate()
		if err != nil {
			return Key{}, 0, err
		}
		return k, Generated, nil
	}

	k, res := Parse(data)
	switch res {
	case HashDerived:
		log.Warn("key file is neither raw nor hex, derived key by hashing its content",
			zap.Int("bytes", len(data)), zap.String("fingerprint", k.Fingerprint()))
	default:
		log.Debug("loaded key", zap.Stringer("result", res), zap.String("fingerprint", k.Fingerprint()))
	}
	return k, res, nil
}

// Save normalizes material (32 raw bytes, or a 64-character hex string with optional surrounding
// whitespace) and writes it atomically.
func (s *Store) Save(material []byte) error {
	k, err := ParseStrict(material)
	if err != nil {
		return err
	}
	if err := s.write(k); err != nil {
		return err
	}
	s.logger().Info("saved key", zap.String("path", s.path()), zap.String("fingerprint", k.Fingerprint()))
	return nil
}

func (s *Store) write(k Key) error {
	if err := securefile.WriteFileAtomic(s.path(), k[:], securefile.FileMode); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// Parse normalizes non-empty key file content.
//
// In priority order: exactly 32 bytes are used as-is; otherwise non-hex characters are stripped
// and, when at least 64 hex characters remain, the first 64 are decoded; otherwise the raw
// content is hashed with SHA-256.
func Parse(data []byte) (Key, LoadResult) {
	var k Key
	if len(data) == KeySize {
		copy(k[:], data)
		return k, Exact
	}
	if digits := hexDigits(data); len(digits) >= HexKeyLen {
		// hexDigits only keeps valid digits, so decoding cannot fail.
		_, _ = hex.Decode(k[:], digits[:HexKeyLen])
		return k, HexDecoded
	}
	return Key(sha256.Sum256(data)), HashDerived
}

// ParseStrict accepts only 32 raw bytes or exactly 64 hex characters.
func ParseStrict(material []byte) (Key, error) {
	var k Key
	if len(material) == KeySize {
		copy(k[:], material)
		return k, nil
	}
	return ParseHex(string(material))
}

// ParseHex decodes a 64-character hex key; surrounding whitespace is ignored.
func ParseHex(s string) (Key, error) {
	var k Key
	s = strings.TrimSpace(s)
	if len(s) != HexKeyLen {
		return Key{}, ErrInvalidKeyLength
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKeyLength, err)
	}
	return k, nil
}

func hexDigits(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, c := range bytes.ToLower(data) {
		if ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') {
			out = append(out, c)
		}
	}
	return out
}
