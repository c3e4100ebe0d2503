package keystore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleKey() Key {
	var k Key
	for i := range k {
		k[i] = byte(i * 7)
	}
	return k
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return &Store{Path: filepath.Join(t.TempDir(), "vpn_key")}
}

func TestLoad_RawBinaryUnchanged(t *testing.T) {
	s := newStore(t)
	want := sampleKey()
	require.NoError(t, os.WriteFile(s.Path, want[:], 0o600))

	got, res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Exact, res)
	assert.Equal(t, want, got)
}

func TestLoad_HexText(t *testing.T) {
	s := newStore(t)
	want := sampleKey()
	require.NoError(t, os.WriteFile(s.Path, []byte(want.Hex()+"\n"), 0o600))

	got, res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, HexDecoded, res)
	assert.Equal(t, want, got)
}

func TestLoad_LongHexWithJunkUsesFirst64Digits(t *testing.T) {
	s := newStore(t)
	want := sampleKey()
	h := strings.ToUpper(want.Hex())
	// 70 hex characters with whitespace and punctuation mixed in.
	content := " " + h[:10] + " - " + h[10:40] + "\r\n" + h[40:] + "abcdef"
	require.NoError(t, os.WriteFile(s.Path, []byte(content), 0o600))

	got, res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, HexDecoded, res)
	assert.Equal(t, want, got)
}

func TestLoad_ShortGarbageIsHashed(t *testing.T) {
	s := newStore(t)
	content := []byte("not a key at all")
	require.NoError(t, os.WriteFile(s.Path, content, 0o600))

	got, res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, HashDerived, res)
	assert.Equal(t, Key(sha256.Sum256(content)), got)

	again, _, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, got, again, "derivation must be deterministic")
}

func TestLoad_EmptyFileGeneratesAndPersists(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path, nil, 0o600))

	got, res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Generated, res)

	onDisk, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	assert.Equal(t, got[:], onDisk)

	again, res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Exact, res)
	assert.Equal(t, got, again)
}

func TestLoad_MissingFileGenerates(t *testing.T) {
	s := newStore(t)
	_, res, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Generated, res)
	_, err = os.Stat(s.Path)
	require.NoError(t, err)
}

func TestLoad_ReadErrorIsReturned(t *testing.T) {
	s := &Store{Path: t.TempDir()}
	_, _, err := s.Load()
	require.Error(t, err)
}

func TestGenerate_OverwritesAndRestrictsMode(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path, []byte("old"), 0o644))

	k1, err := s.Generate()
	require.NoError(t, err)
	k2, err := s.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	onDisk, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(k2[:], onDisk))

	if runtime.GOOS != "windows" {
		st, err := os.Stat(s.Path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	}
}

func TestSave(t *testing.T) {
	want := sampleKey()
	cases := []struct {
		name     string
		material []byte
		ok       bool
	}{
		{"raw", want[:], true},
		{"hex", []byte(want.Hex()), true},
		{"hex with newline", []byte(want.Hex() + "\n"), true},
		{"short hex", []byte(want.Hex()[:62]), false},
		{"long hex", []byte(want.Hex() + "00"), false},
		{"non hex", []byte(strings.Repeat("zz", 32)), false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			err := s.Save(tc.material)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidKeyLength)
				_, statErr := os.Stat(s.Path)
				require.True(t, os.IsNotExist(statErr))
				return
			}
			require.NoError(t, err)
			got, res, err := s.Load()
			require.NoError(t, err)
			assert.Equal(t, Exact, res)
			assert.Equal(t, want, got)
		})
	}
}

func TestKeyFormatting(t *testing.T) {
	k := sampleKey()
	assert.Equal(t, hex.EncodeToString(k[:]), k.Hex())
	assert.Len(t, k.Fingerprint(), 8)
	assert.NotContains(t, k.String(), k.Hex())
	assert.Equal(t, "hash_derived", HashDerived.String())
}
