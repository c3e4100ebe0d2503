// Package envelope encrypts single tunnel messages with AES-256-CBC and PKCS#7 padding.
//
// An envelope is IV(16) || ciphertext. Each call draws a fresh random IV.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// IVSize is the CBC initialization vector length.
const IVSize = aes.BlockSize

// MinSize is the smallest well-formed envelope: an IV and one padded block.
const MinSize = IVSize + aes.BlockSize

var (
	// ErrDecryptionFailed covers short envelopes, misaligned ciphertext and bad padding.
	// Bad padding almost always means the peer uses a different key.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Overhead returns the envelope size for a plaintext of n bytes.
func Overhead(n int) int {
	return IVSize + (n/aes.BlockSize+1)*aes.BlockSize
}

// Encrypt pads plaintext and encrypts it under key with a fresh IV.
func Encrypt(key [32]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, Overhead(len(plaintext)))
	iv := out[:IVSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}
	body := out[IVSize:]
	copy(body, plaintext)
	pad := byte(len(body) - len(plaintext))
	for i := len(plaintext); i < len(body); i++ {
		body[i] = pad
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, body)
	return out, nil
}

// Decrypt reverses Encrypt. The envelope is not modified.
func Decrypt(key [32]byte, envelope []byte) ([]byte, error) {
	if len(envelope) < MinSize {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", ErrDecryptionFailed, len(envelope))
	}
	ct := envelope[IVSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrDecryptionFailed)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, envelope[:IVSize]).CryptBlocks(plain, ct)
	return unpad(plain)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryptionFailed)
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryptionFailed)
	}
	return b[:len(b)-n], nil
}
