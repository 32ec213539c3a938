// Package auth provides the challenge encryption boundary used by the
// device handshake.
//
// It intentionally avoids the vendor algorithm; hosts supply an Encryptor.
package auth

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

// ChallengeLen is the size of one handshake challenge.
const ChallengeLen = 16

var (
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrChallengeLength = errors.New("auth: invalid challenge length")
	ErrNoEncryptor     = errors.New("auth: no encryptor configured")
)

// Encryptor turns a device or host challenge into the expected answer.
type Encryptor interface {
	Encrypt(challenge []byte) ([]byte, error)
}

// EncryptorFunc adapts a function into an Encryptor.
type EncryptorFunc func(challenge []byte) ([]byte, error)

func (f EncryptorFunc) Encrypt(challenge []byte) ([]byte, error) {
	return f(challenge)
}

// StaticKey encrypts a challenge as one AES block under a shared key.
// It is intended only for development peers and tests.
type StaticKey struct {
	Key []byte
}

func (s StaticKey) Encrypt(challenge []byte) ([]byte, error) {
	if len(challenge) != ChallengeLen {
		return nil, fmt.Errorf("%w: %d", ErrChallengeLength, len(challenge))
	}
	block, err := aes.NewCipher(s.Key)
	if err != nil {
		return nil, fmt.Errorf("auth: static key: %w", err)
	}
	out := make([]byte, ChallengeLen)
	block.Encrypt(out, challenge)
	return out, nil
}

// NewChallenge returns ChallengeLen random bytes read from r, or from
// crypto/rand when r is nil.
func NewChallenge(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, ChallengeLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("auth: challenge: %w", err)
	}
	return b, nil
}

// Verify compares an answer in constant time.
func Verify(expected, got []byte) error {
	if len(expected) == 0 {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(expected, got) != 1 {
		return ErrUnauthorized
	}
	return nil
}
