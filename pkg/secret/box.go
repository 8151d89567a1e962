// Package secret encrypts stored credentials and resolves
// them for the nodes that need them.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

const (
	KeySize   = 32
	NonceSize = 12
	SaltSize  = 32

	ScryptN = 32768
	ScryptR = 8
	ScryptP = 1
)

// Box seals values with AES-256-GCM using a key derived from
// MasterKey with scrypt. Each sealed value has its own salt and nonce
// and is stored as base64(salt || nonce || ciphertext).
type Box struct {
	MasterKey []byte
	// N overrides the scrypt cost parameter. It must be a power of two.
	N int
}

func NewBox(masterKey string) (*Box, error) {
	if masterKey == "" {
		return nil, errors.New("secret master key cannot be empty")
	}
	return &Box{MasterKey: []byte(masterKey)}, nil
}

func (b *Box) derive(salt []byte) (cipher.AEAD, error) {
	if len(b.MasterKey) == 0 {
		return nil, errors.New("secret master key cannot be empty")
	}
	n := b.N
	if n == 0 {
		n = ScryptN
	}
	key, err := scrypt.Key(b.MasterKey, salt, n, ScryptR, ScryptP, KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "deriving key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext.
func (b *Box) Seal(plaintext string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errors.Wrap(err, "generating salt")
	}
	gcm, err := b.derive(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "generating nonce")
	}

	out := append(salt, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.Wrap(err, "decoding sealed value")
	}
	if len(raw) < SaltSize+NonceSize {
		return "", errors.New("sealed value is too short")
	}
	salt, nonce, ct := raw[:SaltSize], raw[SaltSize:SaltSize+NonceSize], raw[SaltSize+NonceSize:]

	gcm, err := b.derive(salt)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypting sealed value")
	}
	return string(plain), nil
}
