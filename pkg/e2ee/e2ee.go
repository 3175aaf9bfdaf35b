// Package e2ee implements the direct-message crypto channel: curve25519 key
// pairs, a precomputed shared key per pair of users, and secretbox sealing
// with a fresh random nonce per message.
//
// Room messages are not encrypted. Only direct messages pass through here.
package e2ee

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
)

var (
	// ErrDecrypt covers every way opening a message can fail: wrong key,
	// corrupted nonce or tampered ciphertext.
	ErrDecrypt    = errors.New("e2ee: unable to decrypt message")
	ErrInvalidKey = errors.New("e2ee: invalid key")
)

// KeyPair holds base64 encoded keys. PrivateKey never leaves the device.
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

type SharedKey [KeySize]byte

func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(rand.Reader)
}

func generateKeyPair(r io.Reader) (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{
		PublicKey:  base64.StdEncoding.EncodeToString(pub[:]),
		PrivateKey: base64.StdEncoding.EncodeToString(priv[:]),
	}, nil
}

func ParsePublicKey(b64 string) (*[KeySize]byte, error) {
	return parseKey(b64)
}

func ParsePrivateKey(b64 string) (*[KeySize]byte, error) {
	return parseKey(b64)
}

func parseKey(b64 string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) != KeySize {
		return nil, ErrInvalidKey
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// ValidNonce reports whether b64 decodes to a secretbox nonce.
func ValidNonce(b64 string) bool {
	raw, err := base64.StdEncoding.DecodeString(b64)
	return err == nil && len(raw) == NonceSize
}

// DeriveSharedKey computes the key both participants arrive at:
// DeriveSharedKey(a.priv, b.pub) == DeriveSharedKey(b.priv, a.pub).
func DeriveSharedKey(myPrivateB64, theirPublicB64 string) (*SharedKey, error) {
	priv, err := ParsePrivateKey(myPrivateB64)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	pub, err := ParsePublicKey(theirPublicB64)
	if err != nil {
		return nil, fmt.Errorf("peer public key: %w", err)
	}
	var shared SharedKey
	box.Precompute((*[KeySize]byte)(&shared), pub, priv)
	return &shared, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns the base64
// ciphertext and nonce.
func Seal(key *SharedKey, plaintext string) (ciphertext, nonce string, err error) {
	var n [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, []byte(plaintext), &n, (*[KeySize]byte)(key))
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(n[:]), nil
}

// Open decrypts a sealed message. Any failure is reported as ErrDecrypt.
func Open(key *SharedKey, ciphertextB64, nonceB64 string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", ErrDecrypt
	}
	rawNonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil || len(rawNonce) != NonceSize {
		return "", ErrDecrypt
	}
	var n [NonceSize]byte
	copy(n[:], rawNonce)

	plain, ok := secretbox.Open(nil, sealed, &n, (*[KeySize]byte)(key))
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func EncryptFor(myPrivateB64, theirPublicB64, plaintext string) (ciphertext, nonce string, err error) {
	key, err := DeriveSharedKey(myPrivateB64, theirPublicB64)
	if err != nil {
		return "", "", err
	}
	return Seal(key, plaintext)
}

// DecryptFrom returns ErrDecrypt for bad keys as well as bad ciphertext so
// callers can render a single placeholder for every failure.
func DecryptFrom(myPrivateB64, theirPublicB64, ciphertextB64, nonceB64 string) (string, error) {
	key, err := DeriveSharedKey(myPrivateB64, theirPublicB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return Open(key, ciphertextB64, nonceB64)
}
