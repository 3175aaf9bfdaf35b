package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
)

var ErrWrongPassphrase = errors.New("e2ee: wrong passphrase")

const backupVersion = 1

// Backup is the on-disk form of a private key sealed with a passphrase.
type Backup struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	MemoryKiB  uint32 `json:"memory_kib"`
	Iterations uint32 `json:"iterations"`
	Parallel   uint8  `json:"parallel"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	PublicKey  string `json:"public_key"`
}

type backupParams struct {
	iterations uint32
	memoryKiB  uint32
	parallel   uint8
}

var defaultBackupParams = backupParams{iterations: 2, memoryKiB: 64 * 1024, parallel: 1}

// SealBackup protects kp.PrivateKey with an argon2id derived AES-256-GCM key.
func SealBackup(kp *KeyPair, passphrase string) (*Backup, error) {
	return sealBackup(kp, passphrase, defaultBackupParams)
}

func sealBackup(kp *KeyPair, passphrase string, p backupParams) (*Backup, error) {
	if passphrase == "" {
		return nil, errors.New("e2ee: passphrase required")
	}
	if _, err := ParsePrivateKey(kp.PrivateKey); err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := backupCipher(passphrase, salt, p)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(kp.PrivateKey), nil)

	return &Backup{
		Version:    backupVersion,
		KDF:        "argon2id",
		Salt:       base64.RawStdEncoding.EncodeToString(salt),
		MemoryKiB:  p.memoryKiB,
		Iterations: p.iterations,
		Parallel:   p.parallel,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ct),
		PublicKey:  kp.PublicKey,
	}, nil
}

// OpenBackup recovers the key pair. The public half is recomputed from the
// private key rather than trusted from the document.
func OpenBackup(b *Backup, passphrase string) (*KeyPair, error) {
	if b.Version != backupVersion || b.KDF != "argon2id" {
		return nil, fmt.Errorf("e2ee: unsupported backup version %d (%s)", b.Version, b.KDF)
	}
	salt, err := base64.RawStdEncoding.DecodeString(b.Salt)
	if err != nil {
		return nil, fmt.Errorf("e2ee: corrupt backup salt: %w", err)
	}
	nonce, err := base64.RawStdEncoding.DecodeString(b.Nonce)
	if err != nil {
		return nil, fmt.Errorf("e2ee: corrupt backup nonce: %w", err)
	}
	ct, err := base64.RawStdEncoding.DecodeString(b.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("e2ee: corrupt backup ciphertext: %w", err)
	}

	aead, err := backupCipher(passphrase, salt, backupParams{iterations: b.Iterations, memoryKiB: b.MemoryKiB, parallel: b.Parallel})
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errors.New("e2ee: corrupt backup nonce")
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	priv, err := ParsePrivateKey(string(plain))
	if err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("e2ee: derive public key: %w", err)
	}
	return &KeyPair{
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: string(plain),
	}, nil
}

func backupCipher(passphrase string, salt []byte, p backupParams) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, p.iterations, p.memoryKiB, p.parallel, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func WriteBackup(path string, b *Backup) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func ReadBackup(path string) (*Backup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("e2ee: malformed backup file: %w", err)
	}
	return &b, nil
}
