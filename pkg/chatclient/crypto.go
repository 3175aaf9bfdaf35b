package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/4xmen/goftegu/pkg/e2ee"
	"github.com/4xmen/goftegu/pkg/protocol"
)

// Placeholder is rendered in place of a message that cannot be decrypted.
const Placeholder = "[unable to decrypt message]"

// ErrNoRecipientKey is returned when a direct message cannot be encrypted
// because the recipient never published a public key.
var ErrNoRecipientKey = errors.New("recipient has no public key")

// KeyLookup resolves a user's current public key.
type KeyLookup interface {
	PublicKey(ctx context.Context, userID int) (string, error)
}

// Decrypter holds the on-device private key and turns received records into
// display entries.
type Decrypter struct {
	self       int
	privateKey string
	keys       KeyLookup

	mu      sync.Mutex
	current map[int]string
}

func NewDecrypter(self int, privateKey string, keys KeyLookup) *Decrypter {
	return &Decrypter{
		self:       self,
		privateKey: privateKey,
		keys:       keys,
		current:    make(map[int]string),
	}
}

// Forget drops a cached public key, for example after a user:status shows a
// new one.
func (d *Decrypter) Forget(userID int) {
	d.mu.Lock()
	delete(d.current, userID)
	d.mu.Unlock()
}

func (d *Decrypter) publicKey(ctx context.Context, userID int) (string, error) {
	d.mu.Lock()
	key, ok := d.current[userID]
	d.mu.Unlock()
	if ok {
		return key, nil
	}

	key, err := d.keys.PublicKey(ctx, userID)
	if err != nil {
		return "", err
	}
	if key != "" {
		d.mu.Lock()
		d.current[userID] = key
		d.mu.Unlock()
	}
	return key, nil
}

// Entry decrypts m for display. Room messages and direct messages without a
// nonce pass through. A received message is opened with the sender key
// snapshot it carries; an own message with the recipient's current key.
// Failure never returns an error: the entry is flagged and shows
// Placeholder.
func (d *Decrypter) Entry(ctx context.Context, m protocol.Message) Entry {
	e := Entry{Message: m, Text: m.Content, State: StateSent}
	if m.IsGroup() || !m.Encrypted() {
		return e
	}

	var (
		peerKey string
		err     error
	)
	if m.SenderID == d.self {
		peerKey, err = d.publicKey(ctx, m.RecipientID)
	} else {
		peerKey = m.SenderPublicKey
		if peerKey == "" {
			peerKey, err = d.publicKey(ctx, m.SenderID)
		}
	}

	if err == nil && peerKey != "" {
		var text string
		if text, err = e2ee.DecryptFrom(d.privateKey, peerKey, m.Content, m.Nonce); err == nil {
			e.Text = text
			return e
		}
	}

	e.Text = Placeholder
	e.Undecryptable = true
	return e
}

// Encrypt seals text for recipient with a fresh nonce.
func (d *Decrypter) Encrypt(ctx context.Context, recipient int, text string) (ciphertext, nonce string, err error) {
	key, err := d.publicKey(ctx, recipient)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch public key of user %d: %w", recipient, err)
	}
	if key == "" {
		return "", "", ErrNoRecipientKey
	}
	return e2ee.EncryptFor(d.privateKey, key, text)
}

// Preview decrypts the last message of a conversation list row. Rows carry
// only the peer's current key, which is used for both directions.
func (d *Decrypter) Preview(p protocol.ConversationPreview) string {
	if p.LastMessageNonce == "" {
		return p.LastMessage
	}
	if p.PublicKey == "" {
		return Placeholder
	}
	text, err := e2ee.DecryptFrom(d.privateKey, p.PublicKey, p.LastMessage, p.LastMessageNonce)
	if err != nil {
		return Placeholder
	}
	return text
}
