package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyProvider supplies the symmetric key used to seal message bodies.
// The default implementation derives it once from a configured secret;
// alternative implementations may add rotation or versioning later.
type KeyProvider interface {
	MessageKey() []byte
}

// DerivedKeyProvider holds a key derived from a secret via a one-way
// digest. The secret itself is never retained.
type DerivedKeyProvider struct {
	key [sha256.Size]byte
}

func NewDerivedKeyProvider(secret string) *DerivedKeyProvider {
	return &DerivedKeyProvider{key: sha256.Sum256([]byte(secret))}
}

func (p *DerivedKeyProvider) MessageKey() []byte {
	k := p.key
	return k[:]
}

// EncryptionError reports input the codec refuses to seal. Callers must
// not persist anything when they see it.
type EncryptionError struct {
	Reason string
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encrypt: %s", e.Reason)
}

// DecryptionError reports ciphertext that could not be opened, either
// corrupt data or a key/iv mismatch. Read paths render a placeholder
// instead of propagating it.
type DecryptionError struct {
	Cause error
}

func (e *DecryptionError) Error() string {
	if e.Cause == nil {
		return "decrypt: unable to open ciphertext"
	}
	return fmt.Sprintf("decrypt: %v", e.Cause)
}

func (e *DecryptionError) Unwrap() error { return e.Cause }

// Codec seals and opens message bodies with XChaCha20-Poly1305. A fresh
// random IV is generated per Encrypt call and must be stored alongside
// the ciphertext; it is required input to Decrypt.
type Codec struct {
	aead cipher.AEAD
}

func NewCodec(kp KeyProvider) (*Codec, error) {
	aead, err := chacha20poly1305.NewX(kp.MessageKey())
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// IVSize is the length of the per-message initialization vector.
const IVSize = chacha20poly1305.NonceSizeX

var randRead = rand.Read

func (c *Codec) Encrypt(plaintext string) (ciphertext, iv []byte, err error) {
	if plaintext == "" {
		return nil, nil, &EncryptionError{Reason: "empty plaintext"}
	}

	iv = make([]byte, IVSize)
	if _, err := randRead(iv); err != nil {
		// Not an input problem: the process's entropy source failed.
		return nil, nil, fmt.Errorf("iv generation: %w", err)
	}

	ciphertext = c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return ciphertext, iv, nil
}

func (c *Codec) Decrypt(ciphertext, iv []byte) (string, error) {
	if len(iv) != IVSize {
		return "", &DecryptionError{Cause: fmt.Errorf("iv is %d bytes, want %d", len(iv), IVSize)}
	}

	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	return string(plaintext), nil
}
