package fevalgrid

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// EncryptionConfig configures sealing of stored objects.
type EncryptionConfig struct {
	// Enabled turns on encryption for every object in the backend.
	Enabled bool `yaml:"enabled"`
	// Key is a raw AES-256 key. If empty, Password is used to derive one.
	Key []byte `yaml:"-"`
	// Password is used to derive a per-object key via PBKDF2.
	Password string `yaml:"password"`
}

// Encryptor provides encryption/decryption for whole objects.
type Encryptor struct {
	gcm  cipher.AEAD
	salt []byte
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// NewEncryptor creates an encryptor with a fresh salt.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	salt := make([]byte, EncryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return NewEncryptorWithSalt(cfg, salt)
}

// NewEncryptorWithSalt creates an encryptor using an existing salt (for decryption).
func NewEncryptorWithSalt(cfg EncryptionConfig, salt []byte) (*Encryptor, error) {
	if len(salt) != EncryptionSaltSize {
		return nil, errors.New("invalid salt size")
	}

	var key []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, newArgumentError("encryption key", "", errors.New("must be 32 bytes for AES-256"))
		}
		key = cfg.Key
	case cfg.Password != "":
		key = pbkdf2.Key([]byte(cfg.Password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	default:
		return nil, newArgumentError("encryption", "", errors.New("enabled but no key or password provided"))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt}, nil
}

// Salt returns the salt used for key derivation.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

// Encrypt encrypts plaintext and returns ciphertext with prepended nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext (with prepended nonce) and returns plaintext.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionNonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:EncryptionNonceSize]
	return e.gcm.Open(nil, nonce, ciphertext[EncryptionNonceSize:], nil)
}

// MagicEncrypted is the magic bytes for sealed objects.
var MagicEncrypted = [4]byte{'F', 'G', 'S', 'E'}

// EncryptedHeaderSize is the size of the sealed object header.
const EncryptedHeaderSize = 4 + 1 + EncryptionSaltSize

// Seal encrypts data into a self-describing object: magic, version, salt,
// nonce and ciphertext.
func Seal(cfg EncryptionConfig, data []byte) ([]byte, error) {
	enc, err := NewEncryptor(cfg)
	if err != nil {
		return nil, err
	}
	ct, err := enc.Encrypt(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(EncryptedHeaderSize + len(ct))
	buf.Write(MagicEncrypted[:])
	buf.WriteByte(1)
	buf.Write(enc.Salt())
	buf.Write(ct)
	return buf.Bytes(), nil
}

// Unseal reverses Seal.
func Unseal(cfg EncryptionConfig, sealed []byte) ([]byte, error) {
	if len(sealed) < EncryptedHeaderSize || !bytes.Equal(sealed[:4], MagicEncrypted[:]) {
		return nil, fmt.Errorf("%w: not a sealed object", ErrDecrypt)
	}
	if sealed[4] != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrDecrypt, sealed[4])
	}
	enc, err := NewEncryptorWithSalt(cfg, sealed[5:EncryptedHeaderSize])
	if err != nil {
		return nil, err
	}
	plain, err := enc.Decrypt(sealed[EncryptedHeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// EncryptedBackend seals every object written through it and opens every
// object read through it.
type EncryptedBackend struct {
	StorageBackend
	cfg EncryptionConfig
}

// NewEncryptedBackend wraps backend. The configuration is checked up front
// so a missing password is an argument error rather than a write failure.
func NewEncryptedBackend(backend StorageBackend, cfg EncryptionConfig) (*EncryptedBackend, error) {
	if _, err := NewEncryptorWithSalt(cfg, make([]byte, EncryptionSaltSize)); err != nil {
		return nil, err
	}
	return &EncryptedBackend{StorageBackend: backend, cfg: cfg}, nil
}

func (e *EncryptedBackend) Read(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.StorageBackend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := Unseal(e.cfg, sealed)
	if err != nil {
		return nil, newStorageError(StorageErrorTypeRead, "cannot open sealed object", key, err)
	}
	return plain, nil
}

func (e *EncryptedBackend) Write(ctx context.Context, key string, data []byte) error {
	sealed, err := Seal(e.cfg, data)
	if err != nil {
		return newStorageError(StorageErrorTypeWrite, "cannot seal object", key, err)
	}
	return e.StorageBackend.Write(ctx, key, sealed)
}

func (e *EncryptedBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := e.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	return readAllFrom(data), nil
}

func (e *EncryptedBackend) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	return newBufferedObject(func(data []byte) error {
		return e.Write(ctx, key, data)
	}), nil
}

// Append reseals the whole object; sealed objects cannot be extended in place.
func (e *EncryptedBackend) Append(ctx context.Context, key string, data []byte) error {
	existing, err := e.Read(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return e.Write(ctx, key, append(existing, data...))
}
