// Package vault provides encrypted at-rest storage for broker credentials.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"brokersync/internal/errors"
	"brokersync/internal/models"
)

const (
	// keySize is the size of the AES-256 key in bytes.
	keySize = 32
	// saltSize is the size of the salt for key derivation.
	saltSize = 16
	// nonceSize is the size of the GCM nonce.
	nonceSize = 12
	// pbkdf2Iterations is the number of iterations for key derivation.
	pbkdf2Iterations = 100000

	blobVersion = 1
)

// BlobStore persists opaque encrypted credential blobs keyed by account id.
type BlobStore interface {
	SaveCredentialBlob(ctx context.Context, accountID string, blob []byte) error
	GetCredentialBlob(ctx context.Context, accountID string) ([]byte, error)
}

// Vault encrypts and decrypts per-account broker credentials. Plaintext
// credentials never reach durable storage or logs. Safe for concurrent use:
// the vault holds no mutable state.
type Vault struct {
	store     BlobStore
	masterKey string
}

// New creates a Vault backed by the given blob store. The master key is
// delegated key material from the external key-management capability.
func New(store BlobStore, masterKey string) *Vault {
	return &Vault{store: store, masterKey: masterKey}
}

// envelope is the serialized form of one encrypted credential set.
type envelope struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Version    int    `json:"version"`
}

// Store encrypts the credential set and persists it for the account.
func (v *Vault) Store(ctx context.Context, accountID string, creds models.CredentialSet) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return errors.NewCredentialError(accountID, "serializing credentials", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return errors.NewCredentialError(accountID, "generating salt", err)
	}

	key := deriveKey(v.masterKey, salt)
	nonce, ciphertext, err := encrypt(plaintext, key)
	if err != nil {
		return errors.NewCredentialError(accountID, "encrypting credentials", err)
	}

	blob, err := json.Marshal(envelope{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Version:    blobVersion,
	})
	if err != nil {
		return errors.NewCredentialError(accountID, "serializing envelope", err)
	}

	if err := v.store.SaveCredentialBlob(ctx, accountID, blob); err != nil {
		return errors.NewCredentialError(accountID, "persisting credentials", err)
	}
	return nil
}

// Retrieve loads and decrypts the credential set for the account.
// A missing or corrupted record is a CredentialError, never a default.
func (v *Vault) Retrieve(ctx context.Context, accountID string) (models.CredentialSet, error) {
	var creds models.CredentialSet

	blob, err := v.store.GetCredentialBlob(ctx, accountID)
	if err != nil {
		return creds, errors.NewCredentialError(accountID, "loading credentials", err)
	}
	if len(blob) == 0 {
		return creds, errors.NewCredentialError(accountID, "no credentials stored", nil)
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return creds, errors.NewCredentialError(accountID, "corrupted credential record", err)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return creds, errors.NewCredentialError(accountID, "corrupted salt", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return creds, errors.NewCredentialError(accountID, "corrupted nonce", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return creds, errors.NewCredentialError(accountID, "corrupted ciphertext", err)
	}

	key := deriveKey(v.masterKey, salt)
	plaintext, err := decrypt(ciphertext, key, nonce)
	if err != nil {
		return creds, errors.NewCredentialError(accountID, "decrypting credentials", err)
	}

	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return creds, errors.NewCredentialError(accountID, "parsing credentials", err)
	}
	return creds, nil
}

// deriveKey derives an encryption key from the master key using PBKDF2.
func deriveKey(masterKey string, salt []byte) []byte {
	return pbkdf2.Key([]byte(masterKey), salt, pbkdf2Iterations, keySize, sha256.New)
}

// encrypt encrypts plaintext using AES-256-GCM.
func encrypt(plaintext, key []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce = make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// decrypt decrypts ciphertext using AES-256-GCM.
func decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	// gcm.Open panics on a wrong-length nonce, so a truncated blob
	// must be rejected here.
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	return plaintext, nil
}
