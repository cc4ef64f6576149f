// Package secrets stores credentials encrypted at rest with AES-256-GCM.
// The vault is a single JSON file; values are decrypted in memory only.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

const pbkdf2Iterations = 100_000

// Vault is a file-backed secret store. Safe for concurrent use.
type Vault struct {
	path string
	aead cipher.AEAD

	mu      sync.Mutex
	salt    []byte
	entries map[string]string // name -> base64(nonce || ciphertext)
}

type vaultFile struct {
	Salt    string            `json:"salt"`
	Secrets map[string]string `json:"secrets"`
}

// Open loads the vault at path, creating it on first use. The encryption
// key is derived from the passphrase with PBKDF2-SHA256 and a per-vault
// random salt persisted alongside the ciphertext.
func Open(path, passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "vault passphrase is required")
	}

	v := &Vault{path: path, entries: make(map[string]string)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		v.salt = make([]byte, 16)
		if _, err := rand.Read(v.salt); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInternal, "generate salt: %s", err.Error())
		}
	case err != nil:
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "read vault: %s", err.Error())
	default:
		var f vaultFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInternal, "parse vault: %s", err.Error())
		}
		if v.salt, err = base64.StdEncoding.DecodeString(f.Salt); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInternal, "parse vault salt: %s", err.Error())
		}
		if f.Secrets != nil {
			v.entries = f.Secrets
		}
	}

	key, err := pbkdf2.Key(sha256.New, passphrase, v.salt, pbkdf2Iterations, 32)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "derive key: %s", err.Error())
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "aes cipher: %s", err.Error())
	}
	if v.aead, err = cipher.NewGCM(block); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "gcm: %s", err.Error())
	}

	return v, nil
}

// Set encrypts and persists one secret.
func (v *Vault) Set(name, value string) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return schema.NewErrorf(schema.ErrCodeInternal, "generate nonce: %s", err.Error())
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(value), nil)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[name] = base64.StdEncoding.EncodeToString(sealed)
	return v.saveLocked()
}

// Get decrypts one secret. A wrong passphrase surfaces as a decrypt failure.
func (v *Vault) Get(name string) (string, error) {
	v.mu.Lock()
	encoded, ok := v.entries[name]
	v.mu.Unlock()
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "no secret named %q", name)
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInternal, "corrupt secret %q", name)
	}
	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", schema.NewErrorf(schema.ErrCodeInternal, "corrupt secret %q", name)
	}
	plaintext, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodePermanentIO, "decrypt %q: %s", name, err.Error())
	}
	return string(plaintext), nil
}

// Delete removes one secret. Deleting an absent name is not an error.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[name]; !ok {
		return nil
	}
	delete(v.entries, name)
	return v.saveLocked()
}

// List returns the stored secret names, sorted.
func (v *Vault) List() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.entries))
	for name := range v.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *Vault) saveLocked() error {
	f := vaultFile{
		Salt:    base64.StdEncoding.EncodeToString(v.salt),
		Secrets: v.entries,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeInternal, "encode vault: %s", err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return schema.NewErrorf(schema.ErrCodeInternal, "create vault dir: %s", err.Error())
	}

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return schema.NewErrorf(schema.ErrCodeInternal, "write vault: %s", err.Error())
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return schema.NewErrorf(schema.ErrCodeInternal, "write vault: %s", err.Error())
	}
	return nil
}
