package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltSize = 16

var (
	ErrEmptyPassphrase = errors.New("file store passphrase is empty")
	ErrCorruptStore    = errors.New("credential file is corrupt or the passphrase is wrong")
)

// FileStore keeps the pair in a single file sealed with XChaCha20-Poly1305
// under an argon2id-derived key. The whole file is rewritten on every
// change and swapped in with a rename, so a crash never leaves half a pair.
type FileStore struct {
	mu         sync.RWMutex
	path       string
	passphrase []byte
	creds      Credentials
}

// OpenFileStore loads path if it exists; a missing file is an empty store.
func OpenFileStore(path string, passphrase []byte) (*FileStore, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	fs := &FileStore{path: path, passphrase: append([]byte(nil), passphrase...)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	creds, err := fs.open(data)
	if err != nil {
		return nil, err
	}
	fs.creds = creds
	return fs, nil
}

func (f *FileStore) Get(_ context.Context) (Credentials, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.creds, nil
}

func (f *FileStore) Set(_ context.Context, creds Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.persist(creds); err != nil {
		return err
	}
	f.creds = creds
	return nil
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	f.creds = Credentials{}
	return nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func (f *FileStore) seal(creds Credentials) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(f.passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, salt), nil
}

func (f *FileStore) open(data []byte) (Credentials, error) {
	var creds Credentials
	if len(data) < saltSize+chacha20poly1305.NonceSizeX {
		return creds, ErrCorruptStore
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := data[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(deriveKey(f.passphrase, salt))
	if err != nil {
		return creds, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return creds, ErrCorruptStore
	}
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return creds, nil
}

func (f *FileStore) persist(creds Credentials) error {
	data, err := f.seal(creds)
	if err != nil {
		return fmt.Errorf("failed to seal credentials: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to restrict credential file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}
