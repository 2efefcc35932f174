package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvelopeHeader is the first line of a rendered secrets file
const EnvelopeHeader = "# plfm-secrets v1"

// Manager encrypts and decrypts secret bundles with the master key
type Manager struct {
	masterKey []byte // 32 bytes for AES-256
}

// NewManager creates a manager with the given master key.
// The key must be 32 bytes for AES-256-GCM.
func NewManager(key []byte) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Manager{masterKey: key}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns encrypted data with nonce prepended.
func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	block, err := aes.NewCipher(m.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts data encrypted with Encrypt.
// Expects nonce to be prepended to ciphertext.
func (m *Manager) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}

	block, err := aes.NewCipher(m.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Render produces the canonical dotenv envelope for a key/value set.
// Keys are sorted so the same set always hashes the same.
func Render(values map[string]string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(EnvelopeHeader)
	b.WriteByte('\n')
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(escapeValue(values[k]))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Parse reads a rendered envelope back into a key/value set
func Parse(data []byte) (map[string]string, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || lines[0] != EnvelopeHeader {
		return nil, fmt.Errorf("missing envelope header %q", EnvelopeHeader)
	}

	values := make(map[string]string)
	for _, line := range lines[1:] {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		values[line[:idx]] = unescapeValue(line[idx+1:])
	}
	return values, nil
}

// ContentHash is the hex SHA-256 of the rendered envelope. Version ids
// and change detection both key off it.
func ContentHash(rendered []byte) string {
	sum := sha256.Sum256(rendered)
	return hex.EncodeToString(sum[:])
}

// Key and value size caps
const (
	MaxKeyBytes   = 256
	MaxValueBytes = 64 * 1024
)

// ValidateKey enforces the POSIX-style variable name shape
// [A-Za-z_][A-Za-z0-9_]* and the key size cap.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("secret key cannot be empty")
	}
	if len(key) > MaxKeyBytes {
		return fmt.Errorf("secret key exceeds %d bytes", MaxKeyBytes)
	}
	for i, r := range key {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("secret key %q cannot start with a digit", key)
			}
		default:
			return fmt.Errorf("secret key %q may only contain letters, digits and _", key)
		}
	}
	return nil
}

// ValidateValue enforces the per-value size cap
func ValidateValue(key, value string) error {
	if len(value) > MaxValueBytes {
		return fmt.Errorf("secret %q value exceeds %d bytes", key, MaxValueBytes)
	}
	return nil
}

// WriteFile writes the rendered envelope atomically with mode 0400.
// Write to a temp file in the same directory, fsync, then rename.
func WriteFile(path string, rendered []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".platform-env-*")
	if err != nil {
		return fmt.Errorf("create temp secrets file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(rendered); err != nil {
		tmp.Close()
		return fmt.Errorf("write secrets file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync secrets file: %w", err)
	}
	if err := tmp.Chmod(0400); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod secrets file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close secrets file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename secrets file: %w", err)
	}
	return nil
}

func escapeValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, "\r", `\r`)
	return v
}

func unescapeValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			switch v[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(v[i])
	}
	return b.String()
}
