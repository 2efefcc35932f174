package secrets

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	m, err := NewManager(key)
	require.NoError(t, err)
	return m
}

func TestNewManagerRejectsShortKey(t *testing.T) {
	_, err := NewManager([]byte("too-short"))
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := testManager(t)

	plaintext := Render(map[string]string{"DATABASE_URL": "postgres://x"})
	ciphertext, err := m.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	out, err := m.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	a := testManager(t)
	b := testManager(t)

	ciphertext, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestRenderSortsKeys(t *testing.T) {
	rendered := Render(map[string]string{
		"ZED":   "3",
		"ALPHA": "1",
		"MID":   "2",
	})
	assert.Equal(t, "# plfm-secrets v1\nALPHA=1\nMID=2\nZED=3\n", string(rendered))
}

func TestRenderParseRoundTripWithEscapes(t *testing.T) {
	in := map[string]string{
		"MULTI": "line one\nline two",
		"CRLF":  "line one\r\nline two",
		"SLASH": `C:\path`,
	}
	out, err := Parse(Render(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRenderEmptySetIsHeaderOnly(t *testing.T) {
	rendered := Render(map[string]string{})
	assert.Equal(t, "# plfm-secrets v1\n", string(rendered))

	out, err := Parse(rendered)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestValidateValueCap(t *testing.T) {
	assert.NoError(t, ValidateValue("K", strings.Repeat("v", MaxValueBytes)))
	assert.Error(t, ValidateValue("K", strings.Repeat("v", MaxValueBytes+1)))
}

func TestParseRejectsMissingHeader(t *testing.T) {
	_, err := Parse([]byte("FOO=bar\n"))
	assert.Error(t, err)
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash(Render(map[string]string{"A": "1", "B": "2"}))
	b := ContentHash(Render(map[string]string{"B": "2", "A": "1"}))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"DATABASE_URL", false},
		{"_PRIVATE", false},
		{"KEY2", false},
		{"database_url", false},
		{"MixedCase_9", false},
		{"", true},
		{"2KEY", true},
		{"HAS-DASH", true},
		{"HAS SPACE", true},
		{strings.Repeat("K", MaxKeyBytes), false},
		{strings.Repeat("K", MaxKeyBytes+1), true},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.wantErr {
			assert.Error(t, err, "key %q", tt.key)
		} else {
			assert.NoError(t, err, "key %q", tt.key)
		}
	}
}

func TestWriteFileAtomicAndReadOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "platform.env")

	rendered := Render(map[string]string{"TOKEN": "abc"})
	require.NoError(t, WriteFile(path, rendered))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, rendered, data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0400), info.Mode().Perm())

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
