package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashTokenStable(t *testing.T) {
	a := HashToken("plfm_abc")
	b := HashToken("plfm_abc")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, HashToken("plfm_abd"))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer plfm_abc", "plfm_abc"},
		{"Bearer  plfm_abc ", "plfm_abc"},
		{"bearer plfm_abc", ""},
		{"Basic dXNlcg==", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BearerToken(tt.header), "header %q", tt.header)
	}
}

func TestPrincipalCanWrite(t *testing.T) {
	assert.True(t, (&Principal{Role: RoleAdmin}).CanWrite())
	assert.True(t, (&Principal{Role: RoleDeveloper}).CanWrite())
	assert.False(t, (&Principal{Role: RoleViewer}).CanWrite())
	assert.False(t, (&Principal{Role: RoleNode}).CanWrite())
}

func TestNewUserCodeShape(t *testing.T) {
	code, err := newUserCode()
	assert.NoError(t, err)
	assert.Len(t, code, 9)
	assert.Equal(t, byte('-'), code[4])
}
