package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestHashIgnoresKeyOrder(t *testing.T) {
	a := RequestHash([]byte(`{"name":"web","replicas":3}`))
	b := RequestHash([]byte(`{"replicas":3,"name":"web"}`))
	assert.Equal(t, a, b)
}

func TestRequestHashDistinguishesBodies(t *testing.T) {
	a := RequestHash([]byte(`{"replicas":3}`))
	b := RequestHash([]byte(`{"replicas":4}`))
	assert.NotEqual(t, a, b)
}

func TestRequestHashNonJSONBody(t *testing.T) {
	a := RequestHash([]byte("not json"))
	b := RequestHash([]byte("not json"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}
