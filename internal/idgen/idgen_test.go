package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_IsUUID(t *testing.T) {
	id := New()
	assert.True(t, IsUUID(id))
	assert.NotEqual(t, id, New())
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("signup_")
	assert.True(t, strings.HasPrefix(id, "signup_"))
	assert.Len(t, id, len("signup_")+24)
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(16), 32)
	assert.False(t, IsUUID("not-a-uuid"))
}
