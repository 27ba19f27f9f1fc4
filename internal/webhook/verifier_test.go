package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySecret(t *testing.T) {
	v := NewVerifier("s3cret", nil)

	assert.True(t, v.VerifySecret("s3cret"))
	assert.False(t, v.VerifySecret("wrong"))
	assert.False(t, v.VerifySecret(""))
}

func TestVerifySecret_NoneConfigured(t *testing.T) {
	v := NewVerifier("", nil)
	assert.True(t, v.VerifySecret(""))
	assert.True(t, v.VerifySecret("anything"))
}

func TestAllowIP(t *testing.T) {
	v := NewVerifier("", []string{"149.154.160.0/20", "91.108.4.77"})

	assert.True(t, v.AllowIP("149.154.167.99"))
	assert.True(t, v.AllowIP("91.108.4.77"))
	assert.False(t, v.AllowIP("91.108.4.78"))
	assert.False(t, v.AllowIP("203.0.113.5"))
	assert.False(t, v.AllowIP("not-an-ip"))
}

func TestAllowIP_EmptyListAdmitsAll(t *testing.T) {
	v := NewVerifier("", nil)
	assert.True(t, v.AllowIP("203.0.113.5"))
}
