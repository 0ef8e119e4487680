package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("查一下话费")
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint("  查一下话费\n"))
	assert.NotEqual(t, a, Fingerprint("查一下流量"))
}
