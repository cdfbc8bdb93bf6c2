package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFileMatchesHashString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	h, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashString("hello"), h)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)
}

func TestIsNixBase32(t *testing.T) {
	assert.True(t, IsNixBase32("xmxgxig6zxrixicc7905ssgb4yc3lysa"))
	assert.False(t, IsNixBase32("eeee"))
	assert.False(t, IsNixBase32("ABC"))
}
