package crypto_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/crypto"
)

func TestEncryptDecryptSecret(t *testing.T) {
	plain := []byte(`{"shared_secret":"AAECAwQFBgcICQoLDA0ODxAREhM="}`)

	blob, err := crypto.EncryptSecret(plain, "hunter2")
	require.NoError(t, err)
	assert.True(t, crypto.IsEncrypted(blob))
	assert.False(t, crypto.IsEncrypted(plain))

	got, err := crypto.DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = crypto.DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptSecret_RequiresPassword(t *testing.T) {
	_, err := crypto.EncryptSecret([]byte("x"), "")
	assert.Error(t, err)
}

func TestLoadSecretFile(t *testing.T) {
	dir := t.TempDir()
	plain := []byte(`{"account_name":"bot"}`)

	plainPath := filepath.Join(dir, "plain.maFile")
	require.NoError(t, os.WriteFile(plainPath, plain, 0o600))

	got, err := crypto.LoadSecretFile(plainPath, "")
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	blob, err := crypto.EncryptSecret(plain, "pw")
	require.NoError(t, err)
	encPath := filepath.Join(dir, "enc.maFile")
	require.NoError(t, os.WriteFile(encPath, blob, 0o600))

	_, err = crypto.LoadSecretFile(encPath, "")
	assert.Error(t, err)

	got, err = crypto.LoadSecretFile(encPath, "pw")
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}
