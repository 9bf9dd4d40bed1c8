package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/crypto"
)

const plainMaFile = `{
  "shared_secret": "AAECAwQFBgcICQoLDA0ODxAREhM=",
  "identity_secret": "AAECAwQFBgcICQoLDA0ODxAREhM=",
  "device_id": "android:0000-1111",
  "account_name": "trader",
  "Session": {"SteamID": 76561198000000001}
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEncryptIdentity(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "trader.maFile", plainMaFile)
	out := filepath.Join(dir, "trader.maFile.enc")
	t.Setenv("SKINARB_IDENTITY_PASSWORD", "hunter2")

	stdout, err := execute(t, "encrypt-identity", "--in", in, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "encrypted")

	sealed, err := os.ReadFile(out)
	require.NoError(t, err)
	require.True(t, crypto.IsEncrypted(sealed))
	plain, err := crypto.DecryptSecret(sealed, "hunter2")
	require.NoError(t, err)
	assert.JSONEq(t, plainMaFile, string(plain))

	_, err = execute(t, "encrypt-identity", "--in", out, "--out", filepath.Join(dir, "again"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already encrypted")
}

func TestEncryptIdentity_RequiresPassword(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "trader.maFile", plainMaFile)
	t.Setenv("SKINARB_IDENTITY_PASSWORD", "")

	_, err := execute(t, "encrypt-identity", "--in", in, "--out", filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SKINARB_IDENTITY_PASSWORD")
}

func TestEncryptIdentity_RejectsInvalidMaFile(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "broken.maFile", `{"account_name":"x"}`)
	t.Setenv("SKINARB_IDENTITY_PASSWORD", "hunter2")

	_, err := execute(t, "encrypt-identity", "--in", in, "--out", filepath.Join(dir, "out"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "out"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCodeCommand(t *testing.T) {
	steamAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer steamAPI.Close()

	dir := t.TempDir()
	maFile := writeFile(t, dir, "trader.maFile", plainMaFile)
	cfgPath := writeFile(t, dir, "config.toml", `
[steam]
mafile_path = "`+maFile+`"
api_url = "`+steamAPI.URL+`"
retry_pause = "1ms"
`)

	stdout, err := execute(t, "code", "--config", cfgPath)
	require.NoError(t, err)
	assert.Regexp(t, `^[2-9B-DF-HJKMNP-TV-Y]{5} \(valid for ([1-9]|[12][0-9]|30)s\)\n$`, stdout)
}

func TestRunCommand_InvalidMode(t *testing.T) {
	dir := t.TempDir()
	maFile := writeFile(t, dir, "trader.maFile", plainMaFile)
	cfgPath := writeFile(t, dir, "config.toml", `
[steam]
mafile_path = "`+maFile+`"
`)

	_, err := execute(t, "run", "--config", cfgPath, "--mode", "backtest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
