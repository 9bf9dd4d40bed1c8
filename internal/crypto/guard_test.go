package crypto_test

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/crypto"
	"github.com/alanyoungcy/skinarb/internal/domain"
)

func sequentialSecret() []byte {
	s := make([]byte, 20)
	for i := range s {
		s[i] = byte(i)
	}
	return s
}

func TestGenerateCodeAt_GoldenVectors(t *testing.T) {
	zero, err := crypto.DecodeSecret("AAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	require.Len(t, zero, 10)
	hello, err := crypto.DecodeSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret []byte
		ts     int64
		want   string
	}{
		{"zero secret", zero, 1700000000, "THTN4"},
		{"zero secret new year", zero, 1609459200, "9K8FF"},
		{"sequential secret window start", sequentialSecret(), 1609459200, "BJDP3"},
		{"sequential secret window end", sequentialSecret(), 1609459229, "BJDP3"},
		{"sequential secret next window", sequentialSecret(), 1609459230, "FRF5N"},
		{"base32 secret", hello, 1700000000, "2KM2P"},
		{"base32 secret new year", hello, 1609459200, "D2GY9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := crypto.GenerateCodeAt(tt.secret, tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code.Value)
		})
	}
}

func TestDecodeSecret_EncodingsAgree(t *testing.T) {
	raw, err := hex.DecodeString("48656c6c6f21deadbeef")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
	}{
		{"base32", "JBSWY3DPEHPK3PXP"},
		{"base64", base64.StdEncoding.EncodeToString(raw)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := crypto.DecodeSecret(tt.in)
			require.NoError(t, err)
			assert.Equal(t, raw, got)

			code, err := crypto.GenerateCodeAt(got, 1700000000)
			require.NoError(t, err)
			assert.Equal(t, "2KM2P", code.Value)
		})
	}
}

func TestGenerateCodeAt_Properties(t *testing.T) {
	secret := sequentialSecret()
	const alphabet = "23456789BCDFGHJKMNPQRTVWXY"

	base := int64(1_650_000_000)
	base -= base % 30

	prev := ""
	for w := int64(0); w < 50; w++ {
		start := base + w*30

		first, err := crypto.GenerateCodeAt(secret, start)
		require.NoError(t, err)
		last, err := crypto.GenerateCodeAt(secret, start+29)
		require.NoError(t, err)

		assert.Len(t, first.Value, 5)
		for _, r := range first.Value {
			assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
		}
		assert.Equal(t, first.Value, last.Value, "same window must yield same code")
		assert.Equal(t, time.Unix(start, 0).UTC(), first.ValidFrom)
		assert.Equal(t, crypto.CodePeriod, first.ValidFor)
		assert.NotEqual(t, prev, first.Value, "adjacent windows should differ")
		prev = first.Value
	}
}

func TestGenerateCode_ValidityWindow(t *testing.T) {
	ts := time.Unix(1609459210, 0)
	code, err := crypto.GenerateCode(sequentialSecret(), ts)
	require.NoError(t, err)

	assert.False(t, code.Expired(ts))
	assert.Equal(t, 20*time.Second, code.Remaining(ts))
	assert.True(t, code.Expired(ts.Add(20*time.Second)))
	assert.Equal(t, time.Duration(0), code.Remaining(ts.Add(time.Minute)))
}

func TestGenerateCodeAt_InvalidSecret(t *testing.T) {
	for _, secret := range [][]byte{nil, make([]byte, 4), make([]byte, 65)} {
		_, err := crypto.GenerateCodeAt(secret, 1700000000)
		assert.ErrorIs(t, err, domain.ErrInvalidSecret)
	}
}

func TestConfirmationKey(t *testing.T) {
	secret := sequentialSecret()

	conf, err := crypto.ConfirmationKey(secret, crypto.TagList, 1609459200)
	require.NoError(t, err)
	assert.Equal(t, "4943yXtxIHDR6FJTmNByMnnWveE=", conf)

	allow, err := crypto.ConfirmationKey(secret, crypto.TagAllow, 1609459200)
	require.NoError(t, err)
	assert.Equal(t, "QMJLRbL8SOVVNgr/qLgF6b5NspE=", allow)

	again, err := crypto.ConfirmationKey(secret, crypto.TagList, 1609459200)
	require.NoError(t, err)
	assert.Equal(t, conf, again)

	for _, tag := range []string{crypto.TagList, crypto.TagDetails, crypto.TagAllow, crypto.TagCancel} {
		key, err := crypto.ConfirmationKey(secret, tag, 1_700_000_123)
		require.NoError(t, err)
		raw, err := base64.StdEncoding.DecodeString(key)
		require.NoError(t, err)
		assert.Len(t, raw, 20)
	}
}

func TestConfirmationKey_InvalidSecret(t *testing.T) {
	_, err := crypto.ConfirmationKey([]byte("short"), crypto.TagAllow, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidSecret)
}

func TestDecodeSecret(t *testing.T) {
	b, err := crypto.DecodeSecret("AAECAwQFBgcICQoLDA0ODxAREhM=")
	require.NoError(t, err)
	assert.Equal(t, sequentialSecret(), b)

	_, err = crypto.DecodeSecret("")
	assert.ErrorIs(t, err, domain.ErrInvalidSecret)

	_, err = crypto.DecodeSecret("!!not a secret!!")
	assert.ErrorIs(t, err, domain.ErrInvalidSecret)
}
