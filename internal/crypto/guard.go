package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

const (
	// codeAlphabet is the Steam Guard alphabet (no vowels or look-alikes).
	codeAlphabet = "23456789BCDFGHJKMNPQRTVWXY"
	codeLength   = 5

	// CodePeriod is the validity window of a rotating code.
	CodePeriod = 30 * time.Second

	minSecretLen = 10
	maxSecretLen = 64
)

// Confirmation tags. The remote side rejects a key signed with a tag that
// does not match the operation.
const (
	TagList    = "conf"
	TagDetails = "details"
	TagAllow   = "allow"
	TagCancel  = "cancel"
)

// GenerateCode returns the rotating login code for sharedSecret at ts.
func GenerateCode(sharedSecret []byte, ts time.Time) (domain.RotatingCode, error) {
	return GenerateCodeAt(sharedSecret, ts.Unix())
}

// GenerateCodeAt is like GenerateCode but takes a Unix timestamp.
//
// The code is HMAC-SHA1(secret, BE64(floor(ts/30))) truncated at the offset
// given by the low nibble of the last digest byte, then spelled out in five
// base-26 digits over codeAlphabet.
func GenerateCodeAt(sharedSecret []byte, unixTS int64) (domain.RotatingCode, error) {
	if err := checkSecret(sharedSecret); err != nil {
		return domain.RotatingCode{}, err
	}

	window := floorDiv(unixTS, int64(CodePeriod/time.Second))

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(window))
	sum := hmacSHA1(sharedSecret, counter[:])

	offset := sum[len(sum)-1] & 0x0F
	full := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[full%uint32(len(codeAlphabet))]
		full /= uint32(len(codeAlphabet))
	}

	return domain.RotatingCode{
		Value:     string(code),
		ValidFrom: time.Unix(window*int64(CodePeriod/time.Second), 0).UTC(),
		ValidFor:  CodePeriod,
	}, nil
}

// ConfirmationKey signs a mobile confirmation request: base64 of
// HMAC-SHA1(identitySecret, BE64(ts) || tag).
func ConfirmationKey(identitySecret []byte, tag string, unixTS int64) (string, error) {
	if err := checkSecret(identitySecret); err != nil {
		return "", err
	}

	msg := make([]byte, 8, 8+len(tag))
	binary.BigEndian.PutUint64(msg, uint64(unixTS))
	msg = append(msg, tag...)

	return base64.StdEncoding.EncodeToString(hmacSHA1(identitySecret, msg)), nil
}

// DecodeSecret decodes a secret as stored in authenticator files. A string
// made only of the base32 alphabet is read as base32, anything else as
// standard base64, with a case-insensitive base32 fallback.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("crypto: decode secret: empty: %w", domain.ErrInvalidSecret)
	}
	if isBase32(s) {
		if b, err := decodeBase32(s); err == nil {
			return validSecret(b)
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return validSecret(b)
	}
	b, err := decodeBase32(strings.ToUpper(s))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode secret: %w", domain.ErrInvalidSecret)
	}
	return validSecret(b)
}

func isBase32(s string) bool {
	for _, r := range strings.TrimRight(s, "=") {
		if (r < 'A' || r > 'Z') && (r < '2' || r > '7') {
			return false
		}
	}
	return true
}

func decodeBase32(s string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(s, "="))
}

func validSecret(b []byte) ([]byte, error) {
	if err := checkSecret(b); err != nil {
		return nil, err
	}
	return b, nil
}

func checkSecret(secret []byte) error {
	if len(secret) < minSecretLen || len(secret) > maxSecretLen {
		return fmt.Errorf("crypto: secret length %d not in [%d, %d]: %w",
			len(secret), minSecretLen, maxSecretLen, domain.ErrInvalidSecret)
	}
	return nil
}

func hmacSHA1(key, message []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}
