package steam

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/skinarb/internal/crypto"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/platform"
)

// FileStore is an IdentityStore backed by a maFile on disk. The file may be
// plain JSON or an encrypted blob produced by crypto.EncryptSecret; writes
// keep whichever form was read.
type FileStore struct {
	path     string
	password string
	mu       sync.Mutex
}

// NewFileStore creates a FileStore for path. password is only needed when
// the file is encrypted.
func NewFileStore(path, password string) *FileStore {
	return &FileStore{path: path, password: password}
}

// Load reads and decodes the identity.
func (s *FileStore) Load() (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, _, err := s.read()
	if err != nil {
		return domain.Identity{}, err
	}
	return ParseMaFile(plain)
}

// SaveAccessToken rewrites Session.AccessToken, leaving every other field of
// the document as it was.
func (s *FileStore) SaveAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, encrypted, err := s.read()
	if err != nil {
		return err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(plain, &doc); err != nil {
		return fmt.Errorf("steam: decode maFile: %w", err)
	}
	session := map[string]json.RawMessage{}
	if raw, ok := doc["Session"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &session); err != nil {
			return fmt.Errorf("steam: decode maFile session: %w", err)
		}
	}
	tok, err := json.Marshal(token)
	if err != nil {
		return err
	}
	session["AccessToken"] = tok
	rawSession, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("steam: encode maFile session: %w", err)
	}
	doc["Session"] = rawSession

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("steam: encode maFile: %w", err)
	}
	if encrypted {
		out, err = crypto.EncryptSecret(out, s.password)
		if err != nil {
			return fmt.Errorf("steam: re-encrypt maFile: %w", err)
		}
	}
	return writeFileAtomic(s.path, out)
}

func (s *FileStore) read() (plain []byte, encrypted bool, err error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false, fmt.Errorf("steam: read maFile: %w", err)
	}
	if !crypto.IsEncrypted(raw) {
		return raw, false, nil
	}
	if s.password == "" {
		return nil, true, fmt.Errorf("steam: maFile %s is encrypted but no password is configured", s.path)
	}
	plain, err = crypto.DecryptSecret(raw, s.password)
	if err != nil {
		return nil, true, fmt.Errorf("steam: decrypt maFile: %w", err)
	}
	return plain, true, nil
}

// ParseMaFile decodes a plain maFile document into an Identity. Secret
// decoding failures are reported as domain.ErrInvalidSecret.
func ParseMaFile(data []byte) (domain.Identity, error) {
	var f maFile
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Identity{}, fmt.Errorf("steam: decode maFile: %w", err)
	}
	if err := platform.Validate(f); err != nil {
		return domain.Identity{}, fmt.Errorf("steam: maFile: %w", err)
	}

	shared, err := crypto.DecodeSecret(f.SharedSecret)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("steam: shared_secret: %w", err)
	}
	identity, err := crypto.DecodeSecret(f.IdentitySecret)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("steam: identity_secret: %w", err)
	}

	return domain.Identity{
		AccountName:    f.AccountName,
		SteamID:        string(f.Session.SteamID),
		SharedSecret:   shared,
		IdentitySecret: identity,
		DeviceID:       f.DeviceID,
		AccessToken:    f.Session.AccessToken,
		RefreshToken:   f.Session.RefreshToken,
	}, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mafile-*")
	if err != nil {
		return fmt.Errorf("steam: write maFile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("steam: write maFile: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("steam: write maFile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("steam: write maFile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("steam: write maFile: %w", err)
	}
	return nil
}

var _ domain.IdentityStore = (*FileStore)(nil)
