// Package apiserver implements the HTTP control surface described in
// spec.md §6: API-key authenticated CRUD over sandboxes, exec, and
// metrics. It has no direct Go analogue in the teacher repo (which
// exposes an MCP tool surface, not a REST API) so it is grounded
// primarily on the original Python FastAPI implementation.
package apiserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// APIKeyRecord is the persisted metadata for one issued API key, keyed in
// the store by the SHA-256 hex digest of the raw token.
type APIKeyRecord struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"created"`
	ExpiresAt *int64 `json:"expires,omitempty"`
	LastUsed  int64  `json:"last_used,omitempty"`
}

// KeyStore persists API key records to a JSON file, mirroring the
// load_api_keys/save_api_keys pair in the original Python API server:
// every operation reads the whole file and, when it changes a record,
// rewrites the whole file. List purges expired keys; Verify rejects an
// expired key without removing it.
type KeyStore struct {
	fs   afero.Fs
	path string
}

// NewKeyStore opens (without yet reading) the key store at path.
func NewKeyStore(fs afero.Fs, path string) *KeyStore {
	return &KeyStore{fs: fs, path: path}
}

// DefaultKeyStorePath mirrors K7_API_KEYS_FILE's default in the original.
const DefaultKeyStorePath = "/etc/k7/api_keys.json"

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *KeyStore) load() (map[string]APIKeyRecord, error) {
	raw, err := afero.ReadFile(s.fs, s.path)
	if os.IsNotExist(err) {
		return map[string]APIKeyRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key store: %w", err)
	}
	if len(raw) == 0 {
		return map[string]APIKeyRecord{}, nil
	}
	var records map[string]APIKeyRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return map[string]APIKeyRecord{}, nil
	}
	return records, nil
}

func (s *KeyStore) save(records map[string]APIKeyRecord) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create key store dir: %w", err)
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key store: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write key store: %w", err)
	}
	return s.fs.Chmod(s.path, 0o600)
}

// purgeExpired removes any record whose ExpiresAt has passed. Returns
// whether the map was modified, so callers only rewrite the file when
// necessary.
func purgeExpired(records map[string]APIKeyRecord, now int64) bool {
	changed := false
	for hash, rec := range records {
		if rec.ExpiresAt != nil && now > *rec.ExpiresAt {
			delete(records, hash)
			changed = true
		}
	}
	return changed
}

// Create mints a new raw token, stores its hash with name and optional
// TTL, and returns the raw token — the only time the plaintext is ever
// available, mirroring the original's write-once key issuance.
func (s *KeyStore) Create(name string, ttl time.Duration) (token string, err error) {
	token, err = randomToken()
	if err != nil {
		return "", err
	}

	records, err := s.load()
	if err != nil {
		return "", err
	}

	rec := APIKeyRecord{Name: name, CreatedAt: time.Now().Unix()}
	if ttl > 0 {
		exp := time.Now().Add(ttl).Unix()
		rec.ExpiresAt = &exp
	}
	records[hashToken(token)] = rec

	if err := s.save(records); err != nil {
		return "", err
	}
	return token, nil
}

// List returns every non-expired record, purging expired ones as a
// side effect.
func (s *KeyStore) List() ([]APIKeyRecord, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	if purgeExpired(records, time.Now().Unix()) {
		if err := s.save(records); err != nil {
			return nil, err
		}
	}
	out := make([]APIKeyRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	return out, nil
}

// Revoke deletes every record matching name (names are not unique
// identifiers, so all matches are removed, matching the CLI's
// apikey revoke semantics in spec.md §9).
func (s *KeyStore) Revoke(name string) (int, error) {
	records, err := s.load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for hash, rec := range records {
		if rec.Name == name {
			delete(records, hash)
			removed++
		}
	}
	if removed > 0 {
		if err := s.save(records); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// Verify checks token against the store using a constant-time compare
// of its SHA-256 digest against every stored hash, rejects expired
// keys, and updates last_used on success — the same sequence as the
// original's verify_api_key dependency.
func (s *KeyStore) Verify(token string) (*APIKeyRecord, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	want := hashToken(token)

	var matchedHash string
	var matched *APIKeyRecord
	for hash, rec := range records {
		if subtle.ConstantTimeCompare([]byte(want), []byte(hash)) == 1 {
			r := rec
			matchedHash = hash
			matched = &r
			break
		}
	}
	if matched == nil {
		return nil, errInvalidKey
	}
	if matched.ExpiresAt != nil && now > *matched.ExpiresAt {
		return nil, errExpiredKey
	}

	matched.LastUsed = now
	records[matchedHash] = *matched
	if err := s.save(records); err != nil {
		return nil, err
	}
	return matched, nil
}
