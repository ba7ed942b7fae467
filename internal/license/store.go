package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"prolicense/internal/security"
	"prolicense/pkg/contracts"
)

const (
	// StateDirName is the directory under the root that holds license state.
	StateDirName = ".pro"

	// CacheFileName is the encrypted license envelope.
	CacheFileName = "license.cache"

	// PendingFileName is the plain JSON record of an offline deactivation.
	PendingFileName = "pending-deactivation.json"

	// CacheVersion is the envelope format version written and accepted.
	CacheVersion = contracts.CacheFormatVersion

	dirPerm  = 0o700
	filePerm = 0o600
)

// RecordSource yields the current verified record or nil.
type RecordSource interface {
	Read() *Record
}

// Store persists the license record as an encrypted, machine-bound envelope.
type Store struct {
	dir    string
	opts   *options
	logger *slog.Logger
}

// NewStore creates a store rooted at root. Files live under root/.pro.
func NewStore(root string, opts ...Option) *Store {
	o := newOptions(opts)
	return &Store{
		dir:    filepath.Join(root, StateDirName),
		opts:   o,
		logger: o.logger.With(slog.String("component", "license_store")),
	}
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the cache file path.
func (s *Store) Path() string { return filepath.Join(s.dir, CacheFileName) }

// PendingPath returns the pending deactivation file path.
func (s *Store) PendingPath() string { return filepath.Join(s.dir, PendingFileName) }

// MachineID returns the fingerprint records are bound to.
func (s *Store) MachineID() string { return s.opts.fingerprint() }

// Exists reports whether a cache file is present, valid or not.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Write encrypts rec and atomically replaces the cache. The stored copy is
// stamped with the current machine id and format version.
func (s *Store) Write(rec *Record) error {
	if rec == nil || rec.Key == "" {
		return errors.New("license record requires a key")
	}

	stored := rec.clone()
	stored.MachineID = s.MachineID()
	stored.Version = CacheVersion
	if stored.ActivatedAt.IsZero() {
		stored.ActivatedAt = s.opts.now().UTC()
	}

	plaintext, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode license record: %w", err)
	}
	defer security.Zero(plaintext)

	salt, err := security.GenerateSalt(security.SaltSize)
	if err != nil {
		return err
	}
	key := security.DeriveCacheKey(stored.MachineID, salt)
	defer security.Zero(key)

	sealed, err := security.Encrypt(plaintext, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt license record: %w", err)
	}
	macKey, err := security.DeriveMACKey(key)
	if err != nil {
		return err
	}
	defer security.Zero(macKey)

	data, err := json.MarshalIndent(newEnvelope(sealed, salt, CacheVersion, macKey), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode license envelope: %w", err)
	}
	if err := writeFileAtomic(s.dir, CacheFileName, data); err != nil {
		return fmt.Errorf("failed to write license cache: %w", err)
	}

	s.logger.Debug("License cache written",
		slog.String("key", security.MaskKey(stored.Key)),
		slog.Int("features", len(stored.Features)),
	)
	return nil
}

// Read returns the verified record, or nil when the cache is missing or fails any check.
func (s *Store) Read() *Record {
	rec, err := s.Load()
	if err != nil {
		if !errors.Is(err, ErrCacheNotFound) {
			s.logger.Debug("License cache rejected", slog.String("reason", err.Error()))
		}
		return nil
	}
	return rec
}

// Load is Read with the rejection reason: ErrCacheNotFound, a *CacheError, or an I/O error.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("failed to read license cache: %w", err)
	}

	env, dec, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}

	fingerprint := s.MachineID()
	key := security.DeriveCacheKey(fingerprint, dec.salt[:])
	defer security.Zero(key)

	macKey, err := security.DeriveMACKey(key)
	if err != nil {
		return nil, corrupted("mac key derivation failed")
	}
	defer security.Zero(macKey)

	if !security.VerifyHMAC(env.macInput(), macKey, dec.mac[:]) {
		return nil, corrupted("integrity check failed")
	}

	plaintext, err := security.Decrypt(&security.Sealed{
		Ciphertext: dec.ciphertext,
		IV:         dec.iv[:],
		Tag:        dec.tag[:],
	}, key)
	if err != nil {
		return nil, corrupted("decryption failed")
	}
	defer security.Zero(plaintext)

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, corrupted("record is not valid JSON")
	}
	if !rec.complete() {
		return nil, corrupted("record is missing required fields")
	}
	if rec.MachineID != fingerprint {
		return nil, &CacheError{Code: CodeMachineMismatch, Reason: "machine id does not match"}
	}
	return &rec, nil
}

// Delete removes the cache. A missing cache is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete license cache: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to dir/name through a temp file and rename.
func writeFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	committed = true
	return nil
}
