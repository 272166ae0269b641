// Package credstore persists the single bearer credential record of the
// search subsystem.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"newsdesk-backend/internal/components/chrono"
	"newsdesk-backend/internal/components/telemetry"
	"newsdesk-backend/internal/config"
)

const (
	report_store_load   = "store.load"
	report_store_save   = "store.save"
	report_store_seed   = "store.seed"
	report_store_extend = "store.extend-expiry"
)

// ErrNoDefaultCredential means the store can never produce a credential, this
// is a configuration error.
var ErrNoDefaultCredential = errors.New("credstore: no default credential configured")

// TokenRecord is replaced as a whole, never patched. A zero ExpiresAt means
// the validity is unknown.
type TokenRecord struct {
	Credential   string    `json:"credential"`
	IssuedAt     time.Time `json:"issued_at,omitzero"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	SubjectEmail string    `json:"subject_email,omitempty"`
}

func (r TokenRecord) consistent() bool {
	if r.IssuedAt.IsZero() || r.ExpiresAt.IsZero() {
		return true
	}
	return !r.IssuedAt.After(r.ExpiresAt)
}

type Options struct {
	Path string
	// DefaultValidity is the validity window assumed for a seeded default credential.
	DefaultValidity time.Duration
	Secrets         config.SecretProvider
	Time            chrono.API
}

// FileStore keeps the record in a single JSON file. Writes go through a
// temporary file and a rename so readers never observe a partial record.
// Across processes the last writer wins.
type FileStore struct {
	path              string
	validity          time.Duration
	defaultCredential string
	time              chrono.API
	tel               telemetry.API

	// serializes writers within this process
	mutex sync.Mutex
}

func NewFileStore(ctx context.Context, opts Options, tel telemetry.API) (*FileStore, error) {
	if opts.Secrets == nil {
		return nil, ErrNoDefaultCredential
	}
	secrets, err := opts.Secrets.Secrets(ctx)
	if err != nil {
		return nil, fmt.Errorf("credstore: read secrets: %w", err)
	}
	if secrets.DefaultCredential == "" {
		return nil, ErrNoDefaultCredential
	}
	if opts.Time == nil {
		opts.Time = chrono.NewStandardImpl()
	}
	if opts.DefaultValidity <= 0 {
		opts.DefaultValidity = 30 * 24 * time.Hour
	}

	return &FileStore{
		path:              opts.Path,
		validity:          opts.DefaultValidity,
		defaultCredential: secrets.DefaultCredential,
		time:              opts.Time,
		tel:               telemetry.NewScopedAPI("credstore", tel),
	}, nil
}

func (s *FileStore) read() (TokenRecord, error) {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		return TokenRecord{}, err
	}
	var record TokenRecord
	err = json.Unmarshal(contents, &record)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("unmarshal %s: %w", s.path, err)
	}
	if record.Credential == "" {
		return TokenRecord{}, fmt.Errorf("%s: empty credential", s.path)
	}
	return record, nil
}

// Load returns the persisted record. When there is none (or it cannot be
// read) a record is seeded from the default credential and persisted first.
func (s *FileStore) Load(ctx context.Context) TokenRecord {
	record, err := s.read()
	if err == nil {
		return record
	}
	if !os.IsNotExist(err) {
		s.tel.ReportWarning(report_store_load, err)
	}

	now := s.time.Now()
	seeded := TokenRecord{
		Credential: s.defaultCredential,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.validity),
	}
	s.tel.ReportDebug(report_store_seed, s.path, seeded.ExpiresAt)
	s.Save(ctx, seeded)
	return seeded
}

// Save writes the whole record atomically, it reports and returns false on failure.
func (s *FileStore) Save(ctx context.Context, record TokenRecord) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.save(record)
}

func (s *FileStore) save(record TokenRecord) bool {
	if record.Credential == "" {
		s.tel.ReportWarning(report_store_save, fmt.Errorf("refusing to save empty credential"))
		return false
	}
	if !record.consistent() {
		s.tel.ReportWarning(
			report_store_save,
			fmt.Errorf("issued_at is after expires_at"),
			record.IssuedAt,
			record.ExpiresAt,
		)
		return false
	}

	err := writeFileAtomic(s.path, record)
	if err != nil {
		s.tel.ReportBroken(report_store_save, err, s.path)
		return false
	}
	return true
}

func writeFileAtomic(path string, record TokenRecord) (err error) {
	contents, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	dir := filepath.Dir(path)
	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(contents)
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	err = tmp.Sync()
	if err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	err = os.Chmod(tmp.Name(), 0600)
	if err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ExtendExpiry pushes the expiry of the persisted record back by days. It
// fails when nothing is persisted yet or the record has no expiry.
func (s *FileStore) ExtendExpiry(ctx context.Context, days int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, err := s.read()
	if err != nil {
		s.tel.ReportWarning(report_store_extend, err)
		return false
	}
	if record.ExpiresAt.IsZero() {
		s.tel.ReportWarning(report_store_extend, fmt.Errorf("record has no expiry"))
		return false
	}

	record.ExpiresAt = record.ExpiresAt.AddDate(0, 0, days)
	ok := s.save(record)
	if ok {
		s.tel.ReportDebug(report_store_extend, days, record.ExpiresAt)
	}
	return ok
}

// Path returns the file the record lives in.
func (s *FileStore) Path() string {
	return s.path
}
