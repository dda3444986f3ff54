package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/waymark-app/waymark/internal/util"
)

// filePrefix is the fixed prefix of every session file name.
const filePrefix = "session:"

// FileStore keeps one signed file per session under a dedicated directory.
// Writes go to a same-directory temp file and commit by rename, so readers
// and the sweeper never observe a partial record. Every filesystem call is
// bounded by a deadline; exceeding it is a transient failure.
type FileStore struct {
	dir      string
	key      []byte
	idle     time.Duration
	remember time.Duration
	timeout  time.Duration
	locks    *keyedMutex
	now      func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the session directory if needed and returns a store
// signing records with key.
func NewFileStore(dir string, key []byte, idle, remember, timeout time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &FileStore{
		dir:      dir,
		key:      util.CopyBytes(key),
		idle:     idle,
		remember: remember,
		timeout:  timeout,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, filePrefix+id)
}

func (s *FileStore) Create(remember bool) (*Record, error) {
	rec, err := newRecord(remember, s.now())
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(rec.ID)
	defer unlock()
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) Load(id string) (*Record, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.loadLocked(id)
}

// loadLocked reads and validates a record. The caller holds the record lock.
func (s *FileStore) loadLocked(id string) (*Record, error) {
	var data []byte
	err := s.deadline(func() error {
		var readErr error
		data, readErr = os.ReadFile(s.path(id))
		return readErr
	})
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	rec, err := decodeRecord(s.key, data)
	if err != nil {
		// Tampered or truncated: indistinguishable from missing.
		s.removeLocked(id)
		return nil, nil
	}
	if rec.expired(s.now(), s.idle, s.remember) {
		if err := s.removeLocked(id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

func (s *FileStore) Touch(id string) bool {
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.loadLocked(id)
	if err != nil || rec == nil {
		return false
	}
	rec.LastSeenAt = s.now()
	return s.write(rec) == nil
}

func (s *FileStore) Destroy(id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.removeLocked(id)
}

func (s *FileStore) DestroyAll() error {
	entries, err := s.readDir()
	if err != nil {
		return err
	}
	for _, name := range entries {
		id := strings.TrimPrefix(name, filePrefix)
		if err := s.Destroy(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) RotateCSRF(id string) (string, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.loadLocked(id)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrNotFound
	}
	token, err := util.RandomToken(tokenBytes)
	if err != nil {
		return "", err
	}
	rec.CSRFToken = token
	rec.CSRFIssuedAt = s.now()
	if err := s.write(rec); err != nil {
		return "", err
	}
	return token, nil
}

// Sweep removes session files whose mtime is older than the remember
// lifetime. It goes by mtime alone and never reads the contents it is
// about to delete; a record another request destroys or touches mid-scan
// is simply skipped.
func (s *FileStore) Sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-s.remember)
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}
}

// write commits a record via temp file and rename.
func (s *FileStore) write(rec *Record) error {
	data, err := encodeRecord(s.key, rec)
	if err != nil {
		return err
	}
	return s.deadline(func() error {
		tmp, err := os.CreateTemp(s.dir, ".tmp-")
		if err != nil {
			return fmt.Errorf("creating temp session file: %w", err)
		}
		tmpPath := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("writing session file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("closing session file: %w", err)
		}
		if err := os.Chmod(tmpPath, 0o600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("setting session file mode: %w", err)
		}
		if err := os.Rename(tmpPath, s.path(rec.ID)); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("committing session file: %w", err)
		}
		return nil
	})
}

func (s *FileStore) removeLocked(id string) error {
	err := s.deadline(func() error {
		return os.Remove(s.path(id))
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

func (s *FileStore) readDir() ([]string, error) {
	var names []string
	err := s.deadline(func() error {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), filePrefix) {
				names = append(names, entry.Name())
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing session directory: %w", err)
	}
	return names, nil
}

// deadline bounds a filesystem operation. On timeout the operation keeps
// running in its goroutine, but the caller observes ErrTimeout; rename
// commits keep any late completion atomic.
func (s *FileStore) deadline(fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(s.timeout):
		return ErrTimeout
	}
}
