package session

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/waymark-app/waymark/internal/util"
)

var sessionBucket = []byte("sessions")

// BoltStore keeps sessions in a single-file BBolt database. Records carry
// the same signed encoding as the file backend, so a copied database file
// cannot be replayed under a different signing key.
type BoltStore struct {
	db       *bbolt.DB
	key      []byte
	idle     time.Duration
	remember time.Duration
	now      func() time.Time
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, key []byte, idle, remember, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session bucket: %w", err)
	}
	return &BoltStore{db: db, key: util.CopyBytes(key), idle: idle, remember: remember, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(remember bool) (*Record, error) {
	rec, err := newRecord(remember, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.put(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) Load(id string) (*Record, error) {
	var rec *Record
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		decoded, err := decodeRecord(s.key, data)
		if err != nil || decoded.expired(s.now(), s.idle, s.remember) {
			return b.Delete([]byte(id))
		}
		rec = decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return rec, nil
}

func (s *BoltStore) Touch(id string) bool {
	touched := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		rec, err := decodeRecord(s.key, data)
		if err != nil || rec.expired(s.now(), s.idle, s.remember) {
			return b.Delete([]byte(id))
		}
		rec.LastSeenAt = s.now()
		encoded, err := encodeRecord(s.key, rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), encoded); err != nil {
			return err
		}
		touched = true
		return nil
	})
	return err == nil && touched
}

func (s *BoltStore) Destroy(id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

func (s *BoltStore) DestroyAll() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(sessionBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(sessionBucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("destroying all sessions: %w", err)
	}
	return nil
}

func (s *BoltStore) RotateCSRF(id string) (string, error) {
	var token string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		rec, err := decodeRecord(s.key, data)
		if err != nil || rec.expired(s.now(), s.idle, s.remember) {
			if delErr := b.Delete([]byte(id)); delErr != nil {
				return delErr
			}
			return ErrNotFound
		}
		fresh, err := util.RandomToken(tokenBytes)
		if err != nil {
			return err
		}
		rec.CSRFToken = fresh
		rec.CSRFIssuedAt = s.now()
		encoded, err := encodeRecord(s.key, rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), encoded); err != nil {
			return err
		}
		token = fresh
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *BoltStore) Sweep() {
	now := s.now()
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := decodeRecord(s.key, v)
			if err != nil || rec.expired(now, s.idle, s.remember) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) put(rec *Record) error {
	data, err := encodeRecord(s.key, rec)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}
