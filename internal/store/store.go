// Package store persists mutable client state: the sync high-water mark,
// auth tokens, and configured destinations. It is a small bbolt key-value
// store guarded by a file lock so two processes never share state.
package store

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"go.etcd.io/bbolt"

	"github.com/shuttersync/shuttersync/internal/utils"
)

const (
	stateBucket        = "state"
	destinationsBucket = "destinations"

	keyHWM          = "hwm"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyEmail        = "email"

	dbFileName   = "state.db"
	lockFileName = "state.lock"

	// hwmFormat matches the relay sync timestamp wire format.
	hwmFormat = "2006-01-02T15:04:05.000Z"
)

// defaultHWM is where a fresh install starts syncing from.
var defaultHWM = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Store is safe for concurrent use; bbolt serialises transactions.
type Store struct {
	db   *bbolt.DB
	lock *flock.Flock
}

// Open creates or opens the state store under dir. It fails fast when
// another process holds the lock.
func Open(dir string) (*Store, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("state dir %q is in use by another process", dir)
	}

	db, err := bbolt.Open(filepath.Join(dir, dbFileName), 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open state db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{stateBucket, destinationsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("init state db: %w", err)
	}

	return &Store{db: db, lock: lock}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func (s *Store) get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(bucket)).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *Store) put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), value)
	})
}

// HWM returns the persisted high-water mark, or the default start point
// when none was saved yet.
func (s *Store) HWM() (time.Time, error) {
	raw, err := s.get(stateBucket, keyHWM)
	if err != nil {
		return time.Time{}, err
	}
	if raw == nil {
		return defaultHWM, nil
	}
	t, err := time.Parse(hwmFormat, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt hwm %q: %w", raw, err)
	}
	return t, nil
}

func (s *Store) SaveHWM(t time.Time) error {
	return s.put(stateBucket, keyHWM, []byte(t.UTC().Format(hwmFormat)))
}

// Tokens returns the saved auth token pair. Empty strings mean the client
// has never logged in.
func (s *Store) Tokens() (access, refresh string, err error) {
	a, err := s.get(stateBucket, keyAccessToken)
	if err != nil {
		return "", "", err
	}
	r, err := s.get(stateBucket, keyRefreshToken)
	if err != nil {
		return "", "", err
	}
	return string(a), string(r), nil
}

func (s *Store) SaveTokens(access, refresh string) error {
	if err := s.put(stateBucket, keyAccessToken, []byte(access)); err != nil {
		return err
	}
	return s.put(stateBucket, keyRefreshToken, []byte(refresh))
}

func (s *Store) ClearTokens() error {
	return s.SaveTokens("", "")
}

func (s *Store) Email() (string, error) {
	v, err := s.get(stateBucket, keyEmail)
	return string(v), err
}

func (s *Store) SaveEmail(email string) error {
	return s.put(stateBucket, keyEmail, []byte(email))
}

// SaveDestination upserts a destination record keyed by name.
func (s *Store) SaveDestination(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode destination %q: %w", name, err)
	}
	return s.put(destinationsBucket, name, raw)
}

// Destination decodes the record for name into out. Returns false when no
// record exists.
func (s *Store) Destination(name string, out any) (bool, error) {
	raw, err := s.get(destinationsBucket, name)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode destination %q: %w", name, err)
	}
	return true, nil
}

func (s *Store) DeleteDestination(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(destinationsBucket)).Delete([]byte(name))
	})
}

// DestinationNames lists saved destination keys in lexical order.
func (s *Store) DestinationNames() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(destinationsBucket)).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
