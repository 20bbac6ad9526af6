package store

import (
	"errors"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Session is map-like access to the store while its lock is held. A Session
// is not safe for concurrent use; open one per goroutine.
type Session struct {
	mode   Mode
	absent bool
	db     *bolt.DB
	tx     *bolt.Tx
	bucket []byte
	lease  Lease
	log    logrus.FieldLogger
	done   bool
}

// Absent reports whether the session was opened on a store that does not
// exist on disk yet.
func (s *Session) Absent() bool { return s.absent }

// Mode returns the mode the session was opened in.
func (s *Session) Mode() Mode { return s.mode }

func (s *Session) b() (*bolt.Bucket, error) {
	if s.done {
		return nil, ErrClosed
	}
	if s.absent {
		return nil, nil
	}
	return s.tx.Bucket(s.bucket), nil
}

// Get returns a copy of the value stored under key. A missing key is
// reported with ok == false, not as an error.
func (s *Session) Get(key string) (value []byte, ok bool, err error) {
	b, err := s.b()
	if err != nil || b == nil {
		return nil, false, err
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Lookup is Get for callers that treat a missing key as exceptional: it
// returns ErrNotFound instead of ok == false.
func (s *Session) Lookup(key string) ([]byte, error) {
	v, ok, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Put stores value under key, replacing any previous value.
func (s *Session) Put(key string, value []byte) error {
	b, err := s.writable()
	if err != nil {
		return err
	}
	return b.Put([]byte(key), value)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Session) Delete(key string) error {
	b, err := s.writable()
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

// ForEach calls fn for every key in key order. The value slice is only
// valid until fn returns. fn must not modify the store.
func (s *Session) ForEach(fn func(key string, value []byte) error) error {
	b, err := s.b()
	if err != nil || b == nil {
		return err
	}
	return b.ForEach(func(k, v []byte) error {
		return fn(string(k), v)
	})
}

// Clear removes every key.
func (s *Session) Clear() error {
	if _, err := s.writable(); err != nil {
		return err
	}
	if err := s.tx.DeleteBucket(s.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return err
	}
	_, err := s.tx.CreateBucket(s.bucket)
	return err
}

func (s *Session) writable() (*bolt.Bucket, error) {
	if s.done {
		return nil, ErrClosed
	}
	if s.mode != ModeWrite {
		return nil, ErrReadOnly
	}
	return s.tx.Bucket(s.bucket), nil
}

// Commit makes the changes of a write session durable and ends the
// session. On a read session it is equivalent to Close.
func (s *Session) Commit() error {
	if s.done {
		return ErrClosed
	}
	if s.absent || s.mode != ModeWrite {
		return s.Close()
	}
	err := s.tx.Commit()
	s.tx = nil
	return errors.Join(err, s.release())
}

// Close discards uncommitted changes, closes the database and releases the
// lock. Closing an ended session is a no-op.
func (s *Session) Close() error {
	if s.done {
		return nil
	}
	var err error
	if s.tx != nil {
		err = s.tx.Rollback()
		s.tx = nil
	}
	return errors.Join(err, s.release())
}

func (s *Session) release() error {
	s.done = true
	if s.absent {
		return nil
	}
	err := errors.Join(s.db.Close(), s.lease.Release())
	s.log.WithField("action", "store_close").Debug("released lock")
	return err
}
