// Package store provides a persistent key-value map on top of a bbolt file
// where every access happens inside a session that holds a file-scoped lock.
//
// A session opens the database, takes the lock selected by the Store's
// Locker and releases both when it ends, so no in-memory state survives
// between sessions. Two disciplines are available: MutexLocker serializes
// every session; RWLocker lets readers share the file and gives writers
// exclusive access, across goroutines and OS processes alike.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Mode selects the kind of session to open.
type Mode int

const (
	// ModeRead opens a shared, read-only session.
	ModeRead Mode = iota
	// ModeWrite opens an exclusive session that may modify the map.
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

var (
	ErrNotFound    = errors.New("store: not found")
	ErrUnavailable = errors.New("store: unavailable")
	ErrReadOnly    = errors.New("store: read-only session")
	ErrClosed      = errors.New("store: session closed")
)

const defaultBucket = "cache"

// Options configures a Store.
type Options struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// Locker selects the locking discipline. Defaults to NewRWLocker().
	Locker Locker
	// Timeout bounds lock acquisition and the bbolt file lock. Zero waits
	// until the lock is available, which means a writer that never finishes
	// starves every other session.
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// Store is a handle on a bbolt file. It holds no open resources itself; the
// database is only open while a Session is.
type Store struct {
	path    string
	bucket  []byte
	locker  Locker
	timeout time.Duration
	log     logrus.FieldLogger
}

// New returns a Store for the database at path. The file is created by the
// first write session.
func New(path string, opts Options) *Store {
	bucket := []byte(defaultBucket)
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	locker := opts.Locker
	if locker == nil {
		locker = NewRWLocker()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		path:    path,
		bucket:  bucket,
		locker:  locker,
		timeout: opts.Timeout,
		log:     log,
	}
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether the database file has been created.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Begin opens a session in the given mode. The caller must Close it (or
// Commit a write session); View and Update do that automatically.
//
// A read session on a store that was never written is not an error: the
// session reports Absent and every key reads as missing.
func (s *Store) Begin(mode Mode) (*Session, error) {
	if s.path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrUnavailable)
	}
	fields := logrus.Fields{"action": "store_open", "path": s.path, "mode": mode.String()}

	if mode == ModeRead {
		if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
			s.log.WithFields(fields).Info("store absent")
			return &Session{mode: mode, absent: true, bucket: s.bucket, log: s.log}, nil
		}
	} else if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	lease, err := s.locker.Acquire(s.path, mode, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %w", ErrUnavailable, s.path, err)
	}
	s.log.WithFields(fields).Debug("acquired lock")

	db, err := bolt.Open(s.path, 0o600, &bolt.Options{
		Timeout:  s.timeout,
		ReadOnly: mode == ModeRead && lease.Shared(),
	})
	if err != nil {
		_ = lease.Release()
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, s.path, err)
	}

	tx, err := db.Begin(mode == ModeWrite)
	if err != nil {
		_ = db.Close()
		_ = lease.Release()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if mode == ModeWrite {
		if _, err := tx.CreateBucketIfNotExists(s.bucket); err != nil {
			_ = tx.Rollback()
			_ = db.Close()
			_ = lease.Release()
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	return &Session{
		mode:   mode,
		db:     db,
		tx:     tx,
		bucket: s.bucket,
		lease:  lease,
		log:    s.log.WithFields(logrus.Fields{"path": s.path, "mode": mode.String()}),
	}, nil
}

// View runs fn inside a read session. The lock is released when View
// returns, including when fn fails or panics.
func (s *Store) View(fn func(*Session) error) error {
	sess, err := s.Begin(ModeRead)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}

// Update runs fn inside a write session and commits only if fn returns nil.
// Any error or panic from fn discards every change made in the session.
func (s *Store) Update(fn func(*Session) error) error {
	sess, err := s.Begin(ModeWrite)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}
