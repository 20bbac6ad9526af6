package store

import (
	"errors"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// configured timeout.
var ErrLockTimeout = errors.New("store: lock acquisition timed out")

const lockRetryInterval = 20 * time.Millisecond

// Locker is a locking discipline for sessions on the database at path.
// A timeout <= 0 blocks until the lock is available.
type Locker interface {
	Acquire(path string, mode Mode, timeout time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	// Shared reports whether other sessions may hold the lock at the same
	// time, in which case the database is opened read-only.
	Shared() bool
	Release() error
}

// MutexLocker takes the same exclusive lock for every session, read or
// write. Stores that share a MutexLocker are serialized against each other
// inside the process; the database is then opened read-write, so bbolt's own
// exclusive file lock serializes sessions of other processes too.
type MutexLocker struct {
	mu sync.Mutex
}

func NewMutexLocker() *MutexLocker { return &MutexLocker{} }

func (l *MutexLocker) Acquire(_ string, _ Mode, timeout time.Duration) (Lease, error) {
	if timeout <= 0 {
		l.mu.Lock()
		return &mutexLease{mu: &l.mu}, nil
	}
	deadline := time.Now().Add(timeout)
	for !l.mu.TryLock() {
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}
	return &mutexLease{mu: &l.mu}, nil
}

type mutexLease struct {
	once sync.Once
	mu   *sync.Mutex
}

func (l *mutexLease) Shared() bool { return false }

func (l *mutexLease) Release() error {
	l.once.Do(l.mu.Unlock)
	return nil
}

// RWLocker uses flock(2) on a sidecar "<path>.lock" file: read sessions
// take a shared lock and write sessions an exclusive one. The lock belongs
// to the open file, so it synchronizes goroutines and processes alike.
type RWLocker struct{}

func NewRWLocker() RWLocker { return RWLocker{} }

func (RWLocker) Acquire(path string, mode Mode, timeout time.Duration) (Lease, error) {
	f, err := os.OpenFile(LockPath(path), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	how := unix.LOCK_SH
	if mode == ModeWrite {
		how = unix.LOCK_EX
	}
	if err := flock(int(f.Fd()), how, timeout); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileLease{f: f, shared: mode != ModeWrite}, nil
}

// LockPath returns the sidecar lock file used by RWLocker for path.
func LockPath(path string) string { return path + ".lock" }

func flock(fd, how int, timeout time.Duration) error {
	if timeout <= 0 {
		for {
			err := unix.Flock(fd, how)
			if err != unix.EINTR {
				return err
			}
		}
	}
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(fd, how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			return err
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}
}

type fileLease struct {
	mu     sync.Mutex
	f      *os.File
	shared bool
}

func (l *fileLease) Shared() bool { return l.shared }

func (l *fileLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := errors.Join(unix.Flock(int(l.f.Fd()), unix.LOCK_UN), l.f.Close())
	l.f = nil
	return err
}
