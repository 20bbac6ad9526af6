package store

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

const (
	helperDBEnv    = "FEEDCACHE_STORE_HELPER_DB"
	helperRoundEnv = "FEEDCACHE_STORE_HELPER_ROUNDS"
)

func TestConcurrentWritersAreSerialized(t *testing.T) {
	for name, locker := range lockers() {
		t.Run(name, func(t *testing.T) {
			st := newTestStore(t, locker)
			const workers, rounds = 8, 10

			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < rounds; j++ {
						if err := increment(st, "counter"); err != nil {
							errs <- err
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("increment: %v", err)
			}

			if got := readCounter(t, st, "counter"); got != workers*rounds {
				t.Fatalf("lost updates: expected %d, got %d", workers*rounds, got)
			}
		})
	}
}

func TestRWLockerSharesReadersAndExcludesWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	locker := NewRWLocker()

	r1, err := locker.Acquire(path, ModeRead, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("first reader: %v", err)
	}
	r2, err := locker.Acquire(path, ModeRead, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("readers should share the lock: %v", err)
	}
	if !r1.Shared() || !r2.Shared() {
		t.Fatalf("read leases should be shared")
	}

	if _, err := locker.Acquire(path, ModeWrite, 100*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("writer must wait for readers, got %v", err)
	}

	_ = r1.Release()
	_ = r2.Release()

	w, err := locker.Acquire(path, ModeWrite, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("writer after readers released: %v", err)
	}
	if w.Shared() {
		t.Fatalf("write lease must be exclusive")
	}
	if _, err := locker.Acquire(path, ModeRead, 100*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("reader must wait for the writer, got %v", err)
	}
	_ = w.Release()
	if err := w.Release(); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
}

func TestMutexLockerExcludesReaders(t *testing.T) {
	locker := NewMutexLocker()
	first, err := locker.Acquire("ignored", ModeRead, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if first.Shared() {
		t.Fatalf("mutex leases are never shared")
	}
	if _, err := locker.Acquire("ignored", ModeRead, 50*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second reader must wait under mutual exclusion, got %v", err)
	}
	_ = first.Release()
	_ = first.Release()

	second, err := locker.Acquire("ignored", ModeWrite, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = second.Release()
}

func TestWriteVisibleToLaterSessions(t *testing.T) {
	st := newTestStore(t, nil)
	sess, err := st.Begin(ModeWrite)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := sess.Put("k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}

	done := make(chan []byte)
	go func() {
		var got []byte
		_ = st.View(func(s *Session) error {
			got, _, _ = s.Get("k")
			return nil
		})
		done <- got
	}()

	select {
	case <-done:
		t.Fatalf("reader must not enter while the writer holds the lock")
	case <-time.After(100 * time.Millisecond):
	}

	if err := sess.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := <-done; string(got) != "v1" {
		t.Fatalf("reader that started after the write should see it, got %q", got)
	}
}

func TestProcessesShareTheStore(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns subprocesses")
	}
	path := filepath.Join(t.TempDir(), "cache.db")
	const procs, rounds = 4, 15

	var wg sync.WaitGroup
	errs := make(chan error, procs)
	for i := 0; i < procs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcessIncrement$")
			cmd.Env = append(os.Environ(), helperDBEnv+"="+path, helperRoundEnv+"="+strconv.Itoa(rounds))
			if out, err := cmd.CombinedOutput(); err != nil {
				errs <- fmt.Errorf("%v: %s", err, out)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("helper process: %v", err)
	}

	st := New(path, Options{})
	if got := readCounter(t, st, "counter"); got != procs*rounds {
		t.Fatalf("lost updates across processes: expected %d, got %d", procs*rounds, got)
	}
}

// TestHelperProcessIncrement runs only as a subprocess of
// TestProcessesShareTheStore.
func TestHelperProcessIncrement(t *testing.T) {
	path := os.Getenv(helperDBEnv)
	if path == "" {
		t.Skip("helper process")
	}
	rounds, _ := strconv.Atoi(os.Getenv(helperRoundEnv))
	st := New(path, Options{})
	for i := 0; i < rounds; i++ {
		if err := increment(st, "counter"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
}

func increment(st *Store, key string) error {
	return st.Update(func(s *Session) error {
		n := 0
		if v, ok, err := s.Get(key); err != nil {
			return err
		} else if ok {
			n, _ = strconv.Atoi(string(v))
		}
		return s.Put(key, []byte(strconv.Itoa(n+1)))
	})
}

func readCounter(t *testing.T, st *Store, key string) int {
	t.Helper()
	var n int
	err := st.View(func(s *Session) error {
		v, err := s.Lookup(key)
		if err != nil {
			return err
		}
		n, err = strconv.Atoi(string(v))
		return err
	})
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return n
}
