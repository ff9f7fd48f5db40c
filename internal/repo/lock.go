package repo

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// txnLock is the repo-level transaction lock (§5: "ref writes are
// serialized by the repo-level txn lock"). It's a single flock'd file
// plus an in-process mutex, since flock alone doesn't serialize goroutines
// within the same process on most platforms.
type txnLock struct {
	path string
	mu   sync.Mutex
	fd   int
}

func newTxnLock(path string) *txnLock {
	return &txnLock{path: path, fd: -1}
}

// Lock acquires the process-local mutex then flocks the lock file,
// creating it if necessary. Call Unlock to release both.
func (l *txnLock) Lock() error {
	l.mu.Lock()

	fd, err := unix.Open(l.path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0644)
	if err != nil {
		l.mu.Unlock()
		return ostreeerr.IOf("repo: open lock file: %w", err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		l.mu.Unlock()
		return ostreeerr.IOf("repo: flock: %w", err)
	}
	l.fd = fd
	return nil
}

// Unlock releases the flock and the in-process mutex.
func (l *txnLock) Unlock() {
	if l.fd >= 0 {
		unix.Flock(l.fd, unix.LOCK_UN)
		unix.Close(l.fd)
		l.fd = -1
	}
	l.mu.Unlock()
}
