// Package lock keeps two parleyd processes from serving the same data dir.
package lock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// FileName is the lock file created inside the data dir.
const FileName = "parleyd.lock"

// HeldError is returned when another process owns the data dir.
type HeldError struct {
	PID        int
	ListenAddr string
	Path       string
}

func (e *HeldError) Error() string {
	if e.ListenAddr != "" {
		return fmt.Sprintf("data dir locked by PID %d listening on %s (%s)", e.PID, e.ListenAddr, e.Path)
	}
	return fmt.Sprintf("data dir locked by PID %d (%s)", e.PID, e.Path)
}

// Lock is an acquired data dir lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking flock on dataDir/parleyd.lock and
// records the owner for diagnostics.
func Acquire(dataDir, listenAddr string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		held := &HeldError{Path: path}
		if data, rerr := os.ReadFile(path); rerr == nil {
			held.PID, held.ListenAddr = parseOwner(string(data))
		}
		return nil, held
	}

	owner := fmt.Sprintf("pid=%d\naddr=%s\ntime=%s\n",
		os.Getpid(), listenAddr, time.Now().UTC().Format(time.RFC3339))
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(owner), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock. Safe on a nil receiver and when called twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parseOwner(content string) (pid int, addr string) {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			pid, _ = strconv.Atoi(val)
		case "addr":
			addr = val
		}
	}
	return pid, addr
}
