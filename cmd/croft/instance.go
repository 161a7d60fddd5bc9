package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// instanceState describes the supervisor owning a croft home.
type instanceState string

const (
	stateRunning instanceState = "running" // home lock is held
	stateStopped instanceState = "stopped" // lock free, nothing left behind
	stateStale   instanceState = "stale"   // lock free, PID file or socket left behind
)

// instance is the running supervisor's claim on a croft home: the flock on
// croft.lock plus the PID file and control socket it owns.
type instance struct {
	paths *Paths
	lock  *flock.Flock
}

// acquireInstance takes the home lock, clears files left behind by a
// supervisor that died without cleaning up, and records this process's PID.
// It fails if another supervisor holds the lock.
func acquireInstance(paths *Paths) (*instance, error) {
	if err := os.MkdirAll(paths.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", paths.Home, err)
	}

	lock := flock.New(paths.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", paths.LockPath, err)
	}
	if !locked {
		if pid, err := readPID(paths.PIDPath); err == nil {
			return nil, fmt.Errorf("supervisor already running (PID %d)", pid)
		}
		return nil, fmt.Errorf("supervisor already running (lock %s held)", paths.LockPath)
	}

	// Under the lock nothing else can own these files.
	if err := clearLeftovers(paths); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := os.WriteFile(paths.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("write PID file %s: %w", paths.PIDPath, err)
	}
	return &instance{paths: paths, lock: lock}, nil
}

// release removes the PID file and socket, then drops the lock.
func (in *instance) release() {
	_ = clearLeftovers(in.paths)
	_ = in.lock.Unlock()
}

// inspectInstance reports whether a supervisor owns the home and, when one
// does or did, the PID it recorded. A running supervisor that has not yet
// written its PID file is reported with PID 0.
func inspectInstance(paths *Paths) (instanceState, int, error) {
	pid, pidErr := readPID(paths.PIDPath)
	pidLeft := !errors.Is(pidErr, os.ErrNotExist)
	if pidErr != nil {
		pid = 0
	}

	held, err := lockHeld(paths.LockPath)
	if err != nil {
		return stateStopped, 0, err
	}
	if held {
		return stateRunning, pid, nil
	}
	if pidLeft || exists(paths.SocketPath) {
		return stateStale, pid, nil
	}
	return stateStopped, 0, nil
}

// lockHeld reports whether another open file holds the home lock. A lock
// file that was never created is free.
func lockHeld(path string) (bool, error) {
	if !exists(path) {
		return false, nil
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", path, err)
	}
	if locked {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// clearLeftovers removes the PID file and control socket. Missing files are
// not an error.
func clearLeftovers(paths *Paths) error {
	for _, p := range []string{paths.PIDPath, paths.SocketPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // PID file path is controlled by the application
	if err != nil {
		return 0, fmt.Errorf("read PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID from %s: %w", path, err)
	}
	return pid, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// terminate asks the supervisor with the given PID to shut down.
func terminate(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to PID %d: %w", pid, err)
	}
	return nil
}
