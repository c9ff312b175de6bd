package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class categorizes an adapter failure so the engine can decide whether
// a retry makes sense.
type Class string

const (
	// ClassNetwork covers transport failures: unreachable hosts,
	// dropped connections. Retryable.
	ClassNetwork Class = "network"
	// ClassTimeout covers operations aborted by their deadline. Retryable.
	ClassTimeout Class = "timeout"
	// ClassLocked covers transient lock contention (index.lock etc). Retryable.
	ClassLocked Class = "locked"
	// ClassAuth covers authentication and authorization failures. Terminal.
	ClassAuth Class = "auth"
	// ClassNotFound covers missing remotes, refs, or paths. Terminal.
	ClassNotFound Class = "not_found"
	// ClassConflict covers on-disk conflicts such as a non-empty target
	// directory. Terminal.
	ClassConflict Class = "conflict"
	// ClassUnknown covers everything else. Terminal.
	ClassUnknown Class = "unknown"
)

// Error is a classified adapter failure.
type Error struct {
	Op    string // "clone", "fetch", "checkout", "status"
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err is a transient adapter failure.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ClassNetwork, ClassTimeout, ClassLocked:
		return true
	}
	return false
}

// ClassOf extracts the failure class, defaulting to ClassUnknown.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassUnknown
}

// classifyGitFailure maps git's stderr to a failure class. git does not
// expose structured errors over exec, so this is substring matching
// against messages that have been stable across git releases.
func classifyGitFailure(stderr string) Class {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "could not resolve host"),
		strings.Contains(s, "connection timed out"),
		strings.Contains(s, "connection refused"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "early eof"),
		strings.Contains(s, "the remote end hung up"):
		return ClassNetwork
	case strings.Contains(s, "index.lock"),
		strings.Contains(s, "unable to lock"),
		strings.Contains(s, "shallow.lock"):
		return ClassLocked
	case strings.Contains(s, "authentication failed"),
		strings.Contains(s, "permission denied"),
		strings.Contains(s, "could not read username"),
		strings.Contains(s, "could not read password"),
		strings.Contains(s, "publickey"):
		return ClassAuth
	case strings.Contains(s, "repository not found"),
		strings.Contains(s, "not found"),
		strings.Contains(s, "did not match any file(s) known to git"),
		strings.Contains(s, "unknown revision"):
		return ClassNotFound
	case strings.Contains(s, "already exists and is not an empty directory"),
		strings.Contains(s, "untracked working tree files would be overwritten"),
		strings.Contains(s, "your local changes to the following files would be overwritten"):
		return ClassConflict
	}
	return ClassUnknown
}
