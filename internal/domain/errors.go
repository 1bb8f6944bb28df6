package domain

import "errors"

var (
	// ErrConfigValidation rejects a StreamConfig before any I/O.
	ErrConfigValidation = errors.New("config validation")
	// ErrConnection is a handshake or transport failure reported by the
	// streaming library. Terminal for the session.
	ErrConnection = errors.New("connection")
	// ErrDecode is a codec construction or decode failure. Recoverable by
	// requesting an IDR frame.
	ErrDecode = errors.New("decode")
	// ErrTruncated means a decode unit's fragments sum to less than its
	// declared total length. The frame is dropped.
	ErrTruncated = errors.New("decode unit truncated")
	// ErrSessionBusy is returned by Start while a connection is in progress.
	ErrSessionBusy = errors.New("session busy")
	// ErrAmbiguousActive is returned when a second session tries to become
	// active while context-less callbacks are routed to the first.
	ErrAmbiguousActive = errors.New("another session is already active")
	// ErrNotActive is returned by library input calls without a live stream.
	ErrNotActive = errors.New("not active")
)
