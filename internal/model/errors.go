package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrConfiguration marks a missing or malformed setting. Startup and the
	// self-test surface it; it never crashes a running switch.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransientDelivery is a single channel attempt failure. The dispatcher
	// moves on to the next channel.
	ErrTransientDelivery = errors.New("transient delivery failure")
	ErrAuthentication    = errors.New("authentication failed")
	// ErrStateCorruption means the activity history cannot be trusted to
	// derive a phase. It is fatal for the monitoring loop.
	ErrStateCorruption = errors.New("state corruption")

	ErrDisabled         = errors.New("switch is disabled")
	ErrAlreadyTriggered = errors.New("switch already triggered")
	ErrReleaseInFlight  = errors.New("release in progress")
)
