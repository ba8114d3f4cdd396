package clipboard

import (
	"errors"
	"fmt"
)

// Error categories. Concrete errors wrap exactly one of these.
var (
	// ErrInvalidInput covers malformed device types, entries and request bodies.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound covers unknown users and devices.
	ErrNotFound = errors.New("not found")

	// ErrUpstream marks a failure of the registry backend or another collaborator.
	ErrUpstream = errors.New("upstream failure")

	// ErrSessionFault marks handshake and transport failures of a live session.
	ErrSessionFault = errors.New("session fault")
)

// Concrete errors.
var (
	ErrInvalidDeviceType = fmt.Errorf("%w: invalid device type", ErrInvalidInput)
	ErrInvalidEntryType  = fmt.Errorf("%w: invalid entry type", ErrInvalidInput)
	ErrUserNotFound      = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrDeviceNotFound    = fmt.Errorf("%w: device not found", ErrNotFound)
)

// Upstream wraps a backend error so it classifies as ErrUpstream while
// keeping the original error in the chain.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}

// IsNotFound reports whether err is an unknown user or device.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput reports whether err was caused by malformed caller input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
