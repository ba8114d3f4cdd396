// Package registry resolves claimed device identities to durable device
// records and to the owning user's roster.
//
// Two backends implement Registry: a Redis backend (the default) with
// namespaced keys, and a SQLite backend with the users, devices and
// user_device tables. Both enforce (name, type) uniqueness of devices and
// name uniqueness of users, including under concurrent creation.
package registry

import (
	"context"
	"fmt"

	"github.com/dyluth/clipsync/pkg/clipboard"
)

// Registry is the device and user store consumed by the server and sessions.
// Backend failures are returned wrapped in clipboard.ErrUpstream.
type Registry interface {
	// ResolveDevice returns the device registered as (name, deviceType),
	// creating it without an owner if absent. Fails with
	// clipboard.ErrInvalidDeviceType for an unknown type.
	ResolveDevice(ctx context.Context, name, deviceType string) (*clipboard.Device, error)

	// FindUserByDevice returns the owner of device with its full roster.
	// Fails with clipboard.ErrUserNotFound if the device has no owner.
	FindUserByDevice(ctx context.Context, device *clipboard.Device) (*clipboard.User, error)

	// FindOrCreateUser returns the user called name, creating it if absent.
	FindOrCreateUser(ctx context.Context, name string) (*clipboard.User, error)

	// FindUser returns the user called name with its roster.
	// Fails with clipboard.ErrUserNotFound if absent.
	FindUser(ctx context.Context, name string) (*clipboard.User, error)

	// AddDeviceToUser registers (name, deviceType) and links it to user when
	// the device has no owner yet. A device owned by another user is left
	// unchanged. On success user.Devices reflects the stored roster.
	AddDeviceToUser(ctx context.Context, user *clipboard.User, name, deviceType, notification string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Drivers understood by Open.
const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Driver     string
	RedisURL   string
	Namespace  string
	SQLitePath string
}

// Open creates the backend named by opts.Driver.
func Open(opts Options) (Registry, error) {
	switch opts.Driver {
	case DriverRedis, "":
		return OpenRedis(opts.RedisURL, opts.Namespace)
	case DriverSQLite:
		return OpenSQLite(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown registry driver: %q (must be %q or %q)", opts.Driver, DriverRedis, DriverSQLite)
	}
}

func validateDevice(name, deviceType string) (clipboard.DeviceType, error) {
	return clipboard.DeviceRef{Name: name, Type: deviceType}.Parse()
}

func validateUserName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: user name cannot be empty", clipboard.ErrInvalidInput)
	}
	return nil
}
