package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRegistry stores users and devices in Redis.
// The registry is thread-safe and can be used concurrently from multiple goroutines.
type RedisRegistry struct {
	rdb       *redis.Client
	namespace string
}

// OpenRedis parses redisURL and creates a registry for the namespace.
func OpenRedis(redisURL, namespace string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewRedisRegistry(opts, namespace)
}

// NewRedisRegistry creates a registry using the given connection options.
// Returns an error if namespace is empty.
func NewRedisRegistry(redisOpts *redis.Options, namespace string) (*RedisRegistry, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &RedisRegistry{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}

// Ping verifies Redis connectivity.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return clipboard.Upstream("ping redis", err)
	}
	return nil
}

// ResolveDevice returns the device registered as (name, deviceType), creating it if absent.
func (r *RedisRegistry) ResolveDevice(ctx context.Context, name, deviceType string) (*clipboard.Device, error) {
	dt, err := validateDevice(name, deviceType)
	if err != nil {
		return nil, err
	}
	return r.findOrCreateDevice(ctx, name, dt, "")
}

// findOrCreateDevice looks the device up through its (type, name) index.
// A new device hash is written before the index is claimed with SETNX, so a
// reader that sees the index always finds the hash. The loser of a creation
// race deletes its hash and adopts the winner's record.
func (r *RedisRegistry) findOrCreateDevice(ctx context.Context, name string, dt clipboard.DeviceType, notification string) (*clipboard.Device, error) {
	indexKey := DeviceByKeyKey(r.namespace, dt, name)

	for attempt := 0; attempt < 3; attempt++ {
		id, err := r.rdb.Get(ctx, indexKey).Result()
		switch {
		case err == nil:
			return r.getDevice(ctx, id)
		case !errors.Is(err, redis.Nil):
			return nil, clipboard.Upstream("find device", err)
		}

		device := &clipboard.Device{
			ID:           uuid.New().String(),
			Name:         name,
			Type:         dt,
			Notification: notification,
		}
		deviceKey := DeviceKey(r.namespace, device.ID)
		if err := r.rdb.HSet(ctx, deviceKey, deviceToHash(device)).Err(); err != nil {
			return nil, clipboard.Upstream("write device", err)
		}

		won, err := r.rdb.SetNX(ctx, indexKey, device.ID, 0).Result()
		if err != nil {
			return nil, clipboard.Upstream("index device", err)
		}
		if won {
			return device, nil
		}

		if err := r.rdb.Del(ctx, deviceKey).Err(); err != nil {
			return nil, clipboard.Upstream("discard duplicate device", err)
		}
	}

	return nil, clipboard.Upstream("resolve device", fmt.Errorf("device %s(%s) kept changing during creation", name, dt))
}

func (r *RedisRegistry) getDevice(ctx context.Context, deviceID string) (*clipboard.Device, error) {
	hash, err := r.rdb.HGetAll(ctx, DeviceKey(r.namespace, deviceID)).Result()
	if err != nil {
		return nil, clipboard.Upstream("read device", err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("%w: %s", clipboard.ErrDeviceNotFound, deviceID)
	}

	device, err := hashToDevice(hash)
	if err != nil {
		return nil, clipboard.Upstream("decode device", err)
	}
	return device, nil
}

// FindUserByDevice returns the owner of device with its roster.
func (r *RedisRegistry) FindUserByDevice(ctx context.Context, device *clipboard.Device) (*clipboard.User, error) {
	userID, err := r.rdb.Get(ctx, DeviceOwnerKey(r.namespace, device.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: device %s has no owner", clipboard.ErrUserNotFound, device)
	}
	if err != nil {
		return nil, clipboard.Upstream("find device owner", err)
	}

	return r.getUser(ctx, userID)
}

// FindUser returns the user called name with its roster.
func (r *RedisRegistry) FindUser(ctx context.Context, name string) (*clipboard.User, error) {
	if err := validateUserName(name); err != nil {
		return nil, err
	}

	userID, err := r.rdb.Get(ctx, UserByNameKey(r.namespace, name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", clipboard.ErrUserNotFound, name)
	}
	if err != nil {
		return nil, clipboard.Upstream("find user", err)
	}

	return r.getUser(ctx, userID)
}

// FindOrCreateUser returns the user called name, creating it if absent.
func (r *RedisRegistry) FindOrCreateUser(ctx context.Context, name string) (*clipboard.User, error) {
	if err := validateUserName(name); err != nil {
		return nil, err
	}

	indexKey := UserByNameKey(r.namespace, name)
	for attempt := 0; attempt < 3; attempt++ {
		user, err := r.FindUser(ctx, name)
		if err == nil || !clipboard.IsNotFound(err) {
			return user, err
		}

		user = &clipboard.User{ID: uuid.New().String(), Name: name, Devices: []*clipboard.Device{}}
		userKey := UserKey(r.namespace, user.ID)
		if err := r.rdb.HSet(ctx, userKey, "id", user.ID, "name", user.Name).Err(); err != nil {
			return nil, clipboard.Upstream("write user", err)
		}

		won, err := r.rdb.SetNX(ctx, indexKey, user.ID, 0).Result()
		if err != nil {
			return nil, clipboard.Upstream("index user", err)
		}
		if won {
			return user, nil
		}

		if err := r.rdb.Del(ctx, userKey).Err(); err != nil {
			return nil, clipboard.Upstream("discard duplicate user", err)
		}
	}

	return nil, clipboard.Upstream("create user", fmt.Errorf("user %s kept changing during creation", name))
}

// AddDeviceToUser registers the device and links it to user if it has no owner.
func (r *RedisRegistry) AddDeviceToUser(ctx context.Context, user *clipboard.User, name, deviceType, notification string) error {
	dt, err := validateDevice(name, deviceType)
	if err != nil {
		return err
	}

	device, err := r.findOrCreateDevice(ctx, name, dt, notification)
	if err != nil {
		return err
	}

	linked, err := r.rdb.SetNX(ctx, DeviceOwnerKey(r.namespace, device.ID), user.ID, 0).Result()
	if err != nil {
		return clipboard.Upstream("link device", err)
	}
	if !linked {
		owner, err := r.rdb.Get(ctx, DeviceOwnerKey(r.namespace, device.ID)).Result()
		if err != nil {
			return clipboard.Upstream("read device owner", err)
		}
		if owner == user.ID {
			// Repairs a roster write that failed after the owner was claimed.
			if err := r.rdb.SAdd(ctx, UserDevicesKey(r.namespace, user.ID), device.ID).Err(); err != nil {
				return clipboard.Upstream("add device to user", err)
			}
		}
		return r.refreshRoster(ctx, user)
	}

	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, UserDevicesKey(r.namespace, user.ID), device.ID)
	if notification != "" && device.Notification != notification {
		pipe.HSet(ctx, DeviceKey(r.namespace, device.ID), "notification", notification)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return clipboard.Upstream("add device to user", err)
	}

	return r.refreshRoster(ctx, user)
}

func (r *RedisRegistry) refreshRoster(ctx context.Context, user *clipboard.User) error {
	devices, err := r.getRoster(ctx, user.ID)
	if err != nil {
		return err
	}
	user.Devices = devices
	return nil
}

func (r *RedisRegistry) getUser(ctx context.Context, userID string) (*clipboard.User, error) {
	hash, err := r.rdb.HGetAll(ctx, UserKey(r.namespace, userID)).Result()
	if err != nil {
		return nil, clipboard.Upstream("read user", err)
	}
	if len(hash) == 0 {
		return nil, fmt.Errorf("%w: %s", clipboard.ErrUserNotFound, userID)
	}

	devices, err := r.getRoster(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &clipboard.User{ID: hash["id"], Name: hash["name"], Devices: devices}, nil
}

// getRoster loads every device of a user, ordered by name then type.
func (r *RedisRegistry) getRoster(ctx context.Context, userID string) ([]*clipboard.Device, error) {
	ids, err := r.rdb.SMembers(ctx, UserDevicesKey(r.namespace, userID)).Result()
	if err != nil {
		return nil, clipboard.Upstream("read user devices", err)
	}

	devices := make([]*clipboard.Device, 0, len(ids))
	for _, id := range ids {
		device, err := r.getDevice(ctx, id)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].Type < devices[j].Type
	})

	return devices, nil
}
