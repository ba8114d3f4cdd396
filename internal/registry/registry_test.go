package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisRegistry creates a registry connected to a miniredis instance
func setupRedisRegistry(t *testing.T) (*RedisRegistry, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	reg, err := NewRedisRegistry(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	return reg, mr
}

func setupSQLiteRegistry(t *testing.T) *SQLiteRegistry {
	reg, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

// backends runs fn against every Registry implementation.
func backends(t *testing.T, fn func(t *testing.T, reg Registry)) {
	t.Run("redis", func(t *testing.T) {
		reg, _ := setupRedisRegistry(t)
		fn(t, reg)
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, setupSQLiteRegistry(t))
	})
}

func TestResolveDevice(t *testing.T) {
	backends(t, func(t *testing.T, reg Registry) {
		ctx := context.Background()

		first, err := reg.ResolveDevice(ctx, "laptop", "Mac")
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)
		assert.Equal(t, "laptop", first.Name)
		assert.Equal(t, clipboard.DeviceTypeMac, first.Type)

		again, err := reg.ResolveDevice(ctx, "laptop", "Mac")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID, "(name, type) must resolve to the same device")

		other, err := reg.ResolveDevice(ctx, "laptop", "Linux")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)

		_, err = reg.ResolveDevice(ctx, "laptop", "Toaster")
		assert.ErrorIs(t, err, clipboard.ErrInvalidDeviceType)

		_, err = reg.ResolveDevice(ctx, "", "Mac")
		assert.ErrorIs(t, err, clipboard.ErrInvalidInput)
	})
}

func TestResolveDevice_Concurrent(t *testing.T) {
	backends(t, func(t *testing.T, reg Registry) {
		ctx := context.Background()

		var wg sync.WaitGroup
		ids := make([]string, 20)
		errs := make([]error, 20)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				d, err := reg.ResolveDevice(ctx, "phone", "Android")
				errs[i] = err
				if err == nil {
					ids[i] = d.ID
				}
			}(i)
		}
		wg.Wait()

		for i := range ids {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
	})
}

func TestFindUserByDevice_Unowned(t *testing.T) {
	backends(t, func(t *testing.T, reg Registry) {
		ctx := context.Background()

		device, err := reg.ResolveDevice(ctx, "orphan", "Windows")
		require.NoError(t, err)

		_, err = reg.FindUserByDevice(ctx, device)
		assert.ErrorIs(t, err, clipboard.ErrUserNotFound)
		assert.True(t, clipboard.IsNotFound(err))
	})
}

func TestAddDeviceToUser(t *testing.T) {
	backends(t, func(t *testing.T, reg Registry) {
		ctx := context.Background()

		user, err := reg.FindOrCreateUser(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, user.Devices)

		require.NoError(t, reg.AddDeviceToUser(ctx, user, "phone", "IOS", "bark-key"))
		require.NoError(t, reg.AddDeviceToUser(ctx, user, "laptop", "Mac", ""))
		require.Len(t, user.Devices, 2)

		device, err := reg.ResolveDevice(ctx, "phone", "IOS")
		require.NoError(t, err)
		assert.Equal(t, "bark-key", device.Notification)

		owner, err := reg.FindUserByDevice(ctx, device)
		require.NoError(t, err)
		assert.Equal(t, user.ID, owner.ID)
		assert.Equal(t, "alice", owner.Name)
		assert.ElementsMatch(t, user.DeviceIDs(), owner.DeviceIDs())

		// Re-adding is idempotent.
		require.NoError(t, reg.AddDeviceToUser(ctx, user, "phone", "IOS", "bark-key"))
		assert.Len(t, user.Devices, 2)

		assert.ErrorIs(t, reg.AddDeviceToUser(ctx, user, "phone", "Fridge", ""), clipboard.ErrInvalidDeviceType)
	})
}

func TestAddDeviceToUser_AdoptsUnownedDevice(t *testing.T) {
	backends(t, func(t *testing.T, reg Registry) {
		ctx := context.Background()

		device, err := reg.ResolveDevice(ctx, "desktop", "Linux")
		require.NoError(t, err)

		user, err := reg.FindOrCreateUser(ctx, "bob")
		require.NoError(t, err)
		require.NoError(t, reg.AddDeviceToUser(ctx, user, "desktop", "Linux", "token"))

		owner, err := reg.FindUserByDevice(ctx, device)
		require.NoError(t, err)
		assert.Equal(t, user.ID, owner.ID)
		require.Len(t, owner.Devices, 1)
		assert.Equal(t, device.ID, owner.Devices[0].ID)
		assert.Equal(t, "token", owner.Devices[0].Notification)
	})
}

func TestAddDeviceToUser_KeepsExistingOwner(t *testing.T) {
	backends(t, func(t *testing.T, reg Registry) {
		ctx := context.Background()

		alice, err := reg.FindOrCreateUser(ctx, "alice")
		require.NoError(t, err)
		require.NoError(t, reg.AddDeviceToUser(ctx, alice, "shared", "Mac", ""))

		bob, err := reg.FindOrCreateUser(ctx, "bob")
		require.NoError(t, err)
		require.NoError(t, reg.AddDeviceToUser(ctx, bob, "shared", "Mac", ""))
		assert.Empty(t, bob.Devices)

		device, err := reg.ResolveDevice(ctx, "shared", "Mac")
		require.NoError(t, err)
		owner, err := reg.FindUserByDevice(ctx, device)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, owner.ID)
	})
}

func TestFindOrCreateUser(t *testing.T) {
	backends(t, func(t *testing.T, reg Registry) {
		ctx := context.Background()

		_, err := reg.FindUser(ctx, "carol")
		assert.ErrorIs(t, err, clipboard.ErrUserNotFound)

		created, err := reg.FindOrCreateUser(ctx, "carol")
		require.NoError(t, err)

		found, err := reg.FindOrCreateUser(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)

		byName, err := reg.FindUser(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byName.ID)

		_, err = reg.FindOrCreateUser(ctx, "")
		assert.ErrorIs(t, err, clipboard.ErrInvalidInput)
	})
}

func TestPing(t *testing.T) {
	backends(t, func(t *testing.T, reg Registry) {
		assert.NoError(t, reg.Ping(context.Background()))
	})
}

func TestRedisRegistry_UpstreamFailure(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	mr.Close()

	_, err := reg.ResolveDevice(context.Background(), "laptop", "Mac")
	assert.ErrorIs(t, err, clipboard.ErrUpstream)

	err = reg.Ping(context.Background())
	assert.ErrorIs(t, err, clipboard.ErrUpstream)
}

func TestRedisRegistry_KeyLayout(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	user, err := reg.FindOrCreateUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, reg.AddDeviceToUser(ctx, user, "phone", "IOS", ""))
	device := user.Devices[0]

	id, err := mr.Get(DeviceByKeyKey("test", clipboard.DeviceTypeIOS, "phone"))
	require.NoError(t, err)
	assert.Equal(t, device.ID, id)

	owner, err := mr.Get(DeviceOwnerKey("test", device.ID))
	require.NoError(t, err)
	assert.Equal(t, user.ID, owner)

	members, err := mr.Members(UserDevicesKey("test", user.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{device.ID}, members)

	assert.Equal(t, "clipsync:test:user:abc", UserKey("test", "abc"))
	assert.Equal(t, "clipsync:test:user_by_name:alice", UserByNameKey("test", "alice"))
}

func TestRedisRegistry_AddDeviceRepairsRoster(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	user, err := reg.FindOrCreateUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, reg.AddDeviceToUser(ctx, user, "phone", "IOS", ""))
	device := user.Devices[0]

	// Owner claimed, roster write lost.
	mr.Del(UserDevicesKey("test", user.ID))
	owner, err := reg.FindUserByDevice(ctx, device)
	require.NoError(t, err)
	require.Empty(t, owner.Devices)

	require.NoError(t, reg.AddDeviceToUser(ctx, user, "phone", "IOS", ""))
	assert.Equal(t, []string{device.ID}, user.DeviceIDs())

	owner, err = reg.FindUserByDevice(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, []string{device.ID}, owner.DeviceIDs())
}

func TestNewRedisRegistry_RejectsEmptyNamespace(t *testing.T) {
	_, err := NewRedisRegistry(&redis.Options{Addr: "localhost:6379"}, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "namespace cannot be empty")
}

func TestOpen(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		reg, err := Open(Options{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "reg.db")})
		require.NoError(t, err)
		defer reg.Close()
		assert.IsType(t, &SQLiteRegistry{}, reg)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		reg, err := Open(Options{Driver: DriverRedis, RedisURL: "redis://" + mr.Addr(), Namespace: "ns"})
		require.NoError(t, err)
		defer reg.Close()
		assert.IsType(t, &RedisRegistry{}, reg)
	})

	t.Run("invalid redis url", func(t *testing.T) {
		_, err := Open(Options{Driver: DriverRedis, RedisURL: "://nope", Namespace: "ns"})
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(Options{Driver: "mongo"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown registry driver")
	})
}
