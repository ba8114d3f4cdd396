//go:build integration

package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container for testing.
func setupRedisContainer(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)

	port, err := redisC.MappedPort(ctx, nat.Port("6379/tcp"))
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisRegistry_RealRedis(t *testing.T) {
	redisURL := setupRedisContainer(t)

	reg, err := OpenRedis(redisURL, fmt.Sprintf("it-%d", time.Now().UnixNano()))
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, reg.Ping(ctx))

	user, err := reg.FindOrCreateUser(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, reg.AddDeviceToUser(ctx, user, "phone", "IOS", "key"))
	require.NoError(t, reg.AddDeviceToUser(ctx, user, "laptop", "Mac", ""))

	device, err := reg.ResolveDevice(ctx, "laptop", "Mac")
	require.NoError(t, err)

	owner, err := reg.FindUserByDevice(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, user.ID, owner.ID)
	assert.Len(t, owner.Devices, 2)

	orphan, err := reg.ResolveDevice(ctx, "orphan", "Linux")
	require.NoError(t, err)
	_, err = reg.FindUserByDevice(ctx, orphan)
	assert.ErrorIs(t, err, clipboard.ErrUserNotFound)
}
