// Package testutil provides an isolated, in-process clipsync server for tests
// of the packages that sit on top of it.
package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/clipsync/internal/logging"
	"github.com/dyluth/clipsync/internal/mailbox"
	"github.com/dyluth/clipsync/internal/registry"
	"github.com/dyluth/clipsync/internal/server"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/stretchr/testify/require"
)

// Env is a running server backed by miniredis, torn down with the test.
type Env struct {
	T        *testing.T
	Redis    *miniredis.Miniredis
	Registry registry.Registry
	Store    *mailbox.Store
	Server   *server.Server
	URL      string
	Ctx      context.Context
}

// SetupEnv starts a server on a random local port with a fresh registry
// namespace and an empty mailbox store.
func SetupEnv(t *testing.T, opts ...server.Option) *Env {
	t.Helper()

	mr := miniredis.RunT(t)
	reg, err := registry.OpenRedis("redis://"+mr.Addr()+"/0", "test")
	require.NoError(t, err, "Failed to open registry")

	store := mailbox.NewStore(0, 0)
	srv := server.New(reg, store, logging.Discard(), opts...)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Logf("Failed to shut down server: %v", err)
		}
		ts.Close()
		reg.Close()
	})

	return &Env{
		T:        t,
		Redis:    mr,
		Registry: reg,
		Store:    store,
		Server:   srv,
		URL:      ts.URL,
		Ctx:      context.Background(),
	}
}

// Register adds device to user directly through the registry and returns it.
func (e *Env) Register(user, device, deviceType, notification string) *clipboard.Device {
	e.T.Helper()

	u, err := e.Registry.FindOrCreateUser(e.Ctx, user)
	require.NoError(e.T, err)
	require.NoError(e.T, e.Registry.AddDeviceToUser(e.Ctx, u, device, deviceType, notification))

	d, err := e.Registry.ResolveDevice(e.Ctx, device, deviceType)
	require.NoError(e.T, err)
	return d
}

// WaitForLive blocks until exactly n websocket sessions are active.
func (e *Env) WaitForLive(n int64) {
	e.T.Helper()
	require.Eventually(e.T, func() bool { return e.Server.Sessions().Live() == n },
		2*time.Second, 10*time.Millisecond, "expected %d live sessions", n)
}
