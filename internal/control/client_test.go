package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/errdefs"
)

// startServer serves ctrl on a socket in a temporary directory and returns
// a client for it.
func startServer(t *testing.T, ctrl Controller) (*Client, string) {
	t.Helper()
	return startServerAt(t, ctrl, filepath.Join(t.TempDir(), "corral.sock"))
}

func TestClientRoundTrip(t *testing.T) {
	ctrl := newFakeController()
	db := ctrl.add("db", v1alpha1.DomainStatePaused)
	c, _ := startServer(t, ctrl)
	ctx := context.Background()
	id := uuid.MustParse(db.UID)

	d, err := c.Define(ctx, []byte(manifest))
	require.NoError(t, err)
	assert.Equal(t, "web-01", d.Name)

	d, err = c.CreateTransient(ctx, []byte(manifest), false)
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.DomainStateRunning, d.Status.State)
	assert.Equal(t, 7, d.Status.RuntimeID)

	got, err := c.Get(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, db.UID, got.UID)

	items, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = c.Resume(ctx, db.UID)
	require.NoError(t, err)
	_, err = c.Start(ctx, "db", true)
	require.NoError(t, err)
	require.NoError(t, c.Reboot(ctx, "db"))
	require.NoError(t, c.Shutdown(ctx, "db"))
	require.NoError(t, c.Destroy(ctx, "db", false))
	require.NoError(t, c.Undefine(ctx, "db"))

	info, err := c.Info(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, id, info.UUID)
	assert.Equal(t, v1alpha1.DomainStatePaused, info.State)

	data, err := c.Dump(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, "metadata:\n  name: db\n", string(data))

	assert.Equal(t, []call{
		{op: "define", name: "web-01"},
		{op: "create", name: "web-01"},
		{op: "resume", id: id},
		{op: "start", id: id, paused: true},
		{op: "reboot", id: id},
		{op: "shutdown", id: id},
		{op: "destroy", id: id},
		{op: "undefine", id: id},
	}, ctrl.recorded(), "every operation reaches the serving controller")
}

func TestClientErrorsKeepKind(t *testing.T) {
	ctrl := newFakeController()
	ctrl.add("db", v1alpha1.DomainStateInactive)
	ctrl.failOn("start", fmt.Errorf("%w: console ports", errdefs.ErrResourceExhausted))
	ctrl.failOn("reboot", fmt.Errorf("%w: domain is not running", errdefs.ErrInvalidState))
	c, _ := startServer(t, ctrl)
	ctx := context.Background()

	_, err := c.Start(ctx, "db", false)
	require.ErrorIs(t, err, errdefs.ErrResourceExhausted)
	assert.Equal(t, "resource exhausted: console ports", err.Error())

	err = c.Reboot(ctx, "db")
	require.ErrorIs(t, err, errdefs.ErrInvalidState)

	_, err = c.Get(ctx, "ghost")
	require.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = c.Define(ctx, []byte("not: [yaml"))
	require.ErrorIs(t, err, ErrBadRequest)

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, KindBadRequest, remote.Kind)
}

func TestClientNotServing(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"), time.Second)

	err := c.Ping(context.Background())

	require.ErrorIs(t, err, ErrNotServing)
}

func TestServeRefusesLiveSocket(t *testing.T) {
	_, path := startServer(t, newFakeController())

	err := NewServer(newFakeController(), nil).Serve(context.Background(), path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already serving")
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "the running server keeps its socket")
}

func TestServeReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corral.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	c, _ := startServerAt(t, newFakeController(), path)

	require.NoError(t, c.Ping(context.Background()))
}

func startServerAt(t *testing.T, ctrl Controller, path string) (*Client, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewServer(ctrl, nil).Serve(ctx, path) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	c := NewClient(path, 5*time.Second)
	require.Eventually(t, func() bool {
		return c.Ping(context.Background()) == nil
	}, 5*time.Second, 10*time.Millisecond)
	return c, path
}
