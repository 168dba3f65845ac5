package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/app"
	"github.com/holmesproxy/alert-core/internal/config"
)

func testConfig(t *testing.T, redisAddr string) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "rules.db")
	cfg.Cache.Addr = redisAddr
	cfg.Server.WebhookAddr = ":0"
	cfg.Server.AdminAddr = ":0"
	cfg.Core.ShutdownGrace = 2 * time.Second
	return cfg
}

func TestNewBuildsEveryComponent(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	a, err := app.New(context.Background(), testConfig(t, mr.Addr()), "", nil)
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	a, err := app.New(context.Background(), testConfig(t, mr.Addr()), "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return within the shutdown grace")
	}
}

func TestNewFailsWithUnusableSQLitePathUnderLiteProfile(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := testConfig(t, mr.Addr())
	cfg.Storage.SQLitePath = "/nonexistent-dir/definitely/missing/rules.db"

	_, err = app.New(context.Background(), cfg, "", nil)
	require.Error(t, err)
}
