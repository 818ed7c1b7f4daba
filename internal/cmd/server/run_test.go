package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/theinterneti/courier/internal/config"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
)

func TestGetenvDefault(t *testing.T) {
	_ = os.Setenv("COURIER_TEST_VAR", "env_value")
	t.Cleanup(func() { _ = os.Unsetenv("COURIER_TEST_VAR") })
	if got := getenvDefault("COURIER_TEST_VAR", "default"); got != "env_value" {
		t.Fatalf("got %q", got)
	}
	if got := getenvDefault("COURIER_TEST_VAR_UNSET", "default"); got != "default" {
		t.Fatalf("got %q", got)
	}
}

func TestDataDirFallback(t *testing.T) {
	opts := Options{DataDir: ""}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.DataDir == "" {
		t.Fatal("DataDir should not be empty after fallback")
	}
	if got := filepath.Join(opts.DataDir, "store"); filepath.Base(got) != "store" {
		t.Fatalf("store dir layout: %s", got)
	}
}

// TestRunIntegration starts the server on an ephemeral port and relies on
// context cancellation for shutdown.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Run(ctx, Options{
		DataDir:  t.TempDir(),
		HTTPAddr: ":0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfgpkg.Default(),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}
