package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfgpkg "github.com/theinterneti/courier/internal/config"
	"github.com/theinterneti/courier/internal/runtime"
	httpserver "github.com/theinterneti/courier/internal/server/http"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
	logpkg "github.com/theinterneti/courier/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the HTTP server and background tasks, blocking until ctx is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so the server
	// shuts down cleanly even when the caller's context is plain.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	lcfg := &logpkg.Config{
		Level:  getenvDefault("COURIER_LOG_LEVEL", "info"),
		Format: getenvDefault("COURIER_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(lcfg)
	if err != nil {
		procLogger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting Courier server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("level", lcfg.Level),
		logpkg.Str("format", lcfg.Format),
	)

	rt.StartBackground()
	defer rt.StopBackground()

	hsrv := httpserver.New(rt, procLogger)
	errCh := make(chan error, 1)
	go func() { errCh <- hsrv.ListenAndServe(sctx, opts.HTTPAddr) }()

	select {
	case <-sctx.Done():
	case err := <-errCh:
		if err != nil && sctx.Err() == nil {
			hsrv.Close()
			return err
		}
	}
	hsrv.Close()
	return nil
}
