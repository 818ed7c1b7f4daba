// Package httpserver provides the REST gateway for Courier: JSON endpoints
// for message operations (send, broadcast, receive, ack, nack), the
// subscription registry, dead-letter inspection, the audit trail, and the
// admin surface (recovery, configure, metrics snapshots).
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
