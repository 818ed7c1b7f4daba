// Package runtime wires storage, config, and the delivery exchange into a
// single-node Courier instance. It exposes Open/Close, basic health checks,
// and the lifecycle of the background recovery scanner and metrics
// aggregator.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	rt.StartBackground()
//	// Enqueue a message
//	_, _ = rt.Exchange().Send(ctx, "orchestrator", "worker", delivery.SendInput{...}, 0)
package runtime
