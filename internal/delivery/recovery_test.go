package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/theinterneti/courier/internal/config"
	"github.com/theinterneti/courier/pkg/log"
)

func TestScannerReclaimsInBackground(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) { d.BackoffBase = 0 })
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)

	// claim with a 1s visibility anchored at logical time 1000, so the
	// reservation is long expired on the wall clock the scanner uses
	if rm, _ := x.Receive(ctx, "worker", time.Second, 1000); rm == nil {
		t.Fatalf("no claim")
	}

	s := NewScanner(x, config.Recovery{Interval: 10 * time.Millisecond, MaxPerTick: 16},
		log.NewLogger(log.WithLevel(log.ErrorLevel)))
	s.Start()
	s.Start() // no-op while running
	t.Cleanup(s.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rm, err := x.Receive(ctx, "worker", time.Minute, 0)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if rm != nil {
			if rm.Message.Attempts != 1 {
				t.Fatalf("attempts = %d, want 1", rm.Message.Attempts)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scanner never reclaimed the expired reservation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScannerStopIsIdempotent(t *testing.T) {
	x := openTestExchange(t, nil)
	s := NewScanner(x, config.Recovery{Interval: 10 * time.Millisecond},
		log.NewLogger(log.WithLevel(log.ErrorLevel)))
	s.Stop() // never started
	s.Start()
	s.Stop()
	s.Stop()
}

func TestRecoverPendingHonorsMaxPerTick(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) { d.BackoffBase = 0 })
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustSend(t, x, "worker", PriorityNormal, 1000)
		if rm, _ := x.Receive(ctx, "worker", time.Second, 1000); rm == nil {
			t.Fatalf("claim %d", i)
		}
	}

	rep, err := x.RecoverPending(ctx, "", 2, 10000)
	if err != nil || rep.Total != 2 {
		t.Fatalf("bounded recover = %+v %v", rep, err)
	}
	rep, err = x.RecoverPending(ctx, "", 2, 10000)
	if err != nil || rep.Total != 1 {
		t.Fatalf("second pass = %+v %v", rep, err)
	}
}
