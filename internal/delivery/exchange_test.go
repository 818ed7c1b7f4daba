package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/theinterneti/courier/internal/config"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
	"github.com/theinterneti/courier/pkg/id"
	"github.com/theinterneti/courier/pkg/log"
)

func openTestExchange(t *testing.T, mut func(*config.Delivery)) *Exchange {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	tun := config.Default().Delivery
	if mut != nil {
		mut(&tun)
	}
	return Open(db, tun, log.NewLogger(log.WithLevel(log.ErrorLevel)))
}

func taskPayload() json.RawMessage {
	return json.RawMessage(`{"task":"index the repo"}`)
}

func mustSend(t *testing.T, x *Exchange, recipient string, prio Priority, nowMs int64) SendResult {
	t.Helper()
	res, err := x.Send(context.Background(), "orchestrator", recipient, SendInput{
		Type:     TypeTaskRequest,
		Payload:  taskPayload(),
		Priority: prio,
	}, nowMs)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("send not accepted")
	}
	return res
}

func TestSendValidation(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()

	if _, err := x.Send(ctx, "a", "bad name!", SendInput{Type: TypeTaskRequest, Payload: taskPayload()}, 1000); err == nil {
		t.Fatalf("want invalid recipient error")
	}
	if _, err := x.Send(ctx, "a", "b", SendInput{Type: "bogus", Payload: taskPayload()}, 1000); err == nil {
		t.Fatalf("want unknown type error")
	}
	// task_request payload must carry a "task" field
	if _, err := x.Send(ctx, "a", "b", SendInput{Type: TypeTaskRequest, Payload: json.RawMessage(`{"other":1}`)}, 1000); err == nil {
		t.Fatalf("want payload validation error")
	}
	if _, err := x.Send(ctx, "a", "b", SendInput{Type: TypeContextUpdate, Payload: json.RawMessage(`{"context":{}}`)}, 1000); err != nil {
		t.Fatalf("valid context_update rejected: %v", err)
	}
}

func TestSendHonorsSuppliedIDAndCreatedAt(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()

	mid, err := id.Parse("000000000000006400000000000000ff")
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	in := SendInput{Type: TypeTaskRequest, Payload: taskPayload(), ID: mid, CreatedAtMs: 500}
	res, err := x.Send(ctx, "orchestrator", "worker", in, 1000)
	if err != nil || !res.Accepted {
		t.Fatalf("send: %+v %v", res, err)
	}
	if res.MessageID != mid {
		t.Fatalf("id = %s, want %s", res.MessageID, mid)
	}
	m, err := x.Message(ctx, "worker", mid)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.CreatedAtMs != 500 {
		t.Fatalf("created = %d, want 500", m.CreatedAtMs)
	}

	// resend of the same ID is a no-op
	again, err := x.Send(ctx, "orchestrator", "worker", in, 2000)
	if err != nil || !again.Accepted || again.MessageID != mid {
		t.Fatalf("resend: %+v %v", again, err)
	}
	if got := x.activeCount("worker"); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
}

func TestReceiveEmptyReturnsNil(t *testing.T) {
	x := openTestExchange(t, nil)
	rm, err := x.Receive(context.Background(), "worker", time.Second, 1000)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if rm != nil {
		t.Fatalf("want nil on empty queue, got %+v", rm)
	}
}

func TestReceiveAckRoundTrip(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()
	sent := mustSend(t, x, "worker", PriorityNormal, 1000)

	rm, err := x.Receive(ctx, "worker", 5*time.Second, 2000)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if rm == nil || rm.Message.ID != sent.MessageID {
		t.Fatalf("claimed wrong message: %+v", rm)
	}
	if rm.Message.State != StateReserved {
		t.Fatalf("state = %s, want RESERVED", rm.Message.State)
	}
	if rm.ExpiresAtMs != 7000 {
		t.Fatalf("expires = %d, want 7000", rm.ExpiresAtMs)
	}

	ok, err := x.Ack(ctx, "worker", rm.Token, 3000)
	if err != nil || !ok {
		t.Fatalf("ack: ok=%v err=%v", ok, err)
	}
	m, err := x.Message(ctx, "worker", sent.MessageID)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if m.State != StateAcked {
		t.Fatalf("state = %s, want ACKED", m.State)
	}
}

func TestMutualExclusion(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)

	const callers = 16
	var wg sync.WaitGroup
	got := make(chan *ReceivedMessage, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rm, err := x.Receive(ctx, "worker", time.Minute, 2000)
			if err != nil {
				t.Errorf("receive: %v", err)
				return
			}
			if rm != nil {
				got <- rm
			}
		}()
	}
	wg.Wait()
	close(got)
	if n := len(got); n != 1 {
		t.Fatalf("message claimed by %d callers, want exactly 1", n)
	}
}

func TestPriorityDominatesRecency(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()

	low := mustSend(t, x, "worker", PriorityLow, 1000)
	high := mustSend(t, x, "worker", PriorityHigh, 2000)
	normal := mustSend(t, x, "worker", PriorityNormal, 3000)

	want := []SendResult{high, normal, low}
	for i, w := range want {
		rm, err := x.Receive(ctx, "worker", time.Minute, 4000)
		if err != nil || rm == nil {
			t.Fatalf("receive %d: %+v %v", i, rm, err)
		}
		if rm.Message.ID != w.MessageID {
			t.Fatalf("claim %d = %s, want %s", i, rm.Message.ID, w.MessageID)
		}
	}
}

func TestFIFOWithinLane(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()

	first := mustSend(t, x, "worker", PriorityNormal, 1000)
	second := mustSend(t, x, "worker", PriorityNormal, 1000)
	third := mustSend(t, x, "worker", PriorityNormal, 2000)

	for i, w := range []SendResult{first, second, third} {
		rm, err := x.Receive(ctx, "worker", time.Minute, 3000)
		if err != nil || rm == nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if rm.Message.ID != w.MessageID {
			t.Fatalf("claim %d out of order", i)
		}
	}
}

func TestNackRequeuesWithBackoff(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) {
		d.BackoffBase = 1
		d.BackoffFactor = 2
		d.BackoffMax = 10
	})
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)

	rm, _ := x.Receive(ctx, "worker", time.Minute, 1000)
	ok, err := x.Nack(ctx, "worker", rm.Token, FailureTransient, "timeout", 1000)
	if err != nil || !ok {
		t.Fatalf("nack: ok=%v err=%v", ok, err)
	}

	// first failure: delay = 1 * 2^1 = 2s, so invisible until 3000
	if rm2, _ := x.Receive(ctx, "worker", time.Minute, 2999); rm2 != nil {
		t.Fatalf("message visible before backoff elapsed")
	}
	rm2, err := x.Receive(ctx, "worker", time.Minute, 3000)
	if err != nil || rm2 == nil {
		t.Fatalf("message not visible after backoff: %v", err)
	}
	if rm2.Message.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", rm2.Message.Attempts)
	}
}

func TestRetryExhaustionDeadLetters(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) {
		d.RetryAttempts = 3
		d.BackoffBase = 0 // make retries immediately visible
	})
	ctx := context.Background()
	sent := mustSend(t, x, "worker", PriorityNormal, 1000)

	now := int64(1000)
	for i := 0; i < 3; i++ {
		rm, err := x.Receive(ctx, "worker", time.Minute, now)
		if err != nil || rm == nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		ok, err := x.Nack(ctx, "worker", rm.Token, FailureTransient, "boom", now)
		if err != nil || !ok {
			t.Fatalf("nack %d: ok=%v err=%v", i, ok, err)
		}
		now += 1000
	}

	// 4th failure exceeds retry_attempts=3 and dead-letters
	rm, err := x.Receive(ctx, "worker", time.Minute, now)
	if err != nil || rm == nil {
		t.Fatalf("receive 4: %v", err)
	}
	if ok, err := x.Nack(ctx, "worker", rm.Token, FailureTransient, "boom", now); err != nil || !ok {
		t.Fatalf("nack 4: ok=%v err=%v", ok, err)
	}

	entries, err := x.ListDeadLetters(ctx, "worker", 0)
	if err != nil {
		t.Fatalf("dlq list: %v", err)
	}
	if len(entries) != 1 || entries[0].Message.ID != sent.MessageID {
		t.Fatalf("dlq = %+v, want one entry for %s", entries, sent.MessageID)
	}
	if entries[0].FailureReason != ReasonRetryExhausted {
		t.Fatalf("reason = %s, want %s", entries[0].FailureReason, ReasonRetryExhausted)
	}
	if entries[0].Message.Attempts != 4 {
		t.Fatalf("attempts = %d, want 4", entries[0].Message.Attempts)
	}
	if rm, _ := x.Receive(ctx, "worker", time.Minute, now+1); rm != nil {
		t.Fatalf("dead message still claimable")
	}
}

func TestPermanentFailureDeadLettersImmediately(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)

	rm, _ := x.Receive(ctx, "worker", time.Minute, 1000)
	if ok, err := x.Nack(ctx, "worker", rm.Token, FailurePermanent, "schema mismatch", 1000); err != nil || !ok {
		t.Fatalf("nack: ok=%v err=%v", ok, err)
	}
	entries, _ := x.ListDeadLetters(ctx, "worker", 0)
	if len(entries) != 1 || entries[0].FailureReason != ReasonPermanentFailure {
		t.Fatalf("dlq = %+v, want one permanent_failure entry", entries)
	}
	if entries[0].LastError != "schema mismatch" {
		t.Fatalf("lastError = %q", entries[0].LastError)
	}
}

func TestDoubleAckReturnsFalse(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)

	rm, _ := x.Receive(ctx, "worker", time.Minute, 1000)
	if ok, _ := x.Ack(ctx, "worker", rm.Token, 2000); !ok {
		t.Fatalf("first ack rejected")
	}
	if ok, err := x.Ack(ctx, "worker", rm.Token, 2000); err != nil || ok {
		t.Fatalf("second ack: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestAckWrongOwnerOrExpiredReturnsFalse(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)

	rm, _ := x.Receive(ctx, "worker", 5*time.Second, 1000)
	if ok, _ := x.Ack(ctx, "imposter", rm.Token, 2000); ok {
		t.Fatalf("mismatched owner acked")
	}
	// expiry at 6000: an ack at 6000 is too late
	if ok, _ := x.Ack(ctx, "worker", rm.Token, 6000); ok {
		t.Fatalf("expired reservation acked")
	}
	if ok, _ := x.Ack(ctx, "worker", "no-such-token", 2000); ok {
		t.Fatalf("unknown token acked")
	}
}

func TestRecoverPendingReclaimsExpired(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) { d.BackoffBase = 0 })
	ctx := context.Background()
	sent := mustSend(t, x, "worker", PriorityNormal, 1000)

	rm, _ := x.Receive(ctx, "worker", 5*time.Second, 1000) // expires at 6000
	if rm == nil {
		t.Fatalf("no claim")
	}

	// before expiry: nothing to reclaim
	rep, err := x.RecoverPending(ctx, "", 0, 5000)
	if err != nil || rep.Total != 0 {
		t.Fatalf("early recover: %+v %v", rep, err)
	}

	rep, err = x.RecoverPending(ctx, "", 0, 7000)
	if err != nil || rep.Total != 1 {
		t.Fatalf("recover: %+v %v", rep, err)
	}
	if rep.PerRecipient["worker"] != 1 {
		t.Fatalf("per-recipient = %+v", rep.PerRecipient)
	}

	// reclaim counts as a transient failure
	rm2, err := x.Receive(ctx, "worker", time.Minute, 8000)
	if err != nil || rm2 == nil {
		t.Fatalf("reclaimed message not visible: %v", err)
	}
	if rm2.Message.ID != sent.MessageID || rm2.Message.Attempts != 1 {
		t.Fatalf("reclaimed = %+v", rm2.Message)
	}
}

func TestRecoverPendingIdempotent(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) { d.BackoffBase = 0 })
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)
	if rm, _ := x.Receive(ctx, "worker", time.Second, 1000); rm == nil {
		t.Fatalf("no claim")
	}

	rep, _ := x.RecoverPending(ctx, "", 0, 10000)
	if rep.Total != 1 {
		t.Fatalf("first recover = %d, want 1", rep.Total)
	}
	rep, _ = x.RecoverPending(ctx, "", 0, 10000)
	if rep.Total != 0 {
		t.Fatalf("second recover = %d, want 0", rep.Total)
	}
}

func TestRecoverPendingFiltersAgent(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) { d.BackoffBase = 0 })
	ctx := context.Background()
	mustSend(t, x, "alpha", PriorityNormal, 1000)
	mustSend(t, x, "beta", PriorityNormal, 1000)
	if rm, _ := x.Receive(ctx, "alpha", time.Second, 1000); rm == nil {
		t.Fatalf("alpha claim")
	}
	if rm, _ := x.Receive(ctx, "beta", time.Second, 1000); rm == nil {
		t.Fatalf("beta claim")
	}

	rep, _ := x.RecoverPending(ctx, "alpha", 0, 10000)
	if rep.Total != 1 || rep.PerRecipient["alpha"] != 1 {
		t.Fatalf("filtered recover = %+v", rep)
	}
	rep, _ = x.RecoverPending(ctx, "", 0, 10000)
	if rep.Total != 1 || rep.PerRecipient["beta"] != 1 {
		t.Fatalf("remaining recover = %+v", rep)
	}
}

func TestBackpressure(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) { d.QueueSize = 2 })
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)
	mustSend(t, x, "worker", PriorityNormal, 1000)

	_, err := x.Send(ctx, "orchestrator", "worker", SendInput{Type: TypeTaskRequest, Payload: taskPayload()}, 1000)
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("err = %v, want ErrBackpressure", err)
	}

	// a reserved message still occupies its slot
	rm, _ := x.Receive(ctx, "worker", time.Minute, 2000)
	if rm == nil {
		t.Fatalf("no claim")
	}
	if _, err := x.Send(ctx, "orchestrator", "worker", SendInput{Type: TypeTaskRequest, Payload: taskPayload()}, 2000); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("err = %v, want ErrBackpressure while reserved", err)
	}

	// ack frees the slot
	if ok, _ := x.Ack(ctx, "worker", rm.Token, 3000); !ok {
		t.Fatalf("ack rejected")
	}
	mustSend(t, x, "worker", PriorityNormal, 4000)
}

func TestBroadcastPartialSuccess(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) { d.QueueSize = 1 })
	ctx := context.Background()
	mustSend(t, x, "full", PriorityNormal, 1000)

	results := x.Broadcast(ctx, "orchestrator", SendInput{
		Type:    TypeContextUpdate,
		Payload: json.RawMessage(`{"context":{"phase":"review"}}`),
	}, []string{"full", "empty"}, 2000)

	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Accepted || !errors.Is(results[0].Err, ErrBackpressure) {
		t.Fatalf("full recipient = %+v, want backpressure", results[0])
	}
	if !results[1].Accepted {
		t.Fatalf("empty recipient rejected: %+v", results[1])
	}
}

func TestEndToEndPriorityNackScenario(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) {
		d.BackoffBase = 1
		d.BackoffFactor = 2
		d.BackoffMax = 10
	})
	ctx := context.Background()

	high := mustSend(t, x, "A", PriorityHigh, 1000)
	normal := mustSend(t, x, "A", PriorityNormal, 1000)

	rm, _ := x.Receive(ctx, "A", time.Minute, 1000)
	if rm == nil || rm.Message.ID != high.MessageID {
		t.Fatalf("first claim should be HIGH")
	}
	if ok, _ := x.Nack(ctx, "A", rm.Token, FailureTransient, "busy", 1000); !ok {
		t.Fatalf("nack rejected")
	}

	// HIGH is backing off (visible at 3000); NORMAL is next
	rm, _ = x.Receive(ctx, "A", time.Minute, 1001)
	if rm == nil || rm.Message.ID != normal.MessageID {
		t.Fatalf("second claim should be NORMAL")
	}

	// after the backoff, HIGH is claimable again with attempts=1
	rm, _ = x.Receive(ctx, "A", time.Minute, 3000)
	if rm == nil || rm.Message.ID != high.MessageID {
		t.Fatalf("third claim should be HIGH again")
	}
	if rm.Message.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", rm.Message.Attempts)
	}
}

func TestConfigureAffectsFutureSends(t *testing.T) {
	x := openTestExchange(t, func(d *config.Delivery) { d.QueueSize = 1 })
	ctx := context.Background()
	mustSend(t, x, "worker", PriorityNormal, 1000)
	if _, err := x.Send(ctx, "s", "worker", SendInput{Type: TypeTaskRequest, Payload: taskPayload()}, 1000); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("want backpressure before configure")
	}

	size := 5
	got := x.Configure(TunablesPatch{QueueSize: &size})
	if got.QueueSize != 5 {
		t.Fatalf("configured size = %d", got.QueueSize)
	}
	mustSend(t, x, "worker", PriorityNormal, 2000)
}

func TestSubscribeUnionsInterest(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()

	if err := x.Subscribe(ctx, "worker", []MessageType{TypeTaskRequest}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := x.Subscribe(ctx, "worker", []MessageType{TypeContextUpdate, TypeTaskRequest}); err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}
	types, err := x.Subscriptions(ctx, "worker")
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(types) != 2 {
		t.Fatalf("types = %v, want union of 2", types)
	}
	if err := x.Subscribe(ctx, "worker", []MessageType{"nope"}); err == nil {
		t.Fatalf("want unknown type error")
	}
}

func TestStatsSnapshot(t *testing.T) {
	x := openTestExchange(t, nil)
	ctx := context.Background()

	mustSend(t, x, "worker", PriorityHigh, 1000)
	mustSend(t, x, "worker", PriorityNormal, 1000)
	rm, _ := x.Receive(ctx, "worker", time.Minute, 1000)
	if rm == nil {
		t.Fatalf("no claim")
	}

	snap, err := x.Stats(ctx, 2000)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	rs, ok := snap.Recipients["worker"]
	if !ok {
		t.Fatalf("worker missing from snapshot")
	}
	if rs.Active != 2 || rs.Queued != 1 || rs.Reserved != 1 {
		t.Fatalf("stats = %+v", rs)
	}
	if rs.Counters.Sends != 2 || rs.Counters.Receives != 1 {
		t.Fatalf("counters = %+v", rs.Counters)
	}
}
