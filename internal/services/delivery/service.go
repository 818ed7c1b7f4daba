package deliverysvc

import (
	"context"
	"fmt"
	"time"

	"github.com/theinterneti/courier/internal/audit"
	"github.com/theinterneti/courier/internal/delivery"
	"github.com/theinterneti/courier/internal/runtime"
	logpkg "github.com/theinterneti/courier/pkg/log"
)

// Service exposes the delivery exchange to the HTTP surface. It owns wire
// translation and request validation; all queue semantics live in the
// delivery package.
type Service struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// New creates a delivery service with a default logger.
func New(rt *runtime.Runtime) *Service {
	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	return NewWithLogger(rt, logger)
}

// NewWithLogger creates a delivery service with a custom logger.
func NewWithLogger(rt *runtime.Runtime, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	return &Service{rt: rt, logger: logger.WithComponent("deliverysvc")}
}

func (s *Service) exchange() *delivery.Exchange { return s.rt.Exchange() }

func parseSendInput(typ, prio string, payload []byte) (delivery.SendInput, error) {
	in := delivery.SendInput{Type: delivery.MessageType(typ), Payload: payload}
	if prio != "" {
		p, err := delivery.ParsePriority(prio)
		if err != nil {
			return in, err
		}
		in.Priority = p
	} else {
		in.Priority = delivery.PriorityNormal
	}
	return in, nil
}

// Send enqueues one message.
func (s *Service) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	in, err := parseSendInput(req.Type, req.Priority, req.Payload)
	if err != nil {
		return SendResponse{Recipient: req.Recipient}, err
	}
	res, err := s.exchange().Send(ctx, req.Sender, req.Recipient, in, 0)
	if err != nil {
		return SendResponse{Recipient: req.Recipient}, err
	}
	return SendResponse{Recipient: res.Recipient, MessageID: res.MessageID.String(), Accepted: true}, nil
}

// Broadcast fans one message out to many recipients; per-recipient
// failures are reported in the results, not as a call error.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) (BroadcastResponse, error) {
	if len(req.Recipients) == 0 {
		return BroadcastResponse{}, fmt.Errorf("deliverysvc: broadcast requires recipients")
	}
	in, err := parseSendInput(req.Type, req.Priority, req.Payload)
	if err != nil {
		return BroadcastResponse{}, err
	}
	results := s.exchange().Broadcast(ctx, req.Sender, in, req.Recipients, 0)
	out := BroadcastResponse{Results: make([]SendResponse, 0, len(results))}
	for _, r := range results {
		sr := SendResponse{Recipient: r.Recipient, Accepted: r.Accepted, Error: r.ErrString}
		if r.Accepted {
			sr.MessageID = r.MessageID.String()
		}
		out.Results = append(out.Results, sr)
	}
	return out, nil
}

// Receive claims the best-eligible message for an agent. An empty
// response (nil Message) means nothing was eligible.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest) (ReceiveResponse, error) {
	vis := time.Duration(req.VisibilityTimeoutMs) * time.Millisecond
	rm, err := s.exchange().Receive(ctx, req.AgentID, vis, 0)
	if err != nil {
		return ReceiveResponse{}, err
	}
	if rm == nil {
		return ReceiveResponse{}, nil
	}
	return ReceiveResponse{Message: &rm.Message, Token: rm.Token, ExpiresAtMs: rm.ExpiresAtMs}, nil
}

// Ack finalizes a claim.
func (s *Service) Ack(ctx context.Context, req AckRequest) (SettleResponse, error) {
	ok, err := s.exchange().Ack(ctx, req.AgentID, req.Token, 0)
	if err != nil {
		return SettleResponse{}, err
	}
	return SettleResponse{OK: ok}, nil
}

// Nack reports a failed attempt. FailureType defaults to TRANSIENT.
func (s *Service) Nack(ctx context.Context, req NackRequest) (SettleResponse, error) {
	ft := delivery.FailureTransient
	if req.FailureType != "" {
		parsed, err := delivery.ParseFailureType(req.FailureType)
		if err != nil {
			return SettleResponse{}, err
		}
		ft = parsed
	}
	ok, err := s.exchange().Nack(ctx, req.AgentID, req.Token, ft, req.Error, 0)
	if err != nil {
		return SettleResponse{}, err
	}
	return SettleResponse{OK: ok}, nil
}

// Subscribe records an agent's declared type interests and returns the
// merged set.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (SubscribeResponse, error) {
	types := make([]delivery.MessageType, 0, len(req.Types))
	for _, t := range req.Types {
		types = append(types, delivery.MessageType(t))
	}
	if err := s.exchange().Subscribe(ctx, req.AgentID, types); err != nil {
		return SubscribeResponse{}, err
	}
	merged, err := s.exchange().Subscriptions(ctx, req.AgentID)
	if err != nil {
		return SubscribeResponse{}, err
	}
	out := SubscribeResponse{AgentID: req.AgentID, Types: make([]string, 0, len(merged))}
	for _, t := range merged {
		out.Types = append(out.Types, string(t))
	}
	return out, nil
}

// Recover runs one recovery pass, optionally filtered to one agent.
func (s *Service) Recover(ctx context.Context, req RecoverRequest) (RecoverResponse, error) {
	rep, err := s.exchange().RecoverPending(ctx, req.AgentID, s.rt.Config().Recovery.MaxPerTick, 0)
	if err != nil {
		return RecoverResponse{}, err
	}
	return RecoverResponse{Total: rep.Total, PerRecipient: rep.PerRecipient}, nil
}

// Configure atomically patches the process-wide tunables and returns the
// effective settings.
func (s *Service) Configure(_ context.Context, req ConfigureRequest) (ConfigureResponse, error) {
	if req.QueueSize != nil && *req.QueueSize <= 0 {
		return ConfigureResponse{}, fmt.Errorf("deliverysvc: queueSize must be positive")
	}
	if req.RetryAttempts != nil && *req.RetryAttempts < 0 {
		return ConfigureResponse{}, fmt.Errorf("deliverysvc: retryAttempts must be non-negative")
	}
	for name, v := range map[string]*float64{
		"backoffBase":   req.BackoffBase,
		"backoffFactor": req.BackoffFactor,
		"backoffMax":    req.BackoffMax,
	} {
		if v != nil && *v < 0 {
			return ConfigureResponse{}, fmt.Errorf("deliverysvc: %s must be non-negative", name)
		}
	}
	eff := s.exchange().Configure(delivery.TunablesPatch{
		QueueSize:     req.QueueSize,
		RetryAttempts: req.RetryAttempts,
		BackoffBase:   req.BackoffBase,
		BackoffFactor: req.BackoffFactor,
		BackoffMax:    req.BackoffMax,
	})
	return ConfigureResponse{
		QueueSize:     eff.QueueSize,
		RetryAttempts: eff.RetryAttempts,
		BackoffBase:   eff.BackoffBase,
		BackoffFactor: eff.BackoffFactor,
		BackoffMax:    eff.BackoffMax,
	}, nil
}

// ListDeadLetters returns a recipient's dead-letter entries, optionally
// narrowed by a CEL filter expression.
func (s *Service) ListDeadLetters(ctx context.Context, req DeadLetterListRequest) (DeadLetterListResponse, error) {
	filter, err := newCELFilter(req.Filter)
	if err != nil {
		return DeadLetterListResponse{}, fmt.Errorf("deliverysvc: bad filter: %w", err)
	}
	entries, err := s.exchange().ListDeadLetters(ctx, req.Recipient, 0)
	if err != nil {
		return DeadLetterListResponse{}, err
	}
	out := DeadLetterListResponse{Entries: make([]delivery.DeadLetterEntry, 0, len(entries))}
	for _, e := range entries {
		if !filter.Eval(e) {
			continue
		}
		out.Entries = append(out.Entries, e)
		if req.Limit > 0 && len(out.Entries) >= req.Limit {
			break
		}
	}
	return out, nil
}

// Stats returns a point-in-time snapshot of queue depths and counters.
func (s *Service) Stats(ctx context.Context) (delivery.Snapshot, error) {
	return s.exchange().Stats(ctx, 0)
}

// Audit reads a recipient's audit trail from a sequence number.
func (s *Service) Audit(ctx context.Context, req AuditReadRequest) ([]audit.Entry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	return s.exchange().Audit().Read(ctx, req.Recipient, req.FromSeq, limit)
}
