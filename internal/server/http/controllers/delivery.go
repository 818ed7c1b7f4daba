package controllers

import (
	"encoding/json"
	"net/http"

	deliverysvc "github.com/theinterneti/courier/internal/services/delivery"
)

// DeliveryController handles the message operation endpoints: send,
// broadcast, receive, ack, nack, subscriptions, dead letters, and the
// audit trail.
type DeliveryController struct {
	svc *deliverysvc.Service
}

// NewDeliveryController creates a new delivery controller.
func NewDeliveryController(svc *deliverysvc.Service) *DeliveryController {
	return &DeliveryController{svc: svc}
}

// RegisterRoutes registers all message operation routes with the given mux.
func (c *DeliveryController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/messages/send", c.handleSend)
	mux.HandleFunc("/v1/messages/broadcast", c.handleBroadcast)
	mux.HandleFunc("/v1/messages/receive", c.handleReceive)
	mux.HandleFunc("/v1/messages/ack", c.handleAck)
	mux.HandleFunc("/v1/messages/nack", c.handleNack)
	mux.HandleFunc("/v1/subscriptions/subscribe", c.handleSubscribe)
	mux.HandleFunc("/v1/dlq/list", c.handleDLQList)
	mux.HandleFunc("/v1/audit/read", c.handleAuditRead)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (c *DeliveryController) handleSend(w http.ResponseWriter, r *http.Request) {
	var req deliverysvc.SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := c.svc.Send(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *DeliveryController) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req deliverysvc.BroadcastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := c.svc.Broadcast(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *DeliveryController) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req deliverysvc.ReceiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := c.svc.Receive(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *DeliveryController) handleAck(w http.ResponseWriter, r *http.Request) {
	var req deliverysvc.AckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := c.svc.Ack(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *DeliveryController) handleNack(w http.ResponseWriter, r *http.Request) {
	var req deliverysvc.NackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := c.svc.Nack(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *DeliveryController) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req deliverysvc.SubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := c.svc.Subscribe(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *DeliveryController) handleDLQList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	resp, err := c.svc.ListDeadLetters(r.Context(), deliverysvc.DeadLetterListRequest{
		Recipient: q.Get("recipient"),
		Limit:     parseLimit(q.Get("limit")),
		Filter:    q.Get("filter"),
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *DeliveryController) handleAuditRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	entries, err := c.svc.Audit(r.Context(), deliverysvc.AuditReadRequest{
		Recipient: q.Get("recipient"),
		FromSeq:   parseSeq(q.Get("fromSeq")),
		Limit:     parseLimit(q.Get("limit")),
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"entries": entries})
}
