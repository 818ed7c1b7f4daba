package controllers

import (
	"net/http"

	"github.com/theinterneti/courier/internal/runtime"
	deliverysvc "github.com/theinterneti/courier/internal/services/delivery"
)

// AdminController handles the out-of-band admin surface: recovery passes,
// tunable reconfiguration, and metrics snapshots.
type AdminController struct {
	rt  *runtime.Runtime
	svc *deliverysvc.Service
}

// NewAdminController creates a new admin controller.
func NewAdminController(rt *runtime.Runtime, svc *deliverysvc.Service) *AdminController {
	return &AdminController{rt: rt, svc: svc}
}

// RegisterRoutes registers admin routes with the given mux.
func (c *AdminController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/admin/recover", c.handleRecover)
	mux.HandleFunc("/v1/admin/configure", c.handleConfigure)
	mux.HandleFunc("/v1/metrics/snapshot", c.handleSnapshot)
}

func (c *AdminController) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req deliverysvc.RecoverRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := c.svc.Recover(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *AdminController) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req deliverysvc.ConfigureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := c.svc.Configure(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, resp)
}

// handleSnapshot serves the latest aggregator snapshot when available and
// falls back to computing one on demand.
func (c *AdminController) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if snap := c.rt.Aggregator().Last(); snap != nil && r.URL.Query().Get("live") != "1" {
		writeJSON(w, snap)
		return
	}
	snap, err := c.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, snap)
}
