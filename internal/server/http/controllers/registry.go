package controllers

import (
	"net/http"

	"github.com/theinterneti/courier/internal/runtime"
	deliverysvc "github.com/theinterneti/courier/internal/services/delivery"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general  *GeneralController
	delivery *DeliveryController
	admin    *AdminController
}

// NewControllerRegistry initializes all controllers with the provided
// runtime and service.
func NewControllerRegistry(rt *runtime.Runtime, svc *deliverysvc.Service) *ControllerRegistry {
	return &ControllerRegistry{
		general:  NewGeneralController(rt),
		delivery: NewDeliveryController(svc),
		admin:    NewAdminController(rt, svc),
	}
}

// RegisterAllRoutes registers every endpoint with the given mux: general
// (health, recipients), message operations, and the admin surface.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.delivery.RegisterRoutes(mux)
	r.admin.RegisterRoutes(mux)
}
