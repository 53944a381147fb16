package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/models"
	"github.com/ukydev/school-transport/internal/policy"
)

// TransportHandler handles transport-related HTTP requests
type TransportHandler struct {
	transports db.TransportCollection
}

// NewTransportHandler creates a new transport handler
func NewTransportHandler(transports db.TransportCollection) *TransportHandler {
	return &TransportHandler{transports: transports}
}

// GetTransports returns one transport when ?id is given, otherwise every
// active transport of the caller's tenant.
func (h *TransportHandler) GetTransports(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ViewTransport, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}

	if r.URL.Query().Get("id") != "" {
		id, err := queryID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		transport, err := h.transports.FindTransportByID(r.Context(), claims.Scope(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, transport)
		return
	}

	transports, err := h.transports.FindTransports(r.Context(), claims.Scope())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transports)
}

// CreateTransport creates a new transport
func (h *TransportHandler) CreateTransport(w http.ResponseWriter, r *http.Request) {
	var req models.TransportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	tenant := req.ClientOrganizationID
	claims, ok := claimsOf(r)
	if ok && claims.Role != models.RoleSuper {
		tenant = claims.ClientOrganizationID
	}
	if tenant == "" {
		respondError(w, r, fmt.Errorf("%w: clientOrganizationId is required", errBadRequest))
		return
	}
	if _, err := authorize(r, policy.ManageTransport, policy.Resource{TenantID: tenant}); err != nil {
		respondError(w, r, err)
		return
	}

	routes, err := routeDetails(req.RouteDetails)
	if err != nil {
		respondError(w, r, err)
		return
	}

	transport := &models.Transport{
		ClientOrganizationID: tenant,
		VehicleNumber:        strings.TrimSpace(req.VehicleNumber),
		Name:                 req.Name,
		Capacity:             req.Capacity,
		Driver:               req.Driver,
		Insurance:            req.Insurance,
		RouteDetails:         routes,
		Installments:         req.Installments,
	}
	if err := h.transports.InsertTransport(r.Context(), transport); err != nil {
		respondError(w, r, err)
		return
	}

	log.WithFields(log.Fields{
		"transport_id": transport.ID.Hex(),
		"tenant":       tenant,
		"routes":       len(routes),
	}).Info("Transport created")
	writeJSON(w, http.StatusCreated, transport)
}

// UpdateTransport replaces the editable fields of a transport. Routes that
// keep their id keep existing assignments valid.
func (h *TransportHandler) UpdateTransport(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ManageTransport, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := queryID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req models.TransportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	transport, err := h.transports.FindTransportByID(r.Context(), claims.Scope(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	routes, err := routeDetails(req.RouteDetails)
	if err != nil {
		respondError(w, r, err)
		return
	}

	transport.VehicleNumber = strings.TrimSpace(req.VehicleNumber)
	transport.Name = req.Name
	transport.Capacity = req.Capacity
	transport.Driver = req.Driver
	transport.Insurance = req.Insurance
	transport.RouteDetails = routes
	transport.Installments = req.Installments

	if err := h.transports.UpdateTransport(r.Context(), transport); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transport)
}

// DeleteTransport soft-deletes a transport
func (h *TransportHandler) DeleteTransport(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ManageTransport, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := queryID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.transports.DeactivateTransport(r.Context(), claims.Scope(), id, time.Now()); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Transport deleted"})
}

// routeDetails assigns ids to new routes and rejects duplicate ids.
func routeDetails(in []models.RouteDetail) ([]models.RouteDetail, error) {
	seen := make(map[string]bool, len(in))
	out := make([]models.RouteDetail, 0, len(in))
	for _, rd := range in {
		rd.ID = strings.TrimSpace(rd.ID)
		if rd.ID == "" {
			rd.ID = uuid.NewString()
		}
		if seen[rd.ID] {
			return nil, fmt.Errorf("%w: duplicate route id %s", errBadRequest, rd.ID)
		}
		seen[rd.ID] = true
		out = append(out, rd)
	}
	return out, nil
}
