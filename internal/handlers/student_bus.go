package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ukydev/school-transport/internal/assignment"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/enrollment"
	"github.com/ukydev/school-transport/internal/metrics"
	"github.com/ukydev/school-transport/internal/models"
	"github.com/ukydev/school-transport/internal/policy"
	"github.com/ukydev/school-transport/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BusSelector reconciles a student's bus assignment and bus fees.
type BusSelector interface {
	ApplyBusSelection(ctx context.Context, sel assignment.Selection) (*assignment.Result, error)
}

// StudentBusHandler handles /api/student-bus
type StudentBusHandler struct {
	selector   BusSelector
	users      db.UserCollection
	buses      db.StudentBusCollection
	fees       db.BusFeeCollection
	transports db.TransportCollection
	lead       time.Duration
	now        func() time.Time
}

// StudentBusDeps are the collaborators of a StudentBusHandler.
type StudentBusDeps struct {
	Selector   BusSelector
	Users      db.UserCollection
	Buses      db.StudentBusCollection
	Fees       db.BusFeeCollection
	Transports db.TransportCollection
	// ActivationLead is how long before its due date an installment shows as pending.
	ActivationLead time.Duration
}

// NewStudentBusHandler creates a new student bus handler
func NewStudentBusHandler(d StudentBusDeps) *StudentBusHandler {
	return &StudentBusHandler{
		selector:   d.Selector,
		users:      d.Users,
		buses:      d.Buses,
		fees:       d.Fees,
		transports: d.Transports,
		lead:       d.ActivationLead,
		now:        time.Now,
	}
}

// StudentBusView is the response of GET /api/student-bus.
type StudentBusView struct {
	StudentBus *models.StudentBus     `json:"studentBus"`
	Transport  *models.Transport      `json:"transport,omitempty"`
	Route      *models.RouteDetail    `json:"route,omitempty"`
	Fees       []models.StudentBusFee `json:"fees"`
}

// selectionResponse adds the consent prompt to a pending selection.
type selectionResponse struct {
	*assignment.Result
	Message string `json:"message,omitempty"`
}

func respondSelection(w http.ResponseWriter, res *assignment.Result) {
	out := selectionResponse{Result: res}
	status := http.StatusOK
	switch {
	case res.RequiresConsent:
		out.Message = enrollment.ConsentMessage
	case res.Outcome == metrics.OutcomeAssigned:
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// GetStudentBus returns the student's active assignment with its transport,
// route and fee schedule. Fee statuses are reported as of now.
func (h *StudentBusHandler) GetStudentBus(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("studentId")
	claims, err := authorize(r, policy.ViewStudentBus, policy.Resource{OwnerID: studentID})
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := queryID(r, "studentId")
	if err != nil {
		respondError(w, r, err)
		return
	}
	scope := claims.Scope()

	sb, err := h.buses.FindActiveStudentBus(r.Context(), scope, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	view := StudentBusView{StudentBus: sb}

	transport, err := h.transports.FindTransportByID(r.Context(), scope, sb.BusID)
	switch {
	case err == nil:
		view.Transport = transport
		if route, ok := transport.Route(sb.RouteID); ok {
			view.Route = &route
		}
	case !errors.Is(err, db.ErrNotFound):
		respondError(w, r, err)
		return
	}

	fees, err := h.fees.FindActiveBusFees(r.Context(), scope, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	now := h.now()
	for i := range fees {
		fees[i].Status = schedule.Advance(fees[i].Status, fees[i].DueDate, now, h.lead)
	}
	view.Fees = fees

	writeJSON(w, http.StatusOK, view)
}

// CreateStudentBus assigns a bus and generates its fee schedule.
func (h *StudentBusHandler) CreateStudentBus(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ManageStudentBus, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req models.StudentBusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	sel, err := h.selection(r.Context(), claims.Scope(), req, nil)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := h.selector.ApplyBusSelection(r.Context(), sel)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondSelection(w, res)
}

// UpdateStudentBus moves an assignment to another class, section or year in
// place. A different bus or route goes through the reconciliation instead.
func (h *StudentBusHandler) UpdateStudentBus(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ManageStudentBus, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := queryID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req models.StudentBusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	scope := claims.Scope()
	sb, err := h.buses.FindStudentBusByID(r.Context(), scope, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sel, err := h.selection(r.Context(), scope, req, sb)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if sel.StudentID != sb.StudentID {
		respondError(w, r, fmt.Errorf("%w: studentId does not match the assignment", errBadRequest))
		return
	}

	if sel.BusID != sb.BusID || sel.RouteID != sb.RouteID {
		res, err := h.selector.ApplyBusSelection(r.Context(), sel)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondSelection(w, res)
		return
	}

	sb.ClassID = sel.ClassID
	sb.SectionID = sel.SectionID
	sb.AcademicYearID = sel.AcademicYearID
	sb.ModifiedDate = h.now()
	if err := h.buses.UpdateStudentBus(r.Context(), sb); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sb)
}

// DeleteStudentBus removes an assignment and deactivates its fees.
func (h *StudentBusHandler) DeleteStudentBus(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ManageStudentBus, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := queryID(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	sb, err := h.buses.FindStudentBusByID(r.Context(), claims.Scope(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := h.selector.ApplyBusSelection(r.Context(), assignment.Selection{
		Scope:          models.Scope{TenantID: sb.ClientOrganizationID},
		StudentID:      sb.StudentID,
		ClassID:        sb.ClassID,
		SectionID:      sb.SectionID,
		AcademicYearID: sb.AcademicYearID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// selection builds the selection for req. Class fields left empty fall back
// to current. The student must exist in scope and the selection is bound to
// the student's tenant.
func (h *StudentBusHandler) selection(ctx context.Context, scope models.Scope, req models.StudentBusRequest, current *models.StudentBus) (assignment.Selection, error) {
	studentID, err := db.ParseID(req.StudentID)
	if err != nil {
		return assignment.Selection{}, err
	}
	busID, err := db.ParseID(req.BusID)
	if err != nil {
		return assignment.Selection{}, err
	}

	sel := assignment.Selection{
		Scope:           scope,
		StudentID:       studentID,
		BusTaken:        true,
		BusID:           busID,
		RouteID:         req.RouteID,
		ConsentProvided: req.ConsentProvided,
		ChangeToken:     req.ChangeToken,
	}
	if current != nil {
		sel.ClassID = current.ClassID
		sel.SectionID = current.SectionID
		sel.AcademicYearID = current.AcademicYearID
	}
	for _, f := range []struct {
		hex string
		dst *primitive.ObjectID
	}{
		{req.ClassID, &sel.ClassID},
		{req.SectionID, &sel.SectionID},
		{req.AcademicYearID, &sel.AcademicYearID},
	} {
		if f.hex == "" {
			continue
		}
		if *f.dst, err = db.ParseID(f.hex); err != nil {
			return assignment.Selection{}, err
		}
	}

	student, err := h.users.FindUserByID(ctx, scope, studentID)
	if err != nil {
		return assignment.Selection{}, fmt.Errorf("student: %w", err)
	}
	if student.Role != models.RoleStudent {
		return assignment.Selection{}, fmt.Errorf("%w: user is not a student", errBadRequest)
	}
	sel.Scope = models.Scope{TenantID: student.ClientOrganizationID}
	return sel, nil
}
