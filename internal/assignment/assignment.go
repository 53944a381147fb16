// Package assignment reconciles a student's bus assignment and bus fee
// schedule with a requested transport selection.
package assignment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/events"
	"github.com/ukydev/school-transport/internal/metrics"
	"github.com/ukydev/school-transport/internal/models"
	"github.com/ukydev/school-transport/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrInvalidSelection  = errors.New("invalid bus selection")
	ErrTransportNotFound = errors.New("transport not found")
	ErrRouteNotFound     = errors.New("route not found")
	ErrStaleConsent      = errors.New("bus assignment changed since consent was requested")
	ErrConsentRequired   = errors.New("consent required to change the bus assignment")
)

// Selection is the transport state requested for one student.
type Selection struct {
	Scope          models.Scope
	StudentID      primitive.ObjectID
	ClassID        primitive.ObjectID
	SectionID      primitive.ObjectID
	AcademicYearID primitive.ObjectID

	BusTaken bool
	BusID    primitive.ObjectID
	RouteID  string

	ConsentProvided bool
	// ChangeToken echoes ChangeDetails.ChangeToken from the consent prompt.
	// When set it must still match the current assignment.
	ChangeToken string
}

func (s Selection) validate() error {
	if s.StudentID.IsZero() {
		return fmt.Errorf("%w: studentId is required", ErrInvalidSelection)
	}
	if s.BusTaken && (s.BusID.IsZero() || s.RouteID == "") {
		return fmt.Errorf("%w: busId and routeId are required when a bus is taken", ErrInvalidSelection)
	}
	return nil
}

// TransportSnapshot describes one transport and route at decision time.
type TransportSnapshot struct {
	BusID         string              `json:"busId"`
	VehicleNumber string              `json:"vehicleNumber,omitempty"`
	Name          string              `json:"name,omitempty"`
	RouteID       string              `json:"routeId"`
	Destination   string              `json:"destination,omitempty"`
	Amount        float64             `json:"amount"`
	Installments  models.Installments `json:"installments,omitempty"`
}

// ChangeDetails is returned when an existing assignment would be replaced.
type ChangeDetails struct {
	Current         TransportSnapshot `json:"current"`
	Requested       TransportSnapshot `json:"requested"`
	OutstandingFees int64             `json:"outstandingFees"`
	ChangeToken     string            `json:"changeToken"`
}

// Result describes what a selection did, or would do.
type Result struct {
	Outcome         string                 `json:"outcome"`
	RequiresConsent bool                   `json:"requiresConsent"`
	ChangeDetails   *ChangeDetails         `json:"changeDetails,omitempty"`
	StudentBus      *models.StudentBus     `json:"studentBus,omitempty"`
	Fees            []models.StudentBusFee `json:"fees,omitempty"`
	DeactivatedBus  int64                  `json:"deactivatedBus"`
	DeactivatedFees int64                  `json:"deactivatedFees"`

	student  primitive.ObjectID
	tenant   string
	previous *models.StudentBus
}

// Service applies bus selections.
type Service struct {
	tx         db.Transactor
	transports db.TransportCollection
	buses      db.StudentBusCollection
	fees       db.BusFeeCollection
	classes    db.StudentClassCollection
	publisher  events.Publisher
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Deps are the collaborators of a Service. Classes, Publisher and Metrics are
// optional. With Classes set, the enrollment's isBusTaken flag follows every
// applied selection.
type Deps struct {
	Tx         db.Transactor
	Transports db.TransportCollection
	Buses      db.StudentBusCollection
	Fees       db.BusFeeCollection
	Classes    db.StudentClassCollection
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
	Location   *time.Location
}

// NewService creates a Service. Fee schedules are computed in d.Location.
func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	pub := d.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		tx:         d.Tx,
		transports: d.Transports,
		buses:      d.Buses,
		fees:       d.Fees,
		classes:    d.Classes,
		publisher:  pub,
		metrics:    d.Metrics,
		now:        func() time.Time { return time.Now().In(loc) },
	}
}

// ChangeToken identifies the move from the current assignment to the
// requested bus and route. It changes whenever the current assignment does.
func ChangeToken(current *models.StudentBus, busID primitive.ObjectID, routeID string) string {
	currentID := ""
	if current != nil {
		currentID = current.ID.Hex()
	}
	sum := sha256.Sum256([]byte(currentID + "|" + busID.Hex() + "|" + routeID))
	return hex.EncodeToString(sum[:16])
}

// decision is the outcome of planning. result is set when nothing is to be
// written.
type decision struct {
	current   *models.StudentBus
	transport *models.Transport
	route     models.RouteDetail
	details   *ChangeDetails
	result    *Result
}

func (s *Service) plan(ctx context.Context, sel Selection) (*decision, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}

	d := &decision{}
	if sel.BusTaken {
		t, err := s.transports.FindTransportByID(ctx, sel.Scope, sel.BusID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransportNotFound, sel.BusID.Hex())
		}
		if err != nil {
			return nil, fmt.Errorf("find transport: %w", err)
		}
		route, ok := t.Route(sel.RouteID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, sel.RouteID)
		}
		d.transport, d.route = t, route
	}

	current, err := s.buses.FindActiveStudentBus(ctx, sel.Scope, sel.StudentID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		current = nil
	case err != nil:
		return nil, fmt.Errorf("find current student bus: %w", err)
	}
	d.current = current

	if current == nil || !sel.BusTaken {
		return d, nil
	}

	if current.BusID == sel.BusID && current.RouteID == sel.RouteID {
		d.result = &Result{Outcome: metrics.OutcomeUnchanged, StudentBus: current}
		return d, nil
	}

	outstanding, err := s.fees.CountOutstandingBusFees(ctx, sel.Scope, sel.StudentID)
	if err != nil {
		return nil, fmt.Errorf("count outstanding bus fees: %w", err)
	}
	d.details = &ChangeDetails{
		Current:         s.snapshotOf(ctx, sel.Scope, current),
		Requested:       snapshot(d.transport, d.route),
		OutstandingFees: outstanding,
		ChangeToken:     ChangeToken(current, sel.BusID, sel.RouteID),
	}

	if !sel.ConsentProvided {
		d.result = &Result{Outcome: metrics.OutcomeConsent, RequiresConsent: true, ChangeDetails: d.details}
		return d, nil
	}
	if sel.ChangeToken != "" && sel.ChangeToken != d.details.ChangeToken {
		return nil, ErrStaleConsent
	}
	return d, nil
}

func snapshot(t *models.Transport, r models.RouteDetail) TransportSnapshot {
	return TransportSnapshot{
		BusID:         t.ID.Hex(),
		VehicleNumber: t.VehicleNumber,
		Name:          t.Name,
		RouteID:       r.ID,
		Destination:   r.Destination,
		Amount:        r.Amount,
		Installments:  t.Installments,
	}
}

// snapshotOf resolves the transport of an existing assignment. A transport
// that has since been removed yields a snapshot with ids only.
func (s *Service) snapshotOf(ctx context.Context, scope models.Scope, sb *models.StudentBus) TransportSnapshot {
	t, err := s.transports.FindTransportByID(ctx, scope, sb.BusID)
	if err != nil {
		return TransportSnapshot{BusID: sb.BusID.Hex(), RouteID: sb.RouteID}
	}
	route, ok := t.Route(sb.RouteID)
	if !ok {
		route = models.RouteDetail{ID: sb.RouteID}
	}
	return snapshot(t, route)
}

// Plan reports what ApplyBusSelection would do without writing anything.
// A Result with RequiresConsent set must be confirmed before applying.
func (s *Service) Plan(ctx context.Context, sel Selection) (*Result, error) {
	d, err := s.plan(ctx, sel)
	if err != nil {
		return nil, err
	}
	if d.result != nil {
		return d.result, nil
	}
	return &Result{ChangeDetails: d.details}, nil
}

// ApplyBusSelection brings the student's StudentBus and StudentBusFee
// records in line with sel inside one transaction, then notifies.
func (s *Service) ApplyBusSelection(ctx context.Context, sel Selection) (*Result, error) {
	var res *Result
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.Apply(ctx, sel)
		return err
	})
	if err != nil {
		s.count(metrics.OutcomeFailed)
		return nil, err
	}
	s.Notify(res)
	return res, nil
}

// Apply performs the selection with ctx's transaction. Callers that own the
// transaction call Notify once it has committed.
func (s *Service) Apply(ctx context.Context, sel Selection) (*Result, error) {
	res, err := s.apply(ctx, sel)
	if err != nil {
		return nil, err
	}
	if err := s.syncBusTaken(ctx, sel, res); err != nil {
		return nil, err
	}
	return res, nil
}

// syncBusTaken sets isBusTaken on the student's active enrollment to whether
// res left an active assignment.
func (s *Service) syncBusTaken(ctx context.Context, sel Selection, res *Result) error {
	if s.classes == nil || res.RequiresConsent {
		return nil
	}
	class, err := s.classes.FindActiveStudentClass(ctx, sel.Scope, sel.StudentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find student class: %w", err)
	}
	taken := res.StudentBus != nil
	if class.IsBusTaken == taken {
		return nil
	}
	class.IsBusTaken = taken
	class.ModifiedDate = s.now()
	if err := s.classes.UpdateStudentClass(ctx, class); err != nil {
		return fmt.Errorf("update student class: %w", err)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, sel Selection) (*Result, error) {
	d, err := s.plan(ctx, sel)
	if err != nil {
		return nil, err
	}
	if d.result != nil {
		return d.result, nil
	}

	now := s.now()
	res := &Result{ChangeDetails: d.details, student: sel.StudentID, tenant: sel.Scope.TenantID, previous: d.current}

	res.DeactivatedBus, err = s.buses.DeactivateStudentBuses(ctx, sel.Scope, sel.StudentID, now)
	if err != nil {
		return nil, fmt.Errorf("deactivate student bus: %w", err)
	}
	res.DeactivatedFees, err = s.fees.DeactivateBusFees(ctx, sel.Scope, sel.StudentID, now)
	if err != nil {
		return nil, fmt.Errorf("deactivate bus fees: %w", err)
	}

	if !sel.BusTaken {
		res.Outcome = metrics.OutcomeRemoved
		if res.DeactivatedBus == 0 && res.DeactivatedFees == 0 {
			res.Outcome = metrics.OutcomeUnchanged
		}
		return res, nil
	}

	sb := &models.StudentBus{
		ID:                   primitive.NewObjectID(),
		ClientOrganizationID: d.transport.ClientOrganizationID,
		StudentID:            sel.StudentID,
		ClassID:              sel.ClassID,
		SectionID:            sel.SectionID,
		AcademicYearID:       sel.AcademicYearID,
		BusID:                sel.BusID,
		RouteID:              sel.RouteID,
		IsActive:             true,
		CreatedDate:          now,
		ModifiedDate:         now,
	}
	if err := s.buses.InsertStudentBus(ctx, sb); err != nil {
		return nil, fmt.Errorf("insert student bus: %w", err)
	}

	fees := schedule.BusFees(*sb, d.route, d.transport.Installments, now)
	if err := s.fees.InsertBusFees(ctx, fees); err != nil {
		return nil, fmt.Errorf("insert bus fee schedule: %w", err)
	}

	res.StudentBus, res.Fees = sb, fees
	res.Outcome = metrics.OutcomeAssigned
	if d.current != nil {
		res.Outcome = metrics.OutcomeChanged
	}
	return res, nil
}

// Notify records metrics and publishes the bus change event of a committed
// result. Publication failures are logged.
func (s *Service) Notify(res *Result) {
	if res == nil {
		return
	}
	s.count(res.Outcome)
	if s.metrics != nil && len(res.Fees) > 0 {
		s.metrics.FeesGenerated.WithLabelValues("bus").Add(float64(len(res.Fees)))
	}

	event, ok := eventFor(res, s.now())
	if !ok {
		return
	}
	if err := s.publisher.PublishBusChange(event); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"student_id": event.StudentID,
			"kind":       event.Kind,
		}).Warn("Failed to publish bus change event")
	}
}

func (s *Service) count(outcome string) {
	if s.metrics != nil && outcome != "" {
		s.metrics.BusSelections.WithLabelValues(outcome).Inc()
	}
}

func eventFor(res *Result, at time.Time) (events.BusChangeEvent, bool) {
	var kind events.Kind
	switch res.Outcome {
	case metrics.OutcomeAssigned:
		kind = events.BusAssigned
	case metrics.OutcomeChanged:
		kind = events.BusChanged
	case metrics.OutcomeRemoved:
		kind = events.BusRemoved
	default:
		return events.BusChangeEvent{}, false
	}

	event := events.BusChangeEvent{
		Kind:            kind,
		TenantID:        res.tenant,
		StudentID:       res.student.Hex(),
		FeesGenerated:   len(res.Fees),
		FeesDeactivated: res.DeactivatedFees,
		OccurredAt:      at,
	}
	if prev := res.previous; prev != nil {
		event.TenantID = prev.ClientOrganizationID
		event.PreviousBusID = prev.BusID.Hex()
		event.PreviousRouteID = prev.RouteID
	}
	if sb := res.StudentBus; sb != nil {
		event.TenantID = sb.ClientOrganizationID
		event.StudentBusID = sb.ID.Hex()
		event.BusID = sb.BusID.Hex()
		event.RouteID = sb.RouteID
	}
	return event, true
}
