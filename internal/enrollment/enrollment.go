// Package enrollment creates, updates and removes students together with
// their class enrollment, academic fee schedule and bus assignment.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/assignment"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/metrics"
	"github.com/ukydev/school-transport/internal/models"
	"github.com/ukydev/school-transport/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrEmailTaken     = errors.New("email already in use")
	ErrInvalidInput   = errors.New("invalid input")
	ErrTenantRequired = fmt.Errorf("%w: clientOrganizationId is required", ErrInvalidInput)
)

// ConsentMessage accompanies an update that needs consent to change the bus.
const ConsentMessage = "Changing the bus or route will deactivate the current bus fee schedule. Resend with consentProvided to continue."

// PasswordHasher hashes new student passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

// Student is a student with their current enrollment and transport.
type Student struct {
	User         *models.User           `json:"user"`
	StudentClass *models.StudentClass   `json:"studentClass,omitempty"`
	StudentBus   *models.StudentBus     `json:"studentBus,omitempty"`
	StudentFees  []models.StudentFee    `json:"studentFees,omitempty"`
	BusFees      []models.StudentBusFee `json:"busFees,omitempty"`
}

// UpdateResult is returned by Update. When RequiresConsent is set nothing
// was written.
type UpdateResult struct {
	RequiresConsent bool                      `json:"requiresConsent"`
	ChangeDetails   *assignment.ChangeDetails `json:"changeDetails,omitempty"`
	Message         string                    `json:"message,omitempty"`
	Student         *Student                  `json:"student,omitempty"`
	Bus             *assignment.Result        `json:"bus,omitempty"`
}

// Service implements the student enrollment operations.
type Service struct {
	tx       db.Transactor
	users    db.UserCollection
	classes  db.StudentClassCollection
	fees     db.StudentFeeCollection
	buses    db.StudentBusCollection
	busFees  db.BusFeeCollection
	assigner *assignment.Service
	hasher   PasswordHasher
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Deps are the collaborators of a Service. Metrics is optional.
type Deps struct {
	Tx         db.Transactor
	Users      db.UserCollection
	Classes    db.StudentClassCollection
	Fees       db.StudentFeeCollection
	Buses      db.StudentBusCollection
	BusFees    db.BusFeeCollection
	Assignment *assignment.Service
	Hasher     PasswordHasher
	Metrics    *metrics.Metrics
	Location   *time.Location
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		tx:       d.Tx,
		users:    d.Users,
		classes:  d.Classes,
		fees:     d.Fees,
		buses:    d.Buses,
		busFees:  d.BusFees,
		assigner: d.Assignment,
		hasher:   d.Hasher,
		metrics:  d.Metrics,
		now:      func() time.Time { return time.Now().In(loc) },
	}
}

func parseIDs(hexes []string) ([]primitive.ObjectID, error) {
	ids := make([]primitive.ObjectID, 0, len(hexes))
	for _, h := range hexes {
		id, err := db.ParseID(h)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseOptionalID parses h unless it is empty.
func parseOptionalID(h string) (primitive.ObjectID, error) {
	if h == "" {
		return primitive.NilObjectID, nil
	}
	return db.ParseID(h)
}

// Create enrolls a new student. Every record is written in one transaction.
func (s *Service) Create(ctx context.Context, scope models.Scope, req models.CreateStudentRequest) (*Student, error) {
	tenant := scope.TenantID
	if scope.Global {
		tenant = req.ClientOrganizationID
	}
	if tenant == "" {
		return nil, ErrTenantRequired
	}
	tenantScope := models.Scope{TenantID: tenant}

	ids, err := parseIDs([]string{req.ClassID, req.SectionID, req.AcademicYearID})
	if err != nil {
		return nil, err
	}
	subjects, err := parseIDs(req.SubjectIDs)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := s.users.FindUserByEmail(ctx, tenant, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:                   primitive.NewObjectID(),
		ClientOrganizationID: tenant,
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		Email:                email,
		Phone:                req.Phone,
		Role:                 models.RoleStudent,
	}
	if req.Password != "" {
		if user.PasswordHash, err = s.hasher.HashPassword(req.Password); err != nil {
			return nil, err
		}
	}
	class := &models.StudentClass{
		ID:                   primitive.NewObjectID(),
		ClientOrganizationID: tenant,
		StudentID:            user.ID,
		ClassID:              ids[0],
		SectionID:            ids[1],
		AcademicYearID:       ids[2],
		RollNumber:           req.RollNumber,
		SubjectIDs:           subjects,
		IsBusTaken:           req.IsBusTaken,
		CreatedDate:          now,
		ModifiedDate:         now,
	}

	var sel assignment.Selection
	if req.IsBusTaken {
		busID, err := db.ParseID(req.BusID)
		if err != nil {
			return nil, err
		}
		sel = assignment.Selection{
			Scope:          tenantScope,
			StudentID:      user.ID,
			ClassID:        class.ClassID,
			SectionID:      class.SectionID,
			AcademicYearID: class.AcademicYearID,
			BusTaken:       true,
			BusID:          busID,
			RouteID:        req.RouteID,
		}
		// resolve the transport and route before anything is written
		if _, err := s.assigner.Plan(ctx, sel); err != nil {
			return nil, err
		}
	}

	student := &Student{User: user, StudentClass: class}
	var busResult *assignment.Result
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.InsertUser(ctx, user); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return ErrEmailTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}
		if err := s.classes.InsertStudentClass(ctx, class); err != nil {
			return fmt.Errorf("insert student class: %w", err)
		}

		fees, err := s.academicFees(ctx, tenantScope, class, now)
		if err != nil {
			return err
		}
		student.StudentFees = fees

		if !req.IsBusTaken {
			return nil
		}
		busResult, err = s.assigner.Apply(ctx, sel)
		if err != nil {
			return err
		}
		student.StudentBus, student.BusFees = busResult.StudentBus, busResult.Fees
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.assigner.Notify(busResult)
	s.countAcademicFees(len(student.StudentFees))
	log.WithFields(log.Fields{
		"student_id": user.ID.Hex(),
		"name":       user.FullName(),
		"tenant":     tenant,
		"bus_taken":  req.IsBusTaken,
	}).Info("Student enrolled")
	return student, nil
}

// academicFees generates the class fee schedule when the class has an active
// fee structure for the academic year.
func (s *Service) academicFees(ctx context.Context, scope models.Scope, class *models.StudentClass, now time.Time) ([]models.StudentFee, error) {
	fs, err := s.fees.FindFeesStructure(ctx, scope, class.ClassID, class.AcademicYearID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find fees structure: %w", err)
	}
	fees := schedule.StudentFees(*class, *fs, now)
	if err := s.fees.InsertStudentFees(ctx, fees); err != nil {
		return nil, err
	}
	return fees, nil
}

func (s *Service) countAcademicFees(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.FeesGenerated.WithLabelValues("academic").Add(float64(n))
	}
}

// Update applies a partial update to a student. When the bus fields change an
// existing assignment without consent, the consent prompt is returned and
// nothing is written.
func (s *Service) Update(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, req models.UpdateStudentRequest) (*UpdateResult, error) {
	user, err := s.users.FindUserByID(ctx, scope, studentID)
	if err != nil {
		return nil, err
	}
	class, err := s.classes.FindActiveStudentClass(ctx, scope, studentID)
	if err != nil {
		return nil, err
	}
	tenantScope := models.Scope{TenantID: user.ClientOrganizationID}

	if err := applyUserPatch(user, req); err != nil {
		return nil, err
	}
	classMoved, err := applyClassPatch(class, req)
	if err != nil {
		return nil, err
	}
	if req.Email != nil {
		other, err := s.users.FindUserByEmail(ctx, user.ClientOrganizationID, user.Email)
		switch {
		case err == nil && other.ID != user.ID:
			return nil, ErrEmailTaken
		case err != nil && !errors.Is(err, db.ErrNotFound):
			return nil, fmt.Errorf("check email: %w", err)
		}
	}

	current, err := s.buses.FindActiveStudentBus(ctx, tenantScope, studentID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("find current student bus: %w", err)
	}

	var sel assignment.Selection
	if req.TouchesBus() {
		sel, err = selectionFor(tenantScope, class, current, req)
		if err != nil {
			return nil, err
		}
		plan, err := s.assigner.Plan(ctx, sel)
		if err != nil {
			return nil, err
		}
		if plan.RequiresConsent {
			return &UpdateResult{RequiresConsent: true, ChangeDetails: plan.ChangeDetails, Message: ConsentMessage}, nil
		}
		class.IsBusTaken = sel.BusTaken
	}

	now := s.now()
	class.ModifiedDate = now
	result := &UpdateResult{Student: &Student{User: user, StudentClass: class}}
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.UpdateUser(ctx, user); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return ErrEmailTaken
			}
			return fmt.Errorf("update user: %w", err)
		}
		if err := s.classes.UpdateStudentClass(ctx, class); err != nil {
			return fmt.Errorf("update student class: %w", err)
		}

		if req.TouchesBus() {
			res, err := s.assigner.Apply(ctx, sel)
			if err != nil {
				return err
			}
			if res.RequiresConsent {
				return assignment.ErrConsentRequired
			}
			result.Bus = res
			if res.Outcome == metrics.OutcomeUnchanged && classMoved {
				if err := s.followClass(ctx, res.StudentBus, class, now); err != nil {
					return err
				}
			}
			result.Student.StudentBus = res.StudentBus
			return nil
		}

		if classMoved {
			if err := s.followClass(ctx, current, class, now); err != nil {
				return err
			}
		}
		result.Student.StudentBus = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.assigner.Notify(result.Bus)
	return result, nil
}

// followClass stamps the class, section and year of class on the active
// assignment sb, if any.
func (s *Service) followClass(ctx context.Context, sb *models.StudentBus, class *models.StudentClass, now time.Time) error {
	if sb == nil {
		return nil
	}
	sb.ClassID, sb.SectionID, sb.AcademicYearID = class.ClassID, class.SectionID, class.AcademicYearID
	sb.ModifiedDate = now
	if err := s.buses.UpdateStudentBus(ctx, sb); err != nil {
		return fmt.Errorf("update student bus: %w", err)
	}
	return nil
}

func applyUserPatch(user *models.User, req models.UpdateStudentRequest) error {
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email == "" {
			return fmt.Errorf("%w: email cannot be empty", ErrInvalidInput)
		}
		user.Email = email
	}
	return nil
}

// applyClassPatch updates class and reports whether its class, section or
// academic year changed.
func applyClassPatch(class *models.StudentClass, req models.UpdateStudentRequest) (bool, error) {
	moved := false
	for _, f := range []struct {
		val *string
		dst *primitive.ObjectID
	}{
		{req.ClassID, &class.ClassID},
		{req.SectionID, &class.SectionID},
		{req.AcademicYearID, &class.AcademicYearID},
	} {
		if f.val == nil {
			continue
		}
		id, err := db.ParseID(*f.val)
		if err != nil {
			return false, err
		}
		if id != *f.dst {
			*f.dst = id
			moved = true
		}
	}
	if req.RollNumber != nil {
		class.RollNumber = *req.RollNumber
	}
	if req.SubjectIDs != nil {
		subjects, err := parseIDs(*req.SubjectIDs)
		if err != nil {
			return false, err
		}
		class.SubjectIDs = subjects
	}
	return moved, nil
}

// selectionFor builds the bus selection of an update. Missing bus fields
// default to the current assignment.
func selectionFor(scope models.Scope, class *models.StudentClass, current *models.StudentBus, req models.UpdateStudentRequest) (assignment.Selection, error) {
	sel := assignment.Selection{
		Scope:           scope,
		StudentID:       class.StudentID,
		ClassID:         class.ClassID,
		SectionID:       class.SectionID,
		AcademicYearID:  class.AcademicYearID,
		BusTaken:        class.IsBusTaken,
		ConsentProvided: req.ConsentProvided,
		ChangeToken:     req.ChangeToken,
	}
	if current != nil {
		sel.BusID, sel.RouteID = current.BusID, current.RouteID
	}
	if req.IsBusTaken != nil {
		sel.BusTaken = *req.IsBusTaken
	} else if req.BusID != nil || req.RouteID != nil {
		sel.BusTaken = true
	}
	if req.BusID != nil {
		id, err := parseOptionalID(*req.BusID)
		if err != nil {
			return sel, err
		}
		sel.BusID = id
	}
	if req.RouteID != nil {
		sel.RouteID = *req.RouteID
	}
	if !sel.BusTaken {
		sel.BusID, sel.RouteID = primitive.NilObjectID, ""
	}
	return sel, nil
}

// Get returns a student with their active enrollment, bus assignment and bus
// fees.
func (s *Service) Get(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (*Student, error) {
	user, err := s.users.FindUserByID(ctx, scope, studentID)
	if err != nil {
		return nil, err
	}
	student := &Student{User: user}

	class, err := s.classes.FindActiveStudentClass(ctx, scope, studentID)
	switch {
	case err == nil:
		student.StudentClass = class
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}

	bus, err := s.buses.FindActiveStudentBus(ctx, scope, studentID)
	switch {
	case err == nil:
		student.StudentBus = bus
		if student.BusFees, err = s.busFees.FindActiveBusFees(ctx, scope, studentID); err != nil {
			return nil, err
		}
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}
	return student, nil
}

// List returns the active enrollments matching filter.
func (s *Service) List(ctx context.Context, scope models.Scope, filter db.StudentClassFilter) ([]models.StudentClass, error) {
	return s.classes.FindStudentClasses(ctx, scope, filter)
}

// Delete soft-deletes a student and everything hanging off them.
func (s *Service) Delete(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) error {
	user, err := s.users.FindUserByID(ctx, scope, studentID)
	if err != nil {
		return err
	}
	tenantScope := models.Scope{TenantID: user.ClientOrganizationID}
	now := s.now()

	var busResult *assignment.Result
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.DeactivateUser(ctx, tenantScope, studentID, now); err != nil {
			return err
		}
		if _, err := s.classes.DeactivateStudentClasses(ctx, tenantScope, studentID, now); err != nil {
			return fmt.Errorf("deactivate student classes: %w", err)
		}
		if _, err := s.fees.DeactivateStudentFees(ctx, tenantScope, studentID, now); err != nil {
			return fmt.Errorf("deactivate student fees: %w", err)
		}
		busResult, err = s.assigner.Apply(ctx, assignment.Selection{Scope: tenantScope, StudentID: studentID})
		return err
	})
	if err != nil {
		return err
	}

	s.assigner.Notify(busResult)
	log.WithField("student_id", studentID.Hex()).Info("Student removed")
	return nil
}
