// Package dbtest provides an in-memory implementation of the db collection
// interfaces for service and handler tests.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/models"
	"github.com/ukydev/school-transport/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type txKey struct{}

// Store keeps every collection in maps keyed by _id. Transactions snapshot
// the maps and restore them when fn fails.
type Store struct {
	mu sync.Mutex

	Users          map[primitive.ObjectID]models.User
	Transports     map[primitive.ObjectID]models.Transport
	StudentClasses map[primitive.ObjectID]models.StudentClass
	StudentBuses   map[primitive.ObjectID]models.StudentBus
	BusFees        map[primitive.ObjectID]models.StudentBusFee
	StudentFees    map[primitive.ObjectID]models.StudentFee
	Structures     map[primitive.ObjectID]models.FeesStructure

	// Writes counts calls that changed at least one document.
	Writes int
	// Commits counts successful outermost transactions.
	Commits int

	// FailInsertBusFees, when set, is returned by InsertBusFees.
	FailInsertBusFees error
	// FailInsertStudentFees, when set, is returned by InsertStudentFees.
	FailInsertStudentFees error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		Users:          map[primitive.ObjectID]models.User{},
		Transports:     map[primitive.ObjectID]models.Transport{},
		StudentClasses: map[primitive.ObjectID]models.StudentClass{},
		StudentBuses:   map[primitive.ObjectID]models.StudentBus{},
		BusFees:        map[primitive.ObjectID]models.StudentBusFee{},
		StudentFees:    map[primitive.ObjectID]models.StudentFee{},
		Structures:     map[primitive.ObjectID]models.FeesStructure{},
	}
}

type snapshot struct {
	users      map[primitive.ObjectID]models.User
	transports map[primitive.ObjectID]models.Transport
	classes    map[primitive.ObjectID]models.StudentClass
	buses      map[primitive.ObjectID]models.StudentBus
	busFees    map[primitive.ObjectID]models.StudentBusFee
	fees       map[primitive.ObjectID]models.StudentFee
	structures map[primitive.ObjectID]models.FeesStructure
	writes     int
}

func clone[T any](m map[primitive.ObjectID]T) map[primitive.ObjectID]T {
	out := make(map[primitive.ObjectID]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		users:      clone(s.Users),
		transports: clone(s.Transports),
		classes:    clone(s.StudentClasses),
		buses:      clone(s.StudentBuses),
		busFees:    clone(s.BusFees),
		fees:       clone(s.StudentFees),
		structures: clone(s.Structures),
		writes:     s.Writes,
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users = snap.users
	s.Transports = snap.transports
	s.StudentClasses = snap.classes
	s.StudentBuses = snap.buses
	s.BusFees = snap.busFees
	s.StudentFees = snap.fees
	s.Structures = snap.structures
	s.Writes = snap.writes
}

// WithTransaction runs fn and rolls every map back when it returns an error.
// Nested calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	s.mu.Lock()
	s.Commits++
	s.mu.Unlock()
	return nil
}

func inScope(scope models.Scope, tenant string) bool {
	return scope.Global || scope.TenantID == tenant
}

// ActiveBusFees returns every active bus fee of a student, any tenant.
func (s *Store) ActiveBusFees(studentID primitive.ObjectID) []models.StudentBusFee {
	fees, _ := s.FindActiveBusFees(context.Background(), models.Scope{Global: true}, studentID)
	return fees
}

// ActiveStudentBuses returns every active assignment of a student.
func (s *Store) ActiveStudentBuses(studentID primitive.ObjectID) []models.StudentBus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StudentBus
	for _, sb := range s.StudentBuses {
		if sb.StudentID == studentID && sb.IsActive {
			out = append(out, sb)
		}
	}
	return out
}

// Users

func (s *Store) InsertUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emailTaken(user) {
		return db.ErrDuplicate
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	now := time.Now()
	user.CreatedDate, user.ModifiedDate, user.IsActive = now, now, true
	s.Users[user.ID] = *user
	s.Writes++
	return nil
}

// emailTaken reports whether another active user of the tenant has user's
// email. Callers hold s.mu.
func (s *Store) emailTaken(user *models.User) bool {
	for _, u := range s.Users {
		if u.ID != user.ID && u.IsActive && u.Email == user.Email && u.ClientOrganizationID == user.ClientOrganizationID {
			return true
		}
	}
	return false
}

func (s *Store) FindUserByID(_ context.Context, scope models.Scope, id primitive.ObjectID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok || !u.IsActive || !inScope(scope, u.ClientOrganizationID) {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, tenantID, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if u.Email == email && u.IsActive && (tenantID == "" || u.ClientOrganizationID == tenantID) {
			return &u, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *Store) UpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Users[user.ID]; !ok {
		return db.ErrNotFound
	}
	if user.IsActive && s.emailTaken(user) {
		return db.ErrDuplicate
	}
	user.ModifiedDate = time.Now()
	s.Users[user.ID] = *user
	s.Writes++
	return nil
}

func (s *Store) DeactivateUser(_ context.Context, scope models.Scope, id primitive.ObjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok || !u.IsActive || !inScope(scope, u.ClientOrganizationID) {
		return db.ErrNotFound
	}
	u.IsActive, u.ModifiedDate = false, at
	s.Users[id] = u
	s.Writes++
	return nil
}

func (s *Store) UpdateLastLogin(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return db.ErrNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	s.Users[id] = u
	s.Writes++
	return nil
}

// Transports

func (s *Store) InsertTransport(_ context.Context, t *models.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	now := time.Now()
	t.CreatedDate, t.ModifiedDate, t.IsActive = now, now, true
	s.Transports[t.ID] = *t
	s.Writes++
	return nil
}

func (s *Store) FindTransports(_ context.Context, scope models.Scope) ([]models.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Transport{}
	for _, t := range s.Transports {
		if t.IsActive && inScope(scope, t.ClientOrganizationID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleNumber < out[j].VehicleNumber })
	return out, nil
}

func (s *Store) FindTransportByID(_ context.Context, scope models.Scope, id primitive.ObjectID) (*models.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Transports[id]
	if !ok || !t.IsActive || !inScope(scope, t.ClientOrganizationID) {
		return nil, db.ErrNotFound
	}
	return &t, nil
}

func (s *Store) UpdateTransport(_ context.Context, t *models.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.Transports[t.ID]
	if !ok || !cur.IsActive {
		return db.ErrNotFound
	}
	t.ModifiedDate = time.Now()
	s.Transports[t.ID] = *t
	s.Writes++
	return nil
}

func (s *Store) DeactivateTransport(_ context.Context, scope models.Scope, id primitive.ObjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Transports[id]
	if !ok || !t.IsActive || !inScope(scope, t.ClientOrganizationID) {
		return db.ErrNotFound
	}
	t.IsActive, t.ModifiedDate = false, at
	s.Transports[id] = t
	s.Writes++
	return nil
}

// Student classes

func (s *Store) InsertStudentClass(_ context.Context, sc *models.StudentClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	sc.IsActive = true
	s.StudentClasses[sc.ID] = *sc
	s.Writes++
	return nil
}

func (s *Store) FindActiveStudentClass(_ context.Context, scope models.Scope, studentID primitive.ObjectID) (*models.StudentClass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.StudentClasses {
		if sc.StudentID == studentID && sc.IsActive && inScope(scope, sc.ClientOrganizationID) {
			return &sc, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *Store) FindStudentClasses(_ context.Context, scope models.Scope, f db.StudentClassFilter) ([]models.StudentClass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.StudentClass{}
	for _, sc := range s.StudentClasses {
		if !sc.IsActive || !inScope(scope, sc.ClientOrganizationID) {
			continue
		}
		if (!f.ClassID.IsZero() && sc.ClassID != f.ClassID) ||
			(!f.SectionID.IsZero() && sc.SectionID != f.SectionID) ||
			(!f.AcademicYearID.IsZero() && sc.AcademicYearID != f.AcademicYearID) {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RollNumber < out[j].RollNumber })
	return out, nil
}

func (s *Store) UpdateStudentClass(_ context.Context, sc *models.StudentClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.StudentClasses[sc.ID]; !ok {
		return db.ErrNotFound
	}
	s.StudentClasses[sc.ID] = *sc
	s.Writes++
	return nil
}

func (s *Store) DeactivateStudentClasses(_ context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sc := range s.StudentClasses {
		if sc.StudentID == studentID && sc.IsActive && inScope(scope, sc.ClientOrganizationID) {
			sc.IsActive, sc.ModifiedDate = false, at
			s.StudentClasses[id] = sc
			n++
		}
	}
	if n > 0 {
		s.Writes++
	}
	return n, nil
}

// Student buses

func (s *Store) InsertStudentBus(_ context.Context, sb *models.StudentBus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.StudentBuses {
		if cur.StudentID == sb.StudentID && cur.IsActive {
			return db.ErrDuplicate
		}
	}
	if sb.ID.IsZero() {
		sb.ID = primitive.NewObjectID()
	}
	sb.IsActive = true
	s.StudentBuses[sb.ID] = *sb
	s.Writes++
	return nil
}

func (s *Store) FindActiveStudentBus(_ context.Context, scope models.Scope, studentID primitive.ObjectID) (*models.StudentBus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sb := range s.StudentBuses {
		if sb.StudentID == studentID && sb.IsActive && inScope(scope, sb.ClientOrganizationID) {
			return &sb, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *Store) FindStudentBusByID(_ context.Context, scope models.Scope, id primitive.ObjectID) (*models.StudentBus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := s.StudentBuses[id]
	if !ok || !sb.IsActive || !inScope(scope, sb.ClientOrganizationID) {
		return nil, db.ErrNotFound
	}
	return &sb, nil
}

func (s *Store) UpdateStudentBus(_ context.Context, sb *models.StudentBus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.StudentBuses[sb.ID]; !ok {
		return db.ErrNotFound
	}
	s.StudentBuses[sb.ID] = *sb
	s.Writes++
	return nil
}

func (s *Store) DeactivateStudentBuses(_ context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sb := range s.StudentBuses {
		if sb.StudentID == studentID && sb.IsActive && inScope(scope, sb.ClientOrganizationID) {
			sb.IsActive, sb.ModifiedDate = false, at
			s.StudentBuses[id] = sb
			n++
		}
	}
	if n > 0 {
		s.Writes++
	}
	return n, nil
}

// Bus fees

func (s *Store) InsertBusFees(_ context.Context, fees []models.StudentBusFee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsertBusFees != nil {
		return s.FailInsertBusFees
	}
	for _, f := range fees {
		if f.ID.IsZero() {
			f.ID = primitive.NewObjectID()
		}
		s.BusFees[f.ID] = f
	}
	if len(fees) > 0 {
		s.Writes++
	}
	return nil
}

func (s *Store) FindActiveBusFees(_ context.Context, scope models.Scope, studentID primitive.ObjectID) ([]models.StudentBusFee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.StudentBusFee{}
	for _, f := range s.BusFees {
		if f.StudentID == studentID && f.IsActive && inScope(scope, f.ClientOrganizationID) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *Store) CountOutstandingBusFees(_ context.Context, scope models.Scope, studentID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, f := range s.BusFees {
		if f.StudentID != studentID || !f.IsActive || !inScope(scope, f.ClientOrganizationID) {
			continue
		}
		for _, st := range models.OutstandingFeeStatuses {
			if f.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *Store) DeactivateBusFees(_ context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, f := range s.BusFees {
		if f.StudentID == studentID && f.IsActive && inScope(scope, f.ClientOrganizationID) {
			f.IsActive, f.ModifiedDate = false, at
			s.BusFees[id] = f
			n++
		}
	}
	if n > 0 {
		s.Writes++
	}
	return n, nil
}

// AdvanceStatuses moves active bus fees forward the way the Mongo
// collection does.
func (s *Store) AdvanceStatuses(_ context.Context, now time.Time, lead time.Duration) (db.AdvanceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res db.AdvanceResult
	for id, f := range s.BusFees {
		if !f.IsActive {
			continue
		}
		next := schedule.Advance(f.Status, f.DueDate, now, lead)
		if next == f.Status {
			continue
		}
		switch next {
		case models.FeeOverdue:
			res.Overdue++
		case models.FeePending:
			res.Activated++
		}
		f.Status, f.ModifiedDate = next, now
		s.BusFees[id] = f
	}
	if res.Overdue+res.Activated > 0 {
		s.Writes++
	}
	return res, nil
}

// Academic fees

func (s *Store) FindFeesStructure(_ context.Context, scope models.Scope, classID, academicYearID primitive.ObjectID) (*models.FeesStructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fs := range s.Structures {
		if fs.ClassID == classID && fs.AcademicYearID == academicYearID && fs.IsActive && inScope(scope, fs.ClientOrganizationID) {
			return &fs, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *Store) InsertStudentFees(_ context.Context, fees []models.StudentFee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsertStudentFees != nil {
		return s.FailInsertStudentFees
	}
	for _, f := range fees {
		if f.ID.IsZero() {
			f.ID = primitive.NewObjectID()
		}
		s.StudentFees[f.ID] = f
	}
	if len(fees) > 0 {
		s.Writes++
	}
	return nil
}

func (s *Store) DeactivateStudentFees(_ context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, f := range s.StudentFees {
		if f.StudentID == studentID && f.IsActive && inScope(scope, f.ClientOrganizationID) {
			f.IsActive, f.ModifiedDate = false, at
			s.StudentFees[id] = f
			n++
		}
	}
	if n > 0 {
		s.Writes++
	}
	return n, nil
}

var (
	_ db.Transactor             = (*Store)(nil)
	_ db.UserCollection         = (*Store)(nil)
	_ db.TransportCollection    = (*Store)(nil)
	_ db.StudentClassCollection = (*Store)(nil)
	_ db.StudentBusCollection   = (*Store)(nil)
	_ db.BusFeeCollection       = (*Store)(nil)
	_ db.StudentFeeCollection   = (*Store)(nil)
	_ db.FeeAdvancer            = (*Store)(nil)
)
