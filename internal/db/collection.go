package db

import (
	"context"
	"time"

	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Transactor runs a unit of work atomically.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserCollection defines the interface for user database operations
type UserCollection interface {
	InsertUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, scope models.Scope, id primitive.ObjectID) (*models.User, error)
	// FindUserByEmail looks across all tenants when tenantID is empty.
	FindUserByEmail(ctx context.Context, tenantID, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeactivateUser(ctx context.Context, scope models.Scope, id primitive.ObjectID, at time.Time) error
	UpdateLastLogin(ctx context.Context, id primitive.ObjectID) error
}

// TransportCollection defines the interface for transport data operations.
type TransportCollection interface {
	InsertTransport(ctx context.Context, transport *models.Transport) error
	FindTransports(ctx context.Context, scope models.Scope) ([]models.Transport, error)
	FindTransportByID(ctx context.Context, scope models.Scope, id primitive.ObjectID) (*models.Transport, error)
	UpdateTransport(ctx context.Context, transport *models.Transport) error
	DeactivateTransport(ctx context.Context, scope models.Scope, id primitive.ObjectID, at time.Time) error
}

// StudentClassFilter narrows a StudentClass listing. Zero ids are ignored.
type StudentClassFilter struct {
	ClassID        primitive.ObjectID
	SectionID      primitive.ObjectID
	AcademicYearID primitive.ObjectID
}

// StudentClassCollection defines the interface for enrollment records.
type StudentClassCollection interface {
	InsertStudentClass(ctx context.Context, sc *models.StudentClass) error
	FindActiveStudentClass(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (*models.StudentClass, error)
	FindStudentClasses(ctx context.Context, scope models.Scope, filter StudentClassFilter) ([]models.StudentClass, error)
	UpdateStudentClass(ctx context.Context, sc *models.StudentClass) error
	DeactivateStudentClasses(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error)
}

// StudentBusCollection defines the interface for bus assignments.
type StudentBusCollection interface {
	InsertStudentBus(ctx context.Context, sb *models.StudentBus) error
	FindActiveStudentBus(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (*models.StudentBus, error)
	FindStudentBusByID(ctx context.Context, scope models.Scope, id primitive.ObjectID) (*models.StudentBus, error)
	UpdateStudentBus(ctx context.Context, sb *models.StudentBus) error
	DeactivateStudentBuses(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error)
}

// BusFeeCollection defines the interface for bus fee installments.
type BusFeeCollection interface {
	InsertBusFees(ctx context.Context, fees []models.StudentBusFee) error
	FindActiveBusFees(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) ([]models.StudentBusFee, error)
	CountOutstandingBusFees(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (int64, error)
	DeactivateBusFees(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error)
}

// StudentFeeCollection defines the interface for academic fees.
type StudentFeeCollection interface {
	FindFeesStructure(ctx context.Context, scope models.Scope, classID, academicYearID primitive.ObjectID) (*models.FeesStructure, error)
	InsertStudentFees(ctx context.Context, fees []models.StudentFee) error
	DeactivateStudentFees(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, at time.Time) (int64, error)
}

// AdvanceResult counts the installments moved by one advancement pass.
type AdvanceResult struct {
	Activated int64 // not_started -> pending
	Overdue   int64 // -> overdue
}

// FeeAdvancer moves installment statuses forward as due dates arrive.
type FeeAdvancer interface {
	AdvanceStatuses(ctx context.Context, now time.Time, lead time.Duration) (AdvanceResult, error)
}

var (
	_ Transactor             = (*Store)(nil)
	_ UserCollection         = (*MongoUserCollection)(nil)
	_ TransportCollection    = (*MongoTransportCollection)(nil)
	_ StudentClassCollection = (*MongoStudentClassCollection)(nil)
	_ StudentBusCollection   = (*MongoStudentBusCollection)(nil)
	_ BusFeeCollection       = (*MongoBusFeeCollection)(nil)
	_ StudentFeeCollection   = (*MongoStudentFeeCollection)(nil)
	_ FeeAdvancer            = (*MongoBusFeeCollection)(nil)
	_ FeeAdvancer            = (*MongoStudentFeeCollection)(nil)
)
