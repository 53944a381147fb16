package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FeeStatus is the payment state of one installment.
type FeeStatus string

const (
	FeeNotStarted FeeStatus = "not_started"
	FeePending    FeeStatus = "pending"
	FeeOverdue    FeeStatus = "overdue"
	FeePaid       FeeStatus = "paid"
)

// OutstandingFeeStatuses are the statuses that still expect a payment.
var OutstandingFeeStatuses = []FeeStatus{FeeNotStarted, FeePending, FeeOverdue}

// StudentBusFee is one installment owed for a bus assignment.
type StudentBusFee struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientOrganizationID string             `bson:"client_organization_id" json:"clientOrganizationId"`
	StudentID            primitive.ObjectID `bson:"student_id" json:"studentId"`
	StudentBusID         primitive.ObjectID `bson:"student_bus_id" json:"studentBusId"`
	BusID                primitive.ObjectID `bson:"bus_id" json:"busId"`
	RouteID              string             `bson:"route_id" json:"routeId"`
	AcademicYearID       primitive.ObjectID `bson:"academic_year_id" json:"academicYearId"`
	InstallmentNo        int                `bson:"installment_no" json:"installmentNo"`
	Amount               float64            `bson:"amount" json:"amount"`
	DueDate              time.Time          `bson:"due_date" json:"dueDate"`
	Status               FeeStatus          `bson:"status" json:"status"`
	IsActive             bool               `bson:"is_active" json:"isActive"`
	CreatedDate          time.Time          `bson:"created_date" json:"createdDate"`
	ModifiedDate         time.Time          `bson:"modified_date" json:"modifiedDate"`
}

// FeeInstallment is one entry of a FeesStructure's due-date list.
type FeeInstallment struct {
	DueDate time.Time `bson:"due_date" json:"dueDate"`
	Amount  float64   `bson:"amount" json:"amount"`
}

// FeesStructure is the academic fee plan of a class for one academic year.
type FeesStructure struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientOrganizationID string             `bson:"client_organization_id" json:"clientOrganizationId"`
	ClassID              primitive.ObjectID `bson:"class_id" json:"classId"`
	AcademicYearID       primitive.ObjectID `bson:"academic_year_id" json:"academicYearId"`
	Installments         []FeeInstallment   `bson:"installments" json:"installments"`
	IsActive             bool               `bson:"is_active" json:"isActive"`
	CreatedDate          time.Time          `bson:"created_date" json:"createdDate"`
	ModifiedDate         time.Time          `bson:"modified_date" json:"modifiedDate"`
}

// StudentFee is one academic fee installment owed by a student.
type StudentFee struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientOrganizationID string             `bson:"client_organization_id" json:"clientOrganizationId"`
	StudentID            primitive.ObjectID `bson:"student_id" json:"studentId"`
	StudentClassID       primitive.ObjectID `bson:"student_class_id" json:"studentClassId"`
	FeesStructureID      primitive.ObjectID `bson:"fees_structure_id" json:"feesStructureId"`
	AcademicYearID       primitive.ObjectID `bson:"academic_year_id" json:"academicYearId"`
	InstallmentNo        int                `bson:"installment_no" json:"installmentNo"`
	Amount               float64            `bson:"amount" json:"amount"`
	DueDate              time.Time          `bson:"due_date" json:"dueDate"`
	Status               FeeStatus          `bson:"status" json:"status"`
	IsActive             bool               `bson:"is_active" json:"isActive"`
	CreatedDate          time.Time          `bson:"created_date" json:"createdDate"`
	ModifiedDate         time.Time          `bson:"modified_date" json:"modifiedDate"`
}
