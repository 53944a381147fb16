package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StudentClass links a student to a class, section and academic year.
type StudentClass struct {
	ID                   primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	ClientOrganizationID string               `bson:"client_organization_id" json:"clientOrganizationId"`
	StudentID            primitive.ObjectID   `bson:"student_id" json:"studentId"`
	ClassID              primitive.ObjectID   `bson:"class_id" json:"classId"`
	SectionID            primitive.ObjectID   `bson:"section_id" json:"sectionId"`
	AcademicYearID       primitive.ObjectID   `bson:"academic_year_id" json:"academicYearId"`
	RollNumber           string               `bson:"roll_number" json:"rollNumber"`
	SubjectIDs           []primitive.ObjectID `bson:"subject_ids" json:"subjectIds"`
	IsBusTaken           bool                 `bson:"is_bus_taken" json:"isBusTaken"`
	IsActive             bool                 `bson:"is_active" json:"isActive"`
	CreatedDate          time.Time            `bson:"created_date" json:"createdDate"`
	ModifiedDate         time.Time            `bson:"modified_date" json:"modifiedDate"`
}

// StudentBus assigns one student to one transport route.
type StudentBus struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientOrganizationID string             `bson:"client_organization_id" json:"clientOrganizationId"`
	StudentID            primitive.ObjectID `bson:"student_id" json:"studentId"`
	ClassID              primitive.ObjectID `bson:"class_id" json:"classId"`
	SectionID            primitive.ObjectID `bson:"section_id" json:"sectionId"`
	AcademicYearID       primitive.ObjectID `bson:"academic_year_id" json:"academicYearId"`
	BusID                primitive.ObjectID `bson:"bus_id" json:"busId"`
	RouteID              string             `bson:"route_id" json:"routeId"`
	IsActive             bool               `bson:"is_active" json:"isActive"`
	CreatedDate          time.Time          `bson:"created_date" json:"createdDate"`
	ModifiedDate         time.Time          `bson:"modified_date" json:"modifiedDate"`
}

// CreateStudentRequest is the body of POST /api/student-class.
type CreateStudentRequest struct {
	FirstName      string   `json:"firstName" validate:"required"`
	LastName       string   `json:"lastName"`
	Email          string   `json:"email" validate:"required,email"`
	Phone          string   `json:"phone"`
	Password       string   `json:"password" validate:"omitempty,min=8"`
	ClassID        string   `json:"classId" validate:"required"`
	SectionID      string   `json:"sectionId" validate:"required"`
	AcademicYearID string   `json:"academicYearId" validate:"required"`
	RollNumber     string   `json:"rollNumber"`
	SubjectIDs     []string `json:"subjectIds"`
	IsBusTaken     bool     `json:"isBusTaken"`
	BusID          string   `json:"busId" validate:"required_if=IsBusTaken true"`
	RouteID        string   `json:"routeId" validate:"required_if=IsBusTaken true"`
	// ClientOrganizationID is only honoured for SUPER callers.
	ClientOrganizationID string `json:"clientOrganizationId"`
}

// UpdateStudentRequest is the body of PUT /api/student-class. Nil fields are
// left untouched.
type UpdateStudentRequest struct {
	FirstName       *string   `json:"firstName"`
	LastName        *string   `json:"lastName"`
	Email           *string   `json:"email" validate:"omitempty,email"`
	Phone           *string   `json:"phone"`
	ClassID         *string   `json:"classId"`
	SectionID       *string   `json:"sectionId"`
	AcademicYearID  *string   `json:"academicYearId"`
	RollNumber      *string   `json:"rollNumber"`
	SubjectIDs      *[]string `json:"subjectIds"`
	IsBusTaken      *bool     `json:"isBusTaken"`
	BusID           *string   `json:"busId"`
	RouteID         *string   `json:"routeId"`
	ConsentProvided bool      `json:"consentProvided"`
	ChangeToken     string    `json:"changeToken"`
}

// TouchesBus reports whether the update carries any transport fields.
func (r *UpdateStudentRequest) TouchesBus() bool {
	return r.IsBusTaken != nil || r.BusID != nil || r.RouteID != nil
}

// StudentBusRequest is the body of POST/PUT /api/student-bus.
type StudentBusRequest struct {
	StudentID       string `json:"studentId" validate:"required"`
	ClassID         string `json:"classId"`
	SectionID       string `json:"sectionId"`
	AcademicYearID  string `json:"academicYearId"`
	BusID           string `json:"busId" validate:"required"`
	RouteID         string `json:"routeId" validate:"required"`
	ConsentProvided bool   `json:"consentProvided"`
	ChangeToken     string `json:"changeToken"`
}
