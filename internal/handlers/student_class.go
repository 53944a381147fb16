package handlers

import (
	"context"
	"net/http"

	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/enrollment"
	"github.com/ukydev/school-transport/internal/models"
	"github.com/ukydev/school-transport/internal/policy"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EnrollmentService is the student lifecycle used by StudentClassHandler.
type EnrollmentService interface {
	Create(ctx context.Context, scope models.Scope, req models.CreateStudentRequest) (*enrollment.Student, error)
	Update(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, req models.UpdateStudentRequest) (*enrollment.UpdateResult, error)
	Get(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (*enrollment.Student, error)
	List(ctx context.Context, scope models.Scope, filter db.StudentClassFilter) ([]models.StudentClass, error)
	Delete(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) error
}

// StudentClassHandler handles /api/student-class
type StudentClassHandler struct {
	students EnrollmentService
}

// NewStudentClassHandler creates a new student class handler
func NewStudentClassHandler(students EnrollmentService) *StudentClassHandler {
	return &StudentClassHandler{students: students}
}

// GetStudentClass returns one student when ?studentId is given, otherwise the
// enrollments matching ?classId, ?sectionId and ?academicYearId.
func (h *StudentClassHandler) GetStudentClass(w http.ResponseWriter, r *http.Request) {
	if studentID := r.URL.Query().Get("studentId"); studentID != "" {
		claims, err := authorize(r, policy.ViewStudents, policy.Resource{OwnerID: studentID})
		if err != nil {
			respondError(w, r, err)
			return
		}
		id, err := db.ParseID(studentID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		student, err := h.students.Get(r.Context(), claims.Scope(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, student)
		return
	}

	claims, err := authorize(r, policy.ViewStudents, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	var filter db.StudentClassFilter
	for name, dst := range map[string]*primitive.ObjectID{
		"classId":        &filter.ClassID,
		"sectionId":      &filter.SectionID,
		"academicYearId": &filter.AcademicYearID,
	} {
		if r.URL.Query().Get(name) == "" {
			continue
		}
		if *dst, err = queryID(r, name); err != nil {
			respondError(w, r, err)
			return
		}
	}

	classes, err := h.students.List(r.Context(), claims.Scope(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

// CreateStudentClass enrolls a new student
func (h *StudentClassHandler) CreateStudentClass(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ManageStudents, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req models.CreateStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	student, err := h.students.Create(r.Context(), claims.Scope(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

// UpdateStudentClass applies a partial update. A bus change without consent
// answers 200 with requiresConsent and writes nothing.
func (h *StudentClassHandler) UpdateStudentClass(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ManageStudents, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := studentParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req models.UpdateStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.students.Update(r.Context(), claims.Scope(), id, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteStudentClass soft-deletes a student and everything attached to it
func (h *StudentClassHandler) DeleteStudentClass(w http.ResponseWriter, r *http.Request) {
	claims, err := authorize(r, policy.ManageStudents, policy.Resource{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := studentParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.students.Delete(r.Context(), claims.Scope(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Student deleted"})
}

// studentParam reads the student's user id from ?id or ?studentId.
func studentParam(r *http.Request) (primitive.ObjectID, error) {
	if r.URL.Query().Get("id") != "" {
		return queryID(r, "id")
	}
	return queryID(r, "studentId")
}
