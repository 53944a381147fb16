package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/school-transport/internal/assignment"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/enrollment"
	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MockEnrollmentService is a mock implementation of EnrollmentService
type MockEnrollmentService struct {
	mock.Mock
}

func (m *MockEnrollmentService) Create(ctx context.Context, scope models.Scope, req models.CreateStudentRequest) (*enrollment.Student, error) {
	args := m.Called(ctx, scope, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*enrollment.Student), args.Error(1)
}

func (m *MockEnrollmentService) Update(ctx context.Context, scope models.Scope, studentID primitive.ObjectID, req models.UpdateStudentRequest) (*enrollment.UpdateResult, error) {
	args := m.Called(ctx, scope, studentID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*enrollment.UpdateResult), args.Error(1)
}

func (m *MockEnrollmentService) Get(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) (*enrollment.Student, error) {
	args := m.Called(ctx, scope, studentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*enrollment.Student), args.Error(1)
}

func (m *MockEnrollmentService) List(ctx context.Context, scope models.Scope, filter db.StudentClassFilter) ([]models.StudentClass, error) {
	args := m.Called(ctx, scope, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StudentClass), args.Error(1)
}

func (m *MockEnrollmentService) Delete(ctx context.Context, scope models.Scope, studentID primitive.ObjectID) error {
	args := m.Called(ctx, scope, studentID)
	return args.Error(0)
}

var tenantScope = models.Scope{TenantID: "org-1"}

func TestStudentClassHandler_Get(t *testing.T) {
	studentID := primitive.NewObjectID()
	student := &enrollment.Student{User: &models.User{ID: studentID, Email: "kid@example.com"}}

	t.Run("staff reads a student", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)
		svc.On("Get", mock.Anything, tenantScope, studentID).Return(student, nil)

		req := asUser(httptest.NewRequest("GET", "/api/student-class?studentId="+studentID.Hex(), nil), models.RoleStaff, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.GetStudentClass(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "kid@example.com")
		svc.AssertExpectations(t)
	})

	t.Run("student reads itself", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)
		svc.On("Get", mock.Anything, tenantScope, studentID).Return(student, nil)

		req := asUser(httptest.NewRequest("GET", "/api/student-class?studentId="+studentID.Hex(), nil), models.RoleStudent, "org-1", studentID)
		w := httptest.NewRecorder()
		handler.GetStudentClass(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("student cannot read another student", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)

		req := asUser(httptest.NewRequest("GET", "/api/student-class?studentId="+studentID.Hex(), nil), models.RoleStudent, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.GetStudentClass(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("student cannot list", func(t *testing.T) {
		handler := NewStudentClassHandler(new(MockEnrollmentService))
		req := asUser(httptest.NewRequest("GET", "/api/student-class", nil), models.RoleStudent, "org-1", studentID)
		w := httptest.NewRecorder()
		handler.GetStudentClass(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("list by class", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)
		classID := primitive.NewObjectID()
		svc.On("List", mock.Anything, tenantScope, db.StudentClassFilter{ClassID: classID}).
			Return([]models.StudentClass{{StudentID: studentID, ClassID: classID}}, nil)

		req := asUser(httptest.NewRequest("GET", "/api/student-class?classId="+classID.Hex(), nil), models.RoleAdmin, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.GetStudentClass(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var got []models.StudentClass
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Len(t, got, 1)
		svc.AssertExpectations(t)
	})

	t.Run("bad filter id", func(t *testing.T) {
		handler := NewStudentClassHandler(new(MockEnrollmentService))
		req := asUser(httptest.NewRequest("GET", "/api/student-class?sectionId=x", nil), models.RoleAdmin, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.GetStudentClass(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStudentClassHandler_Create(t *testing.T) {
	body := `{"firstName":"Asha","email":"asha@example.com","classId":"` + primitive.NewObjectID().Hex() +
		`","sectionId":"` + primitive.NewObjectID().Hex() + `","academicYearId":"` + primitive.NewObjectID().Hex() + `"}`

	t.Run("created", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)
		svc.On("Create", mock.Anything, tenantScope, mock.MatchedBy(func(req models.CreateStudentRequest) bool {
			return req.Email == "asha@example.com"
		})).Return(&enrollment.Student{User: &models.User{Email: "asha@example.com"}}, nil)

		req := asUser(httptest.NewRequest("POST", "/api/student-class", strings.NewReader(body)), models.RoleAdmin, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.CreateStudentClass(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("email taken", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)
		svc.On("Create", mock.Anything, tenantScope, mock.Anything).Return(nil, enrollment.ErrEmailTaken)

		req := asUser(httptest.NewRequest("POST", "/api/student-class", strings.NewReader(body)), models.RoleAdmin, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.CreateStudentClass(w, req)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("bus taken without bus", func(t *testing.T) {
		handler := NewStudentClassHandler(new(MockEnrollmentService))
		bad := strings.Replace(body, `"firstName"`, `"isBusTaken":true,"firstName"`, 1)

		req := asUser(httptest.NewRequest("POST", "/api/student-class", strings.NewReader(bad)), models.RoleAdmin, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.CreateStudentClass(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "busId failed required_if")
	})

	t.Run("student is forbidden", func(t *testing.T) {
		handler := NewStudentClassHandler(new(MockEnrollmentService))
		req := asUser(httptest.NewRequest("POST", "/api/student-class", strings.NewReader(body)), models.RoleStudent, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.CreateStudentClass(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestStudentClassHandler_Update(t *testing.T) {
	studentID := primitive.NewObjectID()

	t.Run("consent required", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)
		svc.On("Update", mock.Anything, tenantScope, studentID, mock.Anything).Return(&enrollment.UpdateResult{
			RequiresConsent: true,
			ChangeDetails:   &assignment.ChangeDetails{OutstandingFees: 3, ChangeToken: "abc"},
			Message:         enrollment.ConsentMessage,
		}, nil)

		req := asUser(httptest.NewRequest("PUT", "/api/student-class?studentId="+studentID.Hex(), strings.NewReader(`{"busId":"`+primitive.NewObjectID().Hex()+`"}`)),
			models.RoleStaff, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.UpdateStudentClass(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, true, got["requiresConsent"])
		assert.Equal(t, enrollment.ConsentMessage, got["message"])
		assert.Equal(t, "abc", got["changeDetails"].(map[string]interface{})["changeToken"])
	})

	t.Run("stale consent", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)
		svc.On("Update", mock.Anything, tenantScope, studentID, mock.Anything).Return(nil, assignment.ErrStaleConsent)

		req := asUser(httptest.NewRequest("PUT", "/api/student-class?id="+studentID.Hex(), strings.NewReader(`{"consentProvided":true,"changeToken":"old"}`)),
			models.RoleStaff, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.UpdateStudentClass(w, req)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown transport", func(t *testing.T) {
		svc := new(MockEnrollmentService)
		handler := NewStudentClassHandler(svc)
		svc.On("Update", mock.Anything, tenantScope, studentID, mock.Anything).Return(nil, assignment.ErrTransportNotFound)

		req := asUser(httptest.NewRequest("PUT", "/api/student-class?id="+studentID.Hex(), strings.NewReader(`{}`)),
			models.RoleStaff, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.UpdateStudentClass(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		handler := NewStudentClassHandler(new(MockEnrollmentService))
		req := asUser(httptest.NewRequest("PUT", "/api/student-class", strings.NewReader(`{}`)), models.RoleStaff, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		handler.UpdateStudentClass(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStudentClassHandler_Delete(t *testing.T) {
	studentID := primitive.NewObjectID()
	svc := new(MockEnrollmentService)
	handler := NewStudentClassHandler(svc)
	svc.On("Delete", mock.Anything, models.Scope{TenantID: "", Global: true}, studentID).Return(nil)

	req := asUser(httptest.NewRequest("DELETE", "/api/student-class?id="+studentID.Hex(), nil), models.RoleSuper, "", primitive.NewObjectID())
	w := httptest.NewRecorder()
	handler.DeleteStudentClass(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}
