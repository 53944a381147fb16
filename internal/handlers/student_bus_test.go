package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/school-transport/internal/assignment"
	"github.com/ukydev/school-transport/internal/db/dbtest"
	"github.com/ukydev/school-transport/internal/enrollment"
	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type busFixture struct {
	handler *StudentBusHandler
	store   *dbtest.Store
	bus     *models.Transport
	student *models.User
	staff   primitive.ObjectID
}

func newBusFixture(t *testing.T) *busFixture {
	t.Helper()
	store := dbtest.New()
	ctx := context.Background()

	bus := &models.Transport{
		ClientOrganizationID: "org-1",
		VehicleNumber:        "KA-01",
		Installments:         models.InstallmentsMonthly,
		RouteDetails: []models.RouteDetail{
			{ID: "r1", Destination: "Hill Road", Amount: 100},
			{ID: "r2", Destination: "Lake View", Amount: 120},
		},
	}
	require.NoError(t, store.InsertTransport(ctx, bus))

	student := &models.User{ClientOrganizationID: "org-1", Email: "kid@example.com", Role: models.RoleStudent}
	require.NoError(t, store.InsertUser(ctx, student))

	selector := assignment.NewService(assignment.Deps{Tx: store, Transports: store, Buses: store, Fees: store, Classes: store})
	handler := NewStudentBusHandler(StudentBusDeps{
		Selector:       selector,
		Users:          store,
		Buses:          store,
		Fees:           store,
		Transports:     store,
		ActivationLead: 7 * 24 * time.Hour,
	})
	return &busFixture{handler: handler, store: store, bus: bus, student: student, staff: primitive.NewObjectID()}
}

func (f *busFixture) request(t *testing.T, body models.StudentBusRequest) models.StudentBusRequest {
	t.Helper()
	if body.StudentID == "" {
		body.StudentID = f.student.ID.Hex()
	}
	if body.BusID == "" {
		body.BusID = f.bus.ID.Hex()
	}
	return body
}

func (f *busFixture) create(t *testing.T, routeID string) *httptest.ResponseRecorder {
	t.Helper()
	body := f.request(t, models.StudentBusRequest{RouteID: routeID})
	req := asUser(httptest.NewRequest("POST", "/api/student-bus", jsonBody(t, body)), models.RoleStaff, "org-1", f.staff)
	w := httptest.NewRecorder()
	f.handler.CreateStudentBus(w, req)
	return w
}

func TestStudentBusHandler_Create(t *testing.T) {
	f := newBusFixture(t)

	w := f.create(t, "r1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"outcome":"assigned"`)
	require.Len(t, f.store.ActiveStudentBuses(f.student.ID), 1)
	fees := f.store.ActiveBusFees(f.student.ID)
	require.NotEmpty(t, fees)
	for _, fee := range fees {
		assert.Equal(t, 100.0, fee.Amount)
	}

	t.Run("route change asks for consent", func(t *testing.T) {
		writes := f.store.Writes
		w := f.create(t, "r2")

		require.Equal(t, http.StatusOK, w.Code)
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, true, got["requiresConsent"])
		assert.Equal(t, enrollment.ConsentMessage, got["message"])
		assert.Equal(t, writes, f.store.Writes)
	})

	t.Run("unknown route", func(t *testing.T) {
		w := f.create(t, "nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("not a student", func(t *testing.T) {
		staff := &models.User{ClientOrganizationID: "org-1", Email: "staff@example.com", Role: models.RoleStaff}
		require.NoError(t, f.store.InsertUser(context.Background(), staff))

		body := f.request(t, models.StudentBusRequest{StudentID: staff.ID.Hex(), RouteID: "r1"})
		req := asUser(httptest.NewRequest("POST", "/api/student-bus", jsonBody(t, body)), models.RoleAdmin, "org-1", f.staff)
		w := httptest.NewRecorder()
		f.handler.CreateStudentBus(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("student of another tenant", func(t *testing.T) {
		body := f.request(t, models.StudentBusRequest{RouteID: "r1"})
		req := asUser(httptest.NewRequest("POST", "/api/student-bus", jsonBody(t, body)), models.RoleAdmin, "org-2", f.staff)
		w := httptest.NewRecorder()
		f.handler.CreateStudentBus(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("student role is forbidden", func(t *testing.T) {
		body := f.request(t, models.StudentBusRequest{RouteID: "r1"})
		req := asUser(httptest.NewRequest("POST", "/api/student-bus", jsonBody(t, body)), models.RoleStudent, "org-1", f.student.ID)
		w := httptest.NewRecorder()
		f.handler.CreateStudentBus(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestStudentBusHandler_Get(t *testing.T) {
	f := newBusFixture(t)
	require.Equal(t, http.StatusCreated, f.create(t, "r1").Code)

	req := asUser(httptest.NewRequest("GET", "/api/student-bus?studentId="+f.student.ID.Hex(), nil), models.RoleStudent, "org-1", f.student.ID)
	w := httptest.NewRecorder()
	f.handler.GetStudentBus(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view StudentBusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.NotNil(t, view.StudentBus)
	assert.Equal(t, "r1", view.StudentBus.RouteID)
	require.NotNil(t, view.Transport)
	assert.Equal(t, "KA-01", view.Transport.VehicleNumber)
	require.NotNil(t, view.Route)
	assert.Equal(t, "Hill Road", view.Route.Destination)
	assert.NotEmpty(t, view.Fees)

	t.Run("overdue fees are reported as overdue", func(t *testing.T) {
		f.handler.now = func() time.Time { return time.Now().AddDate(2, 0, 0) }
		w := httptest.NewRecorder()
		f.handler.GetStudentBus(w, req)

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		for _, fee := range view.Fees {
			assert.Equal(t, models.FeeOverdue, fee.Status)
		}
	})

	t.Run("other student is forbidden", func(t *testing.T) {
		req := asUser(httptest.NewRequest("GET", "/api/student-bus?studentId="+f.student.ID.Hex(), nil), models.RoleStudent, "org-1", primitive.NewObjectID())
		w := httptest.NewRecorder()
		f.handler.GetStudentBus(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("no assignment", func(t *testing.T) {
		req := asUser(httptest.NewRequest("GET", "/api/student-bus?studentId="+primitive.NewObjectID().Hex(), nil), models.RoleAdmin, "org-1", f.staff)
		w := httptest.NewRecorder()
		f.handler.GetStudentBus(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestStudentBusHandler_Update(t *testing.T) {
	f := newBusFixture(t)
	require.Equal(t, http.StatusCreated, f.create(t, "r1").Code)
	sb := f.store.ActiveStudentBuses(f.student.ID)[0]
	fees := f.store.ActiveBusFees(f.student.ID)

	t.Run("class move keeps fees", func(t *testing.T) {
		classID := primitive.NewObjectID()
		body := f.request(t, models.StudentBusRequest{RouteID: "r1", ClassID: classID.Hex()})
		req := asUser(httptest.NewRequest("PUT", "/api/student-bus?id="+sb.ID.Hex(), jsonBody(t, body)), models.RoleStaff, "org-1", f.staff)
		w := httptest.NewRecorder()
		f.handler.UpdateStudentBus(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, classID, f.store.StudentBuses[sb.ID].ClassID)
		assert.ElementsMatch(t, fees, f.store.ActiveBusFees(f.student.ID))
	})

	t.Run("mismatched student", func(t *testing.T) {
		other := &models.User{ClientOrganizationID: "org-1", Email: "other@example.com", Role: models.RoleStudent}
		require.NoError(t, f.store.InsertUser(context.Background(), other))

		body := f.request(t, models.StudentBusRequest{StudentID: other.ID.Hex(), RouteID: "r1"})
		req := asUser(httptest.NewRequest("PUT", "/api/student-bus?id="+sb.ID.Hex(), jsonBody(t, body)), models.RoleStaff, "org-1", f.staff)
		w := httptest.NewRecorder()
		f.handler.UpdateStudentBus(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("route change with consent", func(t *testing.T) {
		body := f.request(t, models.StudentBusRequest{RouteID: "r2", ConsentProvided: true})
		req := asUser(httptest.NewRequest("PUT", "/api/student-bus?id="+sb.ID.Hex(), jsonBody(t, body)), models.RoleStaff, "org-1", f.staff)
		w := httptest.NewRecorder()
		f.handler.UpdateStudentBus(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"outcome":"changed"`)
		active := f.store.ActiveStudentBuses(f.student.ID)
		require.Len(t, active, 1)
		assert.Equal(t, "r2", active[0].RouteID)
		for _, fee := range f.store.ActiveBusFees(f.student.ID) {
			assert.Equal(t, 120.0, fee.Amount)
		}
	})

	t.Run("stale assignment id", func(t *testing.T) {
		body := f.request(t, models.StudentBusRequest{RouteID: "r1"})
		req := asUser(httptest.NewRequest("PUT", "/api/student-bus?id="+sb.ID.Hex(), jsonBody(t, body)), models.RoleStaff, "org-1", f.staff)
		w := httptest.NewRecorder()
		f.handler.UpdateStudentBus(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestStudentBusHandler_Delete(t *testing.T) {
	f := newBusFixture(t)
	require.Equal(t, http.StatusCreated, f.create(t, "r1").Code)
	sb := f.store.ActiveStudentBuses(f.student.ID)[0]

	req := asUser(httptest.NewRequest("DELETE", "/api/student-bus?id="+sb.ID.Hex(), nil), models.RoleAdmin, "org-1", f.staff)
	w := httptest.NewRecorder()
	f.handler.DeleteStudentBus(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"outcome":"removed"`)
	assert.Empty(t, f.store.ActiveStudentBuses(f.student.ID))
	assert.Empty(t, f.store.ActiveBusFees(f.student.ID))

	w = httptest.NewRecorder()
	f.handler.DeleteStudentBus(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStudentBusHandler_KeepsBusTakenInSync(t *testing.T) {
	f := newBusFixture(t)
	class := &models.StudentClass{
		ClientOrganizationID: "org-1",
		StudentID:            f.student.ID,
		ClassID:              primitive.NewObjectID(),
	}
	require.NoError(t, f.store.InsertStudentClass(context.Background(), class))
	busTaken := func() bool {
		sc, err := f.store.FindActiveStudentClass(context.Background(), models.Scope{TenantID: "org-1"}, f.student.ID)
		require.NoError(t, err)
		return sc.IsBusTaken
	}

	require.Equal(t, http.StatusCreated, f.create(t, "r1").Code)
	assert.True(t, busTaken())

	sb := f.store.ActiveStudentBuses(f.student.ID)[0]
	req := asUser(httptest.NewRequest("DELETE", "/api/student-bus?id="+sb.ID.Hex(), nil), models.RoleAdmin, "org-1", f.staff)
	w := httptest.NewRecorder()
	f.handler.DeleteStudentBus(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, busTaken())
}
