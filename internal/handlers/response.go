package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/assignment"
	"github.com/ukydev/school-transport/internal/auth"
	"github.com/ukydev/school-transport/internal/db"
	"github.com/ukydev/school-transport/internal/enrollment"
	"github.com/ukydev/school-transport/internal/middleware"
	"github.com/ukydev/school-transport/internal/models"
	"github.com/ukydev/school-transport/internal/policy"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	errBadRequest = errors.New("bad request")
	errForbidden  = errors.New("forbidden")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, db.ErrInvalidID),
		errors.Is(err, enrollment.ErrInvalidInput),
		errors.Is(err, assignment.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrUserInactive):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, db.ErrNotFound),
		errors.Is(err, assignment.ErrTransportNotFound),
		errors.Is(err, assignment.ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrDuplicate),
		errors.Is(err, enrollment.ErrEmailTaken),
		errors.Is(err, assignment.ErrStaleConsent),
		errors.Is(err, assignment.ErrConsentRequired):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error. Server errors are logged and
// replaced by a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		writeError(w, status, "Internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads the request body into dst and validates it.
func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read request body", errBadRequest)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: invalid JSON", errBadRequest)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", errBadRequest, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// queryID parses the named query parameter as an ObjectID.
func queryID(r *http.Request, name string) (primitive.ObjectID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return primitive.NilObjectID, fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	return db.ParseID(v)
}

func claimsOf(r *http.Request) (*models.Claims, bool) {
	return middleware.GetUserFromContext(r.Context())
}

// authorize checks the caller against the policy and returns its claims.
func authorize(r *http.Request, action policy.Action, res policy.Resource) (*models.Claims, error) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return nil, fmt.Errorf("%w: missing credentials", errForbidden)
	}
	if !policy.Allowed(claims, action, res) {
		return nil, fmt.Errorf("%w: insufficient permissions", errForbidden)
	}
	return claims, nil
}
