package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Installments is the billing frequency of a transport's fees.
type Installments string

const (
	InstallmentsMonthly  Installments = "monthly"
	InstallmentsQuarter  Installments = "3months"
	InstallmentsThird    Installments = "4months"
	InstallmentsHalfYear Installments = "6months"
	InstallmentsYearly   Installments = "yearly"
)

// IsValid reports whether i is one of the known billing frequencies.
func (i Installments) IsValid() bool {
	switch i {
	case InstallmentsMonthly, InstallmentsQuarter, InstallmentsThird, InstallmentsHalfYear, InstallmentsYearly:
		return true
	default:
		return false
	}
}

// DriverDetails is embedded in Transport and has no lifecycle of its own.
type DriverDetails struct {
	Name          string `bson:"name" json:"name"`
	Phone         string `bson:"phone" json:"phone"`
	LicenseNumber string `bson:"license_number" json:"licenseNumber"`
}

// InsuranceDetails is embedded in Transport.
type InsuranceDetails struct {
	Provider     string     `bson:"provider" json:"provider"`
	PolicyNumber string     `bson:"policy_number" json:"policyNumber"`
	ExpiryDate   *time.Time `bson:"expiry_date,omitempty" json:"expiryDate,omitempty"`
}

// RouteDetail is one destination and fare served by a transport.
type RouteDetail struct {
	ID          string  `bson:"id" json:"id"`
	Destination string  `bson:"destination" json:"destination" validate:"required"`
	Amount      float64 `bson:"amount" json:"amount" validate:"gte=0"`
}

// Transport is a school vehicle together with the routes it serves.
type Transport struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientOrganizationID string             `bson:"client_organization_id" json:"clientOrganizationId"`
	VehicleNumber        string             `bson:"vehicle_number" json:"vehicleNumber"`
	Name                 string             `bson:"name" json:"name"`
	Capacity             int                `bson:"capacity" json:"capacity"`
	Driver               DriverDetails      `bson:"driver" json:"driver"`
	Insurance            InsuranceDetails   `bson:"insurance" json:"insurance"`
	RouteDetails         []RouteDetail      `bson:"route_details" json:"routeDetails"`
	Installments         Installments       `bson:"installments" json:"installments"`
	IsActive             bool               `bson:"is_active" json:"isActive"`
	CreatedDate          time.Time          `bson:"created_date" json:"createdDate"`
	ModifiedDate         time.Time          `bson:"modified_date" json:"modifiedDate"`
}

// Route returns the route entry with the given id.
func (t *Transport) Route(id string) (RouteDetail, bool) {
	for _, r := range t.RouteDetails {
		if r.ID == id {
			return r, true
		}
	}
	return RouteDetail{}, false
}

// TransportRequest is the body of POST/PUT /api/transports.
type TransportRequest struct {
	VehicleNumber string           `json:"vehicleNumber" validate:"required"`
	Name          string           `json:"name"`
	Capacity      int              `json:"capacity" validate:"gte=0"`
	Driver        DriverDetails    `json:"driver"`
	Insurance     InsuranceDetails `json:"insurance"`
	RouteDetails  []RouteDetail    `json:"routeDetails" validate:"required,min=1,dive"`
	Installments  Installments     `json:"installments" validate:"required,oneof=monthly 3months 4months 6months yearly"`
	// ClientOrganizationID is only honoured for SUPER callers.
	ClientOrganizationID string `json:"clientOrganizationId"`
}
