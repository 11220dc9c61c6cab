// Package booking holds the organization-owned records: reservations and
// tour bookings. Every read goes through a tenant.Scope.
package booking

import (
	"errors"
	"time"
)

var (
	ErrOrganizationRequired = errors.New("organization_id is required")
	ErrNotFound             = errors.New("record not found")
	ErrInvalidRecord        = errors.New("invalid record")
)

// Reservation is a customer reservation held by an agency. OrganizationID
// is nil only for legacy rows awaiting an ownership backfill.
type Reservation struct {
	ID             string    `json:"id"`
	OrganizationID *string   `json:"organization_id"`
	CreatedBy      *string   `json:"created_by,omitempty"`
	CustomerName   string    `json:"customer_name"`
	Reference      string    `json:"reference"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// TourBooking is a seat booking on a scheduled tour.
type TourBooking struct {
	ID             string    `json:"id"`
	OrganizationID *string   `json:"organization_id"`
	CreatedBy      *string   `json:"created_by,omitempty"`
	TourName       string    `json:"tour_name"`
	Pax            int       `json:"pax"`
	TravelDate     time.Time `json:"travel_date"`
	CreatedAt      time.Time `json:"created_at"`
}
