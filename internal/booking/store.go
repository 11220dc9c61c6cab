package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tourline/tourline/internal/platform/database"
	"github.com/tourline/tourline/internal/tenant"
)

// Store handles reservation and tour booking persistence.
// Methods accept database.Querier so they can run inside a transaction.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const reservationColumns = `id::text, organization_id::text, created_by::text, customer_name, reference, status, created_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.CreatedBy, &r.CustomerName, &r.Reference, &r.Status, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReservation inserts a reservation owned by orgID.
func (s *Store) CreateReservation(ctx context.Context, q database.Querier, orgID, createdBy, customerName, reference string) (*Reservation, error) {
	if orgID == "" {
		return nil, ErrOrganizationRequired
	}
	if strings.TrimSpace(customerName) == "" || strings.TrimSpace(reference) == "" {
		return nil, fmt.Errorf("%w: customer_name and reference are required", ErrInvalidRecord)
	}

	r, err := scanReservation(q.QueryRow(ctx,
		`INSERT INTO reservations (organization_id, created_by, customer_name, reference)
		 VALUES ($1, NULLIF($2, '')::uuid, $3, $4)
		 RETURNING `+reservationColumns,
		orgID, createdBy, customerName, reference,
	))
	if err != nil {
		return nil, fmt.Errorf("creating reservation: %w", err)
	}
	return r, nil
}

// ListReservations returns the newest reservations inside scope.
func (s *Store) ListReservations(ctx context.Context, q database.Querier, scope tenant.Scope, limit int) ([]Reservation, error) {
	if scope.DeniesAll() {
		return []Reservation{}, nil
	}

	where, args := scope.Clause("organization_id", 1)
	args = append(args, limit)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM reservations WHERE %s ORDER BY created_at DESC LIMIT $%d`,
			reservationColumns, where, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("listing reservations: %w", err)
	}
	defer rows.Close()

	result := []Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// GetReservation returns one reservation if it is inside scope.
func (s *Store) GetReservation(ctx context.Context, q database.Querier, scope tenant.Scope, id string) (*Reservation, error) {
	r, err := scanReservation(q.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting reservation: %w", err)
	}
	if !scope.Allows(deref(r.OrganizationID)) {
		return nil, ErrNotFound
	}
	return r, nil
}

const tourBookingColumns = `id::text, organization_id::text, created_by::text, tour_name, pax, travel_date, created_at`

func scanTourBooking(row pgx.Row) (*TourBooking, error) {
	var b TourBooking
	if err := row.Scan(&b.ID, &b.OrganizationID, &b.CreatedBy, &b.TourName, &b.Pax, &b.TravelDate, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateTourBooking inserts a tour booking owned by orgID.
func (s *Store) CreateTourBooking(ctx context.Context, q database.Querier, orgID, createdBy, tourName string, pax int, travelDate time.Time) (*TourBooking, error) {
	if orgID == "" {
		return nil, ErrOrganizationRequired
	}
	if strings.TrimSpace(tourName) == "" || pax < 1 || travelDate.IsZero() {
		return nil, fmt.Errorf("%w: tour_name, pax >= 1 and travel_date are required", ErrInvalidRecord)
	}

	b, err := scanTourBooking(q.QueryRow(ctx,
		`INSERT INTO tour_bookings (organization_id, created_by, tour_name, pax, travel_date)
		 VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
		 RETURNING `+tourBookingColumns,
		orgID, createdBy, tourName, pax, travelDate,
	))
	if err != nil {
		return nil, fmt.Errorf("creating tour booking: %w", err)
	}
	return b, nil
}

// ListTourBookings returns tour bookings inside scope, soonest travel first.
func (s *Store) ListTourBookings(ctx context.Context, q database.Querier, scope tenant.Scope, limit int) ([]TourBooking, error) {
	if scope.DeniesAll() {
		return []TourBooking{}, nil
	}

	where, args := scope.Clause("organization_id", 1)
	args = append(args, limit)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM tour_bookings WHERE %s ORDER BY travel_date, created_at LIMIT $%d`,
			tourBookingColumns, where, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("listing tour bookings: %w", err)
	}
	defer rows.Close()

	result := []TourBooking{}
	for rows.Next() {
		b, err := scanTourBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tour booking: %w", err)
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
