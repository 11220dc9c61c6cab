package rbac

import (
	"errors"
	"slices"
)

var (
	ErrUnknownPermission = errors.New("unknown permission")
	ErrCatalogIncomplete = errors.New("permission catalog incomplete")
	ErrGrantNotFound     = errors.New("permission grant not found")
)

// Permission names one capability in the global vocabulary.
type Permission string

const (
	ViewAllReservations Permission = "VIEW_ALL_RESERVATIONS"
	ViewReservations    Permission = "VIEW_RESERVATIONS"
	ManageReservations  Permission = "MANAGE_RESERVATIONS"
	ViewTourBookings    Permission = "VIEW_TOUR_BOOKINGS"
	ManageTourBookings  Permission = "MANAGE_TOUR_BOOKINGS"
	ManageUsers         Permission = "MANAGE_USERS"
	ManagePermissions   Permission = "MANAGE_PERMISSIONS"
	ManageOrganization  Permission = "MANAGE_ORGANIZATION"
	ManageModules       Permission = "MANAGE_MODULES"
	ViewReports         Permission = "VIEW_REPORTS"
	ManagePrices        Permission = "MANAGE_PRICES"
)

// AllPermissions is the global permission vocabulary.
var AllPermissions = []Permission{
	ViewAllReservations,
	ViewReservations,
	ManageReservations,
	ViewTourBookings,
	ManageTourBookings,
	ManageUsers,
	ManagePermissions,
	ManageOrganization,
	ManageModules,
	ViewReports,
	ManagePrices,
}

// Known reports whether p belongs to the vocabulary.
func (p Permission) Known() bool {
	return slices.Contains(AllPermissions, p)
}
