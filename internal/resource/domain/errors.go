package domain

import "github.com/smallbiznis/seatbroker/pkg/errkind"

var (
	ErrNotFound          = errkind.New(errkind.KindNotFound, "resource_not_found")
	ErrCapacityExceeded  = errkind.New(errkind.KindCapacityExceeded, "capacity_exceeded")
	ErrInvalidStatus     = errkind.New(errkind.KindInvalidRequest, "invalid_resource_status")
	ErrInvalidCapacity   = errkind.New(errkind.KindInvalidRequest, "invalid_max_capacity")
	ErrInvalidOccupancy  = errkind.New(errkind.KindInvalidRequest, "invalid_current_occupancy")
	ErrInvalidAccountID  = errkind.New(errkind.KindInvalidRequest, "invalid_account_id")
	ErrInvalidCredential = errkind.New(errkind.KindInvalidRequest, "invalid_credential")
)
