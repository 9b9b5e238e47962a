package domain

import "github.com/smallbiznis/seatbroker/pkg/errkind"

var (
	ErrNotFound          = errkind.New(errkind.KindNotFound, "code_not_found")
	ErrAlreadyUsed       = errkind.New(errkind.KindStaleCode, "code_already_used")
	ErrExpired           = errkind.New(errkind.KindStaleCode, "code_expired")
	ErrDuplicateCode     = errkind.New(errkind.KindConflict, "code_already_exists")
	ErrInvalidCode       = errkind.New(errkind.KindInvalidRequest, "invalid_code")
	ErrInvalidCount      = errkind.New(errkind.KindInvalidRequest, "invalid_count")
	ErrInvalidStatus     = errkind.New(errkind.KindInvalidRequest, "invalid_code_status")
	ErrInvalidExpiry     = errkind.New(errkind.KindInvalidRequest, "invalid_expires_days")
	ErrInvalidWarranty   = errkind.New(errkind.KindInvalidRequest, "invalid_warranty_days")
	ErrInvalidEmail      = errkind.New(errkind.KindInvalidRequest, "invalid_email")
	ErrEmptyBulkSelector = errkind.New(errkind.KindInvalidRequest, "bulk_update_requires_codes")
)
