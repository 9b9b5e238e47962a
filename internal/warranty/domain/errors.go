package domain

import "github.com/smallbiznis/seatbroker/pkg/errkind"

var (
	ErrInvalidQuery = errkind.New(errkind.KindInvalidRequest, "invalid_warranty_query")
	ErrInvalidEmail = errkind.New(errkind.KindInvalidRequest, "invalid_email")
	ErrNoGrant      = errkind.New(errkind.KindNotFound, "grant_not_found")
	ErrExpired      = errkind.New(errkind.KindWarrantyExpired, "warranty_expired")
	ErrNotEligible  = errkind.New(errkind.KindWarrantyNotEligible, "warranty_not_eligible")
	ErrCodeMismatch = errkind.New(errkind.KindWarrantyNotEligible, "warranty_code_mismatch")
	ErrInProgress   = errkind.New(errkind.KindConflict, "reinvite_in_progress")
)
