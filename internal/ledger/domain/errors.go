package domain

import "github.com/smallbiznis/seatbroker/pkg/errkind"

var (
	ErrInvalidEmail      = errkind.New(errkind.KindInvalidRequest, "invalid_email")
	ErrInvalidSourceType = errkind.New(errkind.KindInvalidRequest, "invalid_source_type")
	ErrInvalidResource   = errkind.New(errkind.KindInvalidRequest, "invalid_resource_id")
	ErrMissingOrderNo    = errkind.New(errkind.KindInvalidRequest, "payment_grant_requires_order_no")
	ErrInvalidDateRange  = errkind.New(errkind.KindInvalidRequest, "invalid_date_range")
	ErrInvalidOutcome    = errkind.New(errkind.KindInvalidRequest, "invalid_cleanup_outcome")
)
