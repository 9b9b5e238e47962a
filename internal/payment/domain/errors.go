package domain

import "github.com/smallbiznis/seatbroker/pkg/errkind"

var (
	ErrNotConfigured     = errkind.New(errkind.KindConfigurationMissing, "payment_not_configured")
	ErrNotFound          = errkind.New(errkind.KindNotFound, "order_not_found")
	ErrInvalidEmail      = errkind.New(errkind.KindInvalidRequest, "invalid_email")
	ErrInvalidPayType    = errkind.New(errkind.KindInvalidRequest, "invalid_pay_type")
	ErrInvalidStatus     = errkind.New(errkind.KindInvalidRequest, "invalid_order_status")
	ErrInvalidPrice      = errkind.New(errkind.KindConfigurationMissing, "invalid_storefront_price")
	ErrTradeNotSucceeded = errkind.New(errkind.KindInvalidRequest, "trade_not_successful")
	ErrMissingOrderNo    = errkind.New(errkind.KindInvalidRequest, "missing_out_trade_no")
	ErrAmountMismatch    = errkind.New(errkind.KindSignatureInvalid, "amount_mismatch")
	ErrStaleOrder        = errkind.New(errkind.KindStaleOrder, "order_state_conflict")
	ErrDuplicateEvent    = errkind.New(errkind.KindDuplicateEvent, "order_already_processed")
	ErrSoldOut           = errkind.New(errkind.KindNoCapacityAvailable, "sold_out")
)
