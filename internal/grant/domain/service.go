package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"gorm.io/gorm"
)

var (
	ErrNoCapacityAvailable = errkind.New(errkind.KindNoCapacityAvailable, "no_capacity_available")
	ErrInvalidEmail        = errkind.New(errkind.KindInvalidRequest, "invalid_email")
)

// FinalizeFunc runs inside the grant transaction after the seat is reserved,
// the member invited and the ledger entry appended. Returning an error rolls
// all of it back.
type FinalizeFunc func(ctx context.Context, tx *gorm.DB, result Result) error

type Request struct {
	Email      string
	SourceType ledgerdomain.SourceType
	SourceCode string
	OrderNo    string
	// ExcludeIDs are resources that must not receive the grant.
	ExcludeIDs []snowflake.ID
	Finalize   FinalizeFunc
}

type Result struct {
	Resource *resourcedomain.Resource
	Entry    *ledgerdomain.Entry
	// Duplicate is set when the ledger already held this payment grant.
	Duplicate bool
}

type Selector interface {
	SelectAndGrant(ctx context.Context, req Request) (Result, error)
}
