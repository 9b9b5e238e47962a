package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/seatbroker/pkg/errkind"
)

var (
	ErrProvider        = errkind.New(errkind.KindMembershipProviderError, "membership_provider_error")
	ErrNotConfigured   = errkind.New(errkind.KindConfigurationMissing, "membership_provider_not_configured")
	ErrAlreadyMember   = errkind.New(errkind.KindConflict, "already_member")
	ErrMemberNotFound  = errkind.New(errkind.KindNotFound, "member_not_found")
	ErrAccountDisabled = errkind.New(errkind.KindMembershipProviderError, "account_disabled")
)

// AccountState is the remote view of a group account.
type AccountState string

const (
	AccountStateActive  AccountState = "active"
	AccountStateBanned  AccountState = "banned"
	AccountStateExpired AccountState = "expired"
)

// Credential is a decrypted handle for one remote account.
type Credential struct {
	AccountID   string
	AccessToken string
}

// Member is a seat holder or a pending invitee.
type Member struct {
	Email   string
	Pending bool
}

type AccountStatus struct {
	State       AccountState
	MemberCount int
	SeatLimit   int
	ExpiresAt   *time.Time
}

// Provider is the remote group-membership API.
type Provider interface {
	InviteMember(ctx context.Context, cred Credential, email string) error
	// RemoveMember removes a seat holder, or revokes the invite when member.Pending is set.
	RemoveMember(ctx context.Context, cred Credential, member Member) error
	ListMembers(ctx context.Context, cred Credential) ([]Member, error)
	FetchAccountStatus(ctx context.Context, cred Credential) (AccountStatus, error)
}
