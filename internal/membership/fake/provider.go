// Package fake provides an in-memory membership provider for tests.
package fake

import (
	"context"
	"strings"
	"sync"

	"github.com/smallbiznis/seatbroker/internal/membership/domain"
)

type Provider struct {
	mu       sync.Mutex
	members  map[string]map[string]bool // account -> email -> pending
	statuses map[string]domain.AccountStatus

	InviteErr  func(accountID, email string) error
	RemoveErr  func(accountID, email string) error
	ListErr    func(accountID string) error
	StatusErr  func(accountID string) error
	InviteCall int
	RemoveCall int
}

func NewProvider() *Provider {
	return &Provider{
		members:  map[string]map[string]bool{},
		statuses: map[string]domain.AccountStatus{},
	}
}

func (p *Provider) InviteMember(_ context.Context, cred domain.Credential, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InviteCall++
	if p.InviteErr != nil {
		if err := p.InviteErr(cred.AccountID, email); err != nil {
			return err
		}
	}
	p.account(cred.AccountID)[strings.ToLower(email)] = true
	return nil
}

func (p *Provider) RemoveMember(_ context.Context, cred domain.Credential, member domain.Member) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RemoveCall++
	if p.RemoveErr != nil {
		if err := p.RemoveErr(cred.AccountID, member.Email); err != nil {
			return err
		}
	}
	members := p.account(cred.AccountID)
	if _, ok := members[strings.ToLower(member.Email)]; !ok {
		return domain.ErrMemberNotFound
	}
	delete(members, strings.ToLower(member.Email))
	return nil
}

func (p *Provider) ListMembers(_ context.Context, cred domain.Credential) ([]domain.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListErr != nil {
		if err := p.ListErr(cred.AccountID); err != nil {
			return nil, err
		}
	}
	out := make([]domain.Member, 0)
	for email, pending := range p.account(cred.AccountID) {
		out = append(out, domain.Member{Email: email, Pending: pending})
	}
	return out, nil
}

func (p *Provider) FetchAccountStatus(_ context.Context, cred domain.Credential) (domain.AccountStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StatusErr != nil {
		if err := p.StatusErr(cred.AccountID); err != nil {
			return domain.AccountStatus{}, err
		}
	}
	if status, ok := p.statuses[cred.AccountID]; ok {
		return status, nil
	}
	return domain.AccountStatus{State: domain.AccountStateActive, MemberCount: len(p.account(cred.AccountID))}, nil
}

// Accept turns a pending invite into a seat holder.
func (p *Provider) Accept(accountID, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account(accountID)[strings.ToLower(email)] = false
}

func (p *Provider) SetStatus(accountID string, status domain.AccountStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[accountID] = status
}

func (p *Provider) HasMember(accountID, email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.account(accountID)[strings.ToLower(email)]
	return ok
}

func (p *Provider) Invites() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.InviteCall
}

func (p *Provider) account(accountID string) map[string]bool {
	members, ok := p.members[accountID]
	if !ok {
		members = map[string]bool{}
		p.members[accountID] = members
	}
	return members
}

var _ domain.Provider = (*Provider)(nil)
