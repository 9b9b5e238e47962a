package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/seatbroker/internal/config"
	"github.com/smallbiznis/seatbroker/internal/membership/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxErrorBody = 2048

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	HTTPClient *http.Client `optional:"true"`
}

// Client talks to the membership REST API:
//
//	GET    /accounts/{id}                 account status
//	GET    /accounts/{id}/members         seat holders
//	GET    /accounts/{id}/invites         pending invites
//	POST   /accounts/{id}/invites         invite {"email": ...}
//	DELETE /accounts/{id}/members/{email} remove seat holder
//	DELETE /accounts/{id}/invites/{email} revoke invite
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(p Params) domain.Provider {
	client := p.HTTPClient
	if client == nil {
		timeout := p.Cfg.Membership.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(p.Cfg.Membership.BaseURL, "/"),
		http:    client,
		log:     p.Log.Named("membership.http"),
	}
}

type accountResponse struct {
	Status      string     `json:"status"`
	SeatsInUse  int        `json:"seats_in_use"`
	SeatsTotal  int        `json:"seats_total"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Deactivated bool       `json:"deactivated"`
}

type listResponse struct {
	Items []struct {
		Email string `json:"email"`
	} `json:"items"`
}

func (c *Client) InviteMember(ctx context.Context, cred domain.Credential, email string) error {
	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return err
	}
	return c.do(ctx, cred, http.MethodPost, "/invites", bytes.NewReader(body), nil)
}

func (c *Client) RemoveMember(ctx context.Context, cred domain.Credential, member domain.Member) error {
	collection := "/members/"
	if member.Pending {
		collection = "/invites/"
	}
	return c.do(ctx, cred, http.MethodDelete, collection+url.PathEscape(member.Email), nil, nil)
}

func (c *Client) ListMembers(ctx context.Context, cred domain.Credential) ([]domain.Member, error) {
	var members listResponse
	if err := c.do(ctx, cred, http.MethodGet, "/members", nil, &members); err != nil {
		return nil, err
	}
	var invites listResponse
	if err := c.do(ctx, cred, http.MethodGet, "/invites", nil, &invites); err != nil {
		return nil, err
	}

	out := make([]domain.Member, 0, len(members.Items)+len(invites.Items))
	for _, item := range members.Items {
		out = append(out, domain.Member{Email: strings.ToLower(item.Email)})
	}
	for _, item := range invites.Items {
		out = append(out, domain.Member{Email: strings.ToLower(item.Email), Pending: true})
	}
	return out, nil
}

func (c *Client) FetchAccountStatus(ctx context.Context, cred domain.Credential) (domain.AccountStatus, error) {
	var resp accountResponse
	err := c.do(ctx, cred, http.MethodGet, "", nil, &resp)
	if err != nil {
		if errors.Is(err, domain.ErrAccountDisabled) {
			return domain.AccountStatus{State: domain.AccountStateBanned}, nil
		}
		return domain.AccountStatus{}, err
	}

	state := domain.AccountStateActive
	switch {
	case resp.Deactivated, strings.EqualFold(resp.Status, "banned"), strings.EqualFold(resp.Status, "deactivated"):
		state = domain.AccountStateBanned
	case strings.EqualFold(resp.Status, "expired"):
		state = domain.AccountStateExpired
	}
	return domain.AccountStatus{
		State:       state,
		MemberCount: resp.SeatsInUse,
		SeatLimit:   resp.SeatsTotal,
		ExpiresAt:   resp.ExpiresAt,
	}, nil
}

func (c *Client) do(ctx context.Context, cred domain.Credential, method, path string, body io.Reader, out any) error {
	if c.baseURL == "" {
		return domain.ErrNotConfigured
	}
	endpoint := c.baseURL + "/accounts/" + url.PathEscape(cred.AccountID) + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrProvider, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrAlreadyMember
	case resp.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		return domain.ErrMemberNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if bytes.Contains(bytes.ToLower(snippet), []byte("deactivated")) {
			return domain.ErrAccountDisabled
		}
		return fmt.Errorf("%w: status %d", domain.ErrProvider, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.log.Warn("membership request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return fmt.Errorf("%w: status %d", domain.ErrProvider, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrProvider, err)
	}
	return nil
}
