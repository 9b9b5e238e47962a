package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	"github.com/smallbiznis/seatbroker/internal/credential"
	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/seatbroker/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/seatbroker/internal/ledger/service"
	membershipdomain "github.com/smallbiznis/seatbroker/internal/membership/domain"
	"github.com/smallbiznis/seatbroker/internal/membership/fake"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	resourcerepo "github.com/smallbiznis/seatbroker/internal/resource/repository"
	resourceservice "github.com/smallbiznis/seatbroker/internal/resource/service"
	"github.com/smallbiznis/seatbroker/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type env struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	provider  *fake.Provider
	resources resourcedomain.Service
	selector  grantdomain.Selector
}

func newEnv(t *testing.T, maxAttempts int) *env {
	t.Helper()
	db := testutil.OpenTestDB(t)
	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	cipher, err := credential.NewAESCipher("grant-test-secret")
	require.NoError(t, err)

	clk := clock.NewFakeClock(t0)
	provider := fake.NewProvider()
	resRepo := resourcerepo.Provide()
	resources := resourceservice.New(resourceservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  clk,
		Cipher: cipher,
		Repo:   resRepo,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Cfg:   config.Config{Timezone: "UTC"},
		Repo:  ledgerrepo.Provide(),
	})

	storefront := config.DefaultStorefrontConfig()
	storefront.MaxAttempts = maxAttempts
	return &env{
		db:        db,
		clock:     clk,
		provider:  provider,
		resources: resources,
		selector: NewSelector(Params{
			DB:           db,
			Log:          log,
			Clock:        clk,
			Storefront:   config.NewStaticStorefrontHolder(storefront),
			Resources:    resources,
			ResourceRepo: resRepo,
			Ledger:       ledger,
			Provider:     provider,
		}),
	}
}

func (e *env) add(t *testing.T, accountID string, capacity int, expiresIn time.Duration) *resourcedomain.Resource {
	t.Helper()
	var expiresAt *time.Time
	if expiresIn > 0 {
		v := t0.Add(expiresIn)
		expiresAt = &v
	}
	res, _, err := e.resources.UpsertFromImport(context.Background(), resourcedomain.ImportRequest{
		AccountID:   accountID,
		Credential:  "token-" + accountID,
		MaxCapacity: capacity,
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)
	return res
}

func (e *env) occupancy(t *testing.T, id snowflake.ID) int {
	t.Helper()
	res, err := e.resources.GetByID(context.Background(), id)
	require.NoError(t, err)
	return res.CurrentOccupancy
}

func (e *env) entries(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&ledgerdomain.Entry{}).Count(&n).Error)
	return n
}

func codeRequest(email string) grantdomain.Request {
	return grantdomain.Request{
		Email:      email,
		SourceType: ledgerdomain.SourceTypeRedemptionCode,
		SourceCode: "CODE-1",
	}
}

func TestSelectAndGrantPicksSoonestExpiry(t *testing.T) {
	e := newEnv(t, 1)
	e.add(t, "late", 5, 30*24*time.Hour)
	soon := e.add(t, "soon", 5, 2*24*time.Hour)
	e.add(t, "open", 5, 0)

	result, err := e.selector.SelectAndGrant(context.Background(), codeRequest(" Member@Example.com "))
	require.NoError(t, err)
	assert.Equal(t, soon.ID, result.Resource.ID)
	assert.Equal(t, 1, result.Resource.CurrentOccupancy)
	assert.Equal(t, "member@example.com", result.Entry.Email)
	assert.Equal(t, soon.ID, result.Entry.ResourceID)
	assert.False(t, result.Duplicate)
	assert.True(t, e.provider.HasMember("soon", "member@example.com"))
}

func TestSelectAndGrantRejectsInvalidEmail(t *testing.T) {
	e := newEnv(t, 1)
	e.add(t, "acct", 1, 0)

	_, err := e.selector.SelectAndGrant(context.Background(), codeRequest("not-an-email"))
	assert.ErrorIs(t, err, grantdomain.ErrInvalidEmail)
	assert.Zero(t, e.provider.Invites())
}

func TestSelectAndGrantHonorsExclusions(t *testing.T) {
	e := newEnv(t, 1)
	first := e.add(t, "first", 5, time.Hour)
	second := e.add(t, "second", 5, 2*time.Hour)

	req := codeRequest("m@example.com")
	req.ExcludeIDs = []snowflake.ID{first.ID}
	result, err := e.selector.SelectAndGrant(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, second.ID, result.Resource.ID)

	req.ExcludeIDs = []snowflake.ID{first.ID, second.ID}
	_, err = e.selector.SelectAndGrant(context.Background(), req)
	assert.ErrorIs(t, err, grantdomain.ErrNoCapacityAvailable)
}

func TestSelectAndGrantNeverOverfills(t *testing.T) {
	e := newEnv(t, 1)
	a := e.add(t, "a", 2, time.Hour)
	b := e.add(t, "b", 1, 2*time.Hour)

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		empty   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.selector.SelectAndGrant(context.Background(), codeRequest(fmt.Sprintf("m%d@example.com", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, grantdomain.ErrNoCapacityAvailable):
				empty++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	assert.Equal(t, workers-3, empty)
	assert.Equal(t, 2, e.occupancy(t, a.ID))
	assert.Equal(t, 1, e.occupancy(t, b.ID))
	assert.Equal(t, int64(3), e.entries(t))

	res, err := e.resources.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, resourcedomain.StatusFull, res.Status)
}

func TestSelectAndGrantFinalizeFailureRollsBack(t *testing.T) {
	e := newEnv(t, 1)
	res := e.add(t, "acct", 3, 0)
	boom := errors.New("order update failed")

	req := codeRequest("m@example.com")
	req.Finalize = func(ctx context.Context, tx *gorm.DB, result grantdomain.Result) error {
		require.NotNil(t, result.Entry)
		return boom
	}
	_, err := e.selector.SelectAndGrant(context.Background(), req)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, e.occupancy(t, res.ID))
	assert.Zero(t, e.entries(t))
	assert.False(t, e.provider.HasMember("acct", "m@example.com"))
	assert.Equal(t, 1, e.provider.RemoveCall)
}

func TestSelectAndGrantProviderFailureFallsThrough(t *testing.T) {
	e := newEnv(t, 2)
	e.add(t, "broken", 5, time.Hour)
	healthy := e.add(t, "healthy", 5, 2*time.Hour)
	e.provider.InviteErr = func(accountID, _ string) error {
		if accountID == "broken" {
			return membershipdomain.ErrProvider
		}
		return nil
	}

	result, err := e.selector.SelectAndGrant(context.Background(), codeRequest("m@example.com"))
	require.NoError(t, err)
	assert.Equal(t, healthy.ID, result.Resource.ID)
	assert.Equal(t, int64(1), e.entries(t))
}

func TestSelectAndGrantProviderFailureSurfacesAtAttemptLimit(t *testing.T) {
	e := newEnv(t, 1)
	broken := e.add(t, "broken", 5, time.Hour)
	e.add(t, "healthy", 5, 2*time.Hour)
	e.provider.InviteErr = func(accountID, _ string) error {
		if accountID == "broken" {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := e.selector.SelectAndGrant(context.Background(), codeRequest("m@example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, membershipdomain.ErrProvider)
	assert.Equal(t, 0, e.occupancy(t, broken.ID))
	assert.Zero(t, e.entries(t))
	assert.Equal(t, 0, e.provider.RemoveCall)
}

func TestSelectAndGrantTreatsAlreadyMemberAsInvited(t *testing.T) {
	e := newEnv(t, 1)
	res := e.add(t, "acct", 5, 0)
	e.provider.InviteErr = func(string, string) error { return membershipdomain.ErrAlreadyMember }

	result, err := e.selector.SelectAndGrant(context.Background(), codeRequest("m@example.com"))
	require.NoError(t, err)
	assert.Equal(t, res.ID, result.Resource.ID)
	assert.Equal(t, 1, e.occupancy(t, res.ID))
}

func TestSelectAndGrantSkipsUnreadableCredential(t *testing.T) {
	e := newEnv(t, 1)
	bad := e.add(t, "bad", 5, time.Hour)
	good := e.add(t, "good", 5, 2*time.Hour)
	require.NoError(t, e.db.Exec(`UPDATE resources SET credential = ? WHERE id = ?`, "v1:broken", bad.ID).Error)

	result, err := e.selector.SelectAndGrant(context.Background(), codeRequest("m@example.com"))
	require.NoError(t, err)
	assert.Equal(t, good.ID, result.Resource.ID)

	parked, err := e.resources.GetByID(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, resourcedomain.StatusError, parked.Status)
}

func TestSelectAndGrantDeduplicatesPaymentOrder(t *testing.T) {
	e := newEnv(t, 1)
	res := e.add(t, "acct", 5, 0)
	req := grantdomain.Request{
		Email:      "buyer@example.com",
		SourceType: ledgerdomain.SourceTypePayment,
		OrderNo:    "ORD-42",
	}

	first, err := e.selector.SelectAndGrant(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := e.selector.SelectAndGrant(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Entry.ID, again.Entry.ID)
	assert.Equal(t, 1, e.occupancy(t, res.ID))
	assert.Equal(t, int64(1), e.entries(t))
}

func TestSelectAndGrantRollbackKeepsCommittedSeat(t *testing.T) {
	e := newEnv(t, 1)
	res := e.add(t, "acct", 3, 0)

	_, err := e.selector.SelectAndGrant(context.Background(), codeRequest("u@example.com"))
	require.NoError(t, err)
	require.True(t, e.provider.HasMember("acct", "u@example.com"))

	req := codeRequest("u@example.com")
	req.SourceCode = "CODE-2"
	req.Finalize = func(context.Context, *gorm.DB, grantdomain.Result) error {
		return errors.New("code claimed elsewhere")
	}
	_, err = e.selector.SelectAndGrant(context.Background(), req)
	require.Error(t, err)

	assert.True(t, e.provider.HasMember("acct", "u@example.com"))
	assert.Equal(t, 0, e.provider.RemoveCall)
	assert.Equal(t, 1, e.occupancy(t, res.ID))
	assert.Equal(t, int64(1), e.entries(t))
}

func TestSelectAndGrantRollbackSkipsExistingMember(t *testing.T) {
	e := newEnv(t, 1)
	res := e.add(t, "acct", 3, 0)
	e.provider.Accept("acct", "u@example.com")
	e.provider.InviteErr = func(string, string) error { return membershipdomain.ErrAlreadyMember }

	req := codeRequest("u@example.com")
	req.Finalize = func(context.Context, *gorm.DB, grantdomain.Result) error {
		return errors.New("order update failed")
	}
	_, err := e.selector.SelectAndGrant(context.Background(), req)
	require.Error(t, err)

	assert.True(t, e.provider.HasMember("acct", "u@example.com"))
	assert.Equal(t, 0, e.provider.RemoveCall)
	assert.Equal(t, 0, e.occupancy(t, res.ID))
}
