package service

import (
	"context"
	"errors"
	"testing"
	"time"

	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	membershipdomain "github.com/smallbiznis/seatbroker/internal/membership/domain"
	"github.com/smallbiznis/seatbroker/internal/reconcile/domain"
	"github.com/smallbiznis/seatbroker/internal/reconcile/repository"
	redemptiondomain "github.com/smallbiznis/seatbroker/internal/redemption/domain"
	redemptionrepo "github.com/smallbiznis/seatbroker/internal/redemption/repository"
	redemptionservice "github.com/smallbiznis/seatbroker/internal/redemption/service"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type env struct {
	*fixture.Stack
	codes redemptiondomain.Service
	svc   domain.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	stack := fixture.New(t, t0)
	codes := redemptionservice.New(redemptionservice.Params{
		DB:       stack.DB,
		Log:      stack.Log,
		GenID:    stack.Node,
		Clock:    stack.Clock,
		Repo:     redemptionrepo.Provide(),
		Selector: stack.Selector,
	})
	svc := New(Params{
		DB:           stack.DB,
		Log:          stack.Log,
		GenID:        stack.Node,
		Clock:        stack.Clock,
		Cfg:          stack.Cfg,
		Repo:         repository.Provide(),
		Resources:    stack.Resources,
		ResourceRepo: stack.ResourceRepo,
		Ledger:       stack.Ledger,
		Codes:        codes,
		Provider:     stack.Provider,
	})
	return &env{Stack: stack, codes: codes, svc: svc}
}

func (e *env) grant(t *testing.T, email string, source ledgerdomain.SourceType, orderNo string) grantdomain.Result {
	t.Helper()
	result, err := e.Selector.SelectAndGrant(context.Background(), grantdomain.Request{
		Email:      email,
		SourceType: source,
		SourceCode: "",
		OrderNo:    orderNo,
	})
	require.NoError(t, err)
	return result
}

func TestSyncResourcesContinuesPastFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	healthy := e.AddResource(t, "acct-healthy", 5, nil)
	flaky := e.AddResource(t, "acct-flaky", 5, nil)
	broken := e.AddResource(t, "acct-broken", 5, nil)
	banned := e.AddResource(t, "acct-banned", 5, nil)

	require.NoError(t, e.DB.Exec(`UPDATE resources SET credential = ? WHERE id = ?`, "v1:garbage", broken.ID).Error)
	e.Provider.SetStatus("acct-healthy", membershipdomain.AccountStatus{State: membershipdomain.AccountStateActive, MemberCount: 9})
	e.Provider.SetStatus("acct-banned", membershipdomain.AccountStatus{State: membershipdomain.AccountStateBanned, MemberCount: 2})
	e.Provider.StatusErr = func(accountID string) error {
		if accountID == "acct-flaky" {
			return membershipdomain.ErrProvider
		}
		return nil
	}

	result, err := e.svc.SyncResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncResult{Total: 4, Success: 2, Failed: 2}, result)

	got := e.Resource(t, healthy.ID)
	assert.Equal(t, 5, got.CurrentOccupancy)
	assert.Equal(t, resourcedomain.StatusFull, got.Status)
	assert.NotNil(t, got.LastSyncedAt)

	got = e.Resource(t, banned.ID)
	assert.Equal(t, resourcedomain.StatusBanned, got.Status)
	assert.Equal(t, 2, got.CurrentOccupancy)

	assert.Equal(t, resourcedomain.StatusError, e.Resource(t, broken.ID).Status)

	got = e.Resource(t, flaky.ID)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Equal(t, resourcedomain.StatusActive, got.Status)

	for i := 0; i < 2; i++ {
		_, err := e.svc.SyncResources(ctx)
		require.NoError(t, err)
	}
	got = e.Resource(t, flaky.ID)
	assert.Equal(t, 3, got.ErrorCount)
	assert.Equal(t, resourcedomain.StatusError, got.Status)

	e.Provider.StatusErr = nil
	_, err = e.svc.SyncResources(ctx)
	require.NoError(t, err)
	got = e.Resource(t, flaky.ID)
	assert.Zero(t, got.ErrorCount)
	assert.Equal(t, resourcedomain.StatusActive, got.Status)

	runs, err := e.svc.RecentRuns(ctx, domain.JobResourceSync, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, domain.RunSucceeded, runs[0].Status)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.JSONEq(t, `{"total":4,"success":3,"failed":1}`, string(runs[0].Result))
}

func TestCleanupExpiredGrants(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := e.AddResource(t, "acct-main", 10, nil)

	e.grant(t, "joined@example.com", ledgerdomain.SourceTypeRedemptionCode, "")
	e.grant(t, "pending@example.com", ledgerdomain.SourceTypePayment, "1736067600000AAAA0001")
	e.grant(t, "gone@example.com", ledgerdomain.SourceTypeRedemptionCode, "")
	e.grant(t, "flaky@example.com", ledgerdomain.SourceTypeRedemptionCode, "")
	e.Provider.Accept("acct-main", "joined@example.com")
	require.NoError(t, e.Provider.RemoveMember(ctx, membershipdomain.Credential{AccountID: "acct-main"}, membershipdomain.Member{Email: "gone@example.com"}))

	_, err := e.codes.Generate(ctx, redemptiondomain.GenerateRequest{Count: 2, ExpiresDays: 1})
	require.NoError(t, err)

	e.Clock.Advance(time.Hour)
	e.grant(t, "fresh@example.com", ledgerdomain.SourceTypeRedemptionCode, "")
	assert.Equal(t, 5, e.Resource(t, res.ID).CurrentOccupancy)

	e.Clock.Set(t0.Add(30*24*time.Hour + 30*time.Minute))
	e.Provider.RemoveErr = func(_ string, email string) error {
		if email == "flaky@example.com" {
			return membershipdomain.ErrProvider
		}
		return nil
	}

	result, err := e.svc.CleanupExpiredGrants(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupResult{
		Scanned:      4,
		Deleted:      1,
		Revoked:      1,
		Skipped:      1,
		Failed:       1,
		CodesExpired: 2,
	}, result)

	assert.False(t, e.Provider.HasMember("acct-main", "joined@example.com"))
	assert.False(t, e.Provider.HasMember("acct-main", "pending@example.com"))
	assert.True(t, e.Provider.HasMember("acct-main", "flaky@example.com"))
	assert.True(t, e.Provider.HasMember("acct-main", "fresh@example.com"))
	assert.Equal(t, 3, e.Resource(t, res.ID).CurrentOccupancy)

	e.Provider.RemoveErr = nil
	result, err = e.svc.CleanupExpiredGrants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Revoked)
	assert.Equal(t, 2, e.Resource(t, res.ID).CurrentOccupancy)

	var cleanup ledgerdomain.Cleanup
	require.NoError(t, e.DB.
		Joins("JOIN grant_ledger ON grant_ledger.id = grant_cleanups.entry_id").
		Where("grant_ledger.email = ?", "flaky@example.com").
		First(&cleanup).Error)
	assert.Equal(t, ledgerdomain.CleanupRevoked, cleanup.Outcome)
	assert.Equal(t, 2, cleanup.Attempts)

	e.Clock.Advance(24 * time.Hour)
	result, err = e.svc.CleanupExpiredGrants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned, "only the fresh grant is now old enough")
}

func TestCleanupSkipsSupersededAndDeleted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.AddResource(t, "acct-first", 1, nil)

	old := e.grant(t, "again@example.com", ledgerdomain.SourceTypeRedemptionCode, "")
	require.Equal(t, first.ID, old.Resource.ID)

	second := e.AddResource(t, "acct-second", 1, nil)
	orphan := e.grant(t, "orphan@example.com", ledgerdomain.SourceTypeRedemptionCode, "")
	require.Equal(t, second.ID, orphan.Resource.ID)
	require.NoError(t, e.Resources.Delete(ctx, second.ID))

	// The same member is granted again on the same resource later.
	_, err := e.Resources.AdjustOccupancy(ctx, first.ID, -1)
	require.NoError(t, err)
	e.Clock.Advance(20 * 24 * time.Hour)
	again := e.grant(t, "again@example.com", ledgerdomain.SourceTypeAdminManual, "")
	require.Equal(t, first.ID, again.Resource.ID)

	e.Clock.Set(t0.Add(31 * 24 * time.Hour))
	result, err := e.svc.CleanupExpiredGrants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Skipped)
	assert.True(t, e.Provider.HasMember("acct-first", "again@example.com"))
}

func TestCleanupStopsOnCancelledContext(t *testing.T) {
	e := newEnv(t)
	e.AddResource(t, "acct-a", 5, nil)
	e.grant(t, "a@example.com", ledgerdomain.SourceTypeRedemptionCode, "")
	e.Clock.Set(t0.Add(40 * 24 * time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.svc.CleanupExpiredGrants(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	runs, err := e.svc.RecentRuns(context.Background(), domain.JobGrantCleanup, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
}
