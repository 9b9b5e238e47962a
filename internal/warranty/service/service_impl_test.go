package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	"github.com/smallbiznis/seatbroker/internal/ratelimit"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/internal/testutil/fixture"
	"github.com/smallbiznis/seatbroker/internal/warranty/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newWarranty(t *testing.T) (*fixture.Stack, domain.Service) {
	t.Helper()
	stack := fixture.New(t, t0)
	svc := New(Params{
		Log:       stack.Log,
		Clock:     stack.Clock,
		Cfg:       stack.Cfg,
		Ledger:    stack.Ledger,
		Resources: stack.Resources,
		Selector:  stack.Selector,
		Limiter:   ratelimit.NewQueryLimiter(ratelimit.NewMemoryStore(stack.Clock), 30*time.Second, stack.Log, nil),
	})
	return stack, svc
}

func days(n int) *time.Time {
	v := t0.AddDate(0, 0, n)
	return &v
}

func redeem(t *testing.T, stack *fixture.Stack, email, code string) grantdomain.Result {
	t.Helper()
	result, err := stack.Selector.SelectAndGrant(context.Background(), grantdomain.Request{
		Email:      email,
		SourceType: ledgerdomain.SourceTypeRedemptionCode,
		SourceCode: code,
	})
	require.NoError(t, err)
	return result
}

func TestClassify(t *testing.T) {
	end := t0.Add(30 * 24 * time.Hour)
	cases := []struct {
		name   string
		now    time.Time
		end    *time.Time
		status resourcedomain.Status
		want   domain.Status
	}{
		{"no anchor", t0, nil, resourcedomain.StatusBanned, domain.StatusUnknown},
		{"inside window banned", t0.Add(10 * 24 * time.Hour), &end, resourcedomain.StatusBanned, domain.StatusAfterSalesAvailable},
		{"inside window active", t0.Add(10 * 24 * time.Hour), &end, resourcedomain.StatusActive, domain.StatusNormal},
		{"window end is inclusive", end, &end, resourcedomain.StatusBanned, domain.StatusAfterSalesAvailable},
		{"past window", end.Add(time.Second), &end, resourcedomain.StatusBanned, domain.StatusExpired},
		{"deleted resource", t0, &end, "", domain.StatusNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.Classify(tc.now, tc.end, tc.status))
		})
	}
}

func TestCheckWithoutGrant(t *testing.T) {
	_, svc := newWarranty(t)
	ctx := context.Background()

	out, err := svc.Check(ctx, domain.CheckRequest{Query: "nobody@example.com"})
	require.NoError(t, err)
	assert.False(t, out.HasWarranty)
	assert.Equal(t, domain.StatusUnknown, out.Status)
	assert.Empty(t, out.Records)

	_, err = svc.Reinvite(ctx, domain.ReinviteRequest{Email: "nobody@example.com"})
	assert.ErrorIs(t, err, domain.ErrNoGrant)

	_, err = svc.Check(ctx, domain.CheckRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestBanInsideWindowAllowsOneReinvite(t *testing.T) {
	stack, svc := newWarranty(t)
	ctx := context.Background()
	first := stack.AddResource(t, "acct-a", 5, days(60))
	second := stack.AddResource(t, "acct-b", 5, days(90))

	granted := redeem(t, stack, "User@Example.com", "WARRANTY01")
	require.Equal(t, first.ID, granted.Resource.ID)
	windowEnd := t0.Add(30 * 24 * time.Hour)

	out, err := svc.Check(ctx, domain.CheckRequest{Email: "user@example.com"})
	require.NoError(t, err)
	assert.True(t, out.HasWarranty)
	assert.True(t, out.WarrantyValid)
	assert.Equal(t, domain.StatusNormal, out.Status)
	assert.False(t, out.CanReuse)
	require.NotNil(t, out.OriginalCode)
	assert.Equal(t, "WARRANTY01", *out.OriginalCode)
	require.NotNil(t, out.WarrantyExpiresAt)
	assert.True(t, windowEnd.Equal(*out.WarrantyExpiresAt))

	_, err = svc.Reinvite(ctx, domain.ReinviteRequest{Email: "user@example.com"})
	assert.ErrorIs(t, err, domain.ErrNotEligible)

	stack.Clock.Advance(10 * 24 * time.Hour)
	_, err = stack.Resources.SetStatus(ctx, first.ID, resourcedomain.StatusBanned)
	require.NoError(t, err)

	out, err = svc.Check(ctx, domain.CheckRequest{Query: "warranty01"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAfterSalesAvailable, out.Status)
	assert.True(t, out.CanReuse)
	require.Len(t, out.BannedResources, 1)
	assert.Equal(t, first.ID, out.BannedResources[0].ResourceID)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "user@example.com", out.Records[0].Email)

	decision, err := svc.ValidateReuse(ctx, domain.ReuseRequest{Email: "user@example.com", Code: "OTHERCODE"})
	require.NoError(t, err)
	assert.False(t, decision.CanReuse)
	assert.Equal(t, domain.ReasonCodeMismatch, decision.Reason)

	decision, err = svc.ValidateReuse(ctx, domain.ReuseRequest{Email: "user@example.com", Code: "warranty01"})
	require.NoError(t, err)
	assert.True(t, decision.CanReuse)

	_, err = svc.Reinvite(ctx, domain.ReinviteRequest{Email: "user@example.com", Code: "OTHERCODE"})
	assert.ErrorIs(t, err, domain.ErrCodeMismatch)

	result, err := svc.Reinvite(ctx, domain.ReinviteRequest{Email: "user@example.com", Code: "WARRANTY01"})
	require.NoError(t, err)
	assert.Equal(t, second.ID, result.Resource.ID)
	assert.True(t, windowEnd.Equal(result.WarrantyExpiresAt))
	assert.True(t, stack.Provider.HasMember("acct-b", "user@example.com"))

	latest, err := stack.Ledger.Latest(ctx, ledgerdomain.Lookup{Email: "user@example.com"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SourceTypeAfterSales, latest.SourceType)
	require.NotNil(t, latest.SourceCode)
	assert.Equal(t, "WARRANTY01", *latest.SourceCode)

	anchor, err := stack.Ledger.Anchor(ctx, ledgerdomain.Lookup{Email: "user@example.com"})
	require.NoError(t, err)
	assert.Equal(t, granted.Entry.ID, anchor.ID)

	// The new resource is healthy so a second re-grant is refused.
	_, err = svc.Reinvite(ctx, domain.ReinviteRequest{Email: "user@example.com"})
	assert.ErrorIs(t, err, domain.ErrNotEligible)

	stack.Clock.Set(t0.Add(29*24*time.Hour + 23*time.Hour))
	_, err = stack.Resources.SetStatus(ctx, second.ID, resourcedomain.StatusBanned)
	require.NoError(t, err)
	out, err = svc.Check(ctx, domain.CheckRequest{Email: "user@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAfterSalesAvailable, out.Status)
	assert.True(t, windowEnd.Equal(*out.WarrantyExpiresAt))

	stack.Clock.Set(windowEnd.Add(time.Second))
	out, err = svc.Check(ctx, domain.CheckRequest{Email: "user@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, out.Status)
	assert.False(t, out.WarrantyValid)
	assert.False(t, out.CanReuse)

	_, err = svc.Reinvite(ctx, domain.ReinviteRequest{Email: "user@example.com"})
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestConcurrentReinvitesYieldOneRegrant(t *testing.T) {
	stack, svc := newWarranty(t)
	ctx := context.Background()
	banned := stack.AddResource(t, "acct-a", 5, days(60))
	stack.AddResource(t, "acct-b", 5, days(90))
	stack.AddResource(t, "acct-c", 5, days(120))

	redeem(t, stack, "user@example.com", "WARRANTY02")
	_, err := stack.Resources.SetStatus(ctx, banned.ID, resourcedomain.StatusBanned)
	require.NoError(t, err)

	const workers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reinvite(ctx, domain.ReinviteRequest{Email: "user@example.com"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, domain.ErrNotEligible):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, workers-1, rejected)

	var afterSales int64
	require.NoError(t, stack.DB.Model(&ledgerdomain.Entry{}).
		Where("source_type = ?", ledgerdomain.SourceTypeAfterSales).
		Count(&afterSales).Error)
	assert.Equal(t, int64(1), afterSales)
}

func TestReinviteWithoutOtherCapacity(t *testing.T) {
	stack, svc := newWarranty(t)
	ctx := context.Background()
	only := stack.AddResource(t, "acct-only", 5, days(60))
	redeem(t, stack, "solo@example.com", "SOLOCODE")

	_, err := stack.Resources.SetStatus(ctx, only.ID, resourcedomain.StatusBanned)
	require.NoError(t, err)

	_, err = svc.Reinvite(ctx, domain.ReinviteRequest{Email: "solo@example.com"})
	assert.ErrorIs(t, err, grantdomain.ErrNoCapacityAvailable)
}

func TestPaymentAnchorCannotReuseCode(t *testing.T) {
	stack, svc := newWarranty(t)
	ctx := context.Background()
	res := stack.AddResource(t, "acct-pay", 5, days(60))

	_, err := stack.Selector.SelectAndGrant(ctx, grantdomain.Request{
		Email:      "buyer@example.com",
		SourceType: ledgerdomain.SourceTypePayment,
		OrderNo:    "1772359200000ABCD1234",
	})
	require.NoError(t, err)
	_, err = stack.Resources.SetStatus(ctx, res.ID, resourcedomain.StatusBanned)
	require.NoError(t, err)

	out, err := svc.Check(ctx, domain.CheckRequest{Email: "buyer@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAfterSalesAvailable, out.Status)
	assert.Nil(t, out.OriginalCode)
	assert.Equal(t, "-", out.Records[0].Code)

	decision, err := svc.ValidateReuse(ctx, domain.ReuseRequest{Email: "buyer@example.com", Code: "ANYCODE"})
	require.NoError(t, err)
	assert.False(t, decision.CanReuse)
	assert.Equal(t, domain.ReasonNotRedemptionSource, decision.Reason)
}

func TestCheckIsThrottledPerKey(t *testing.T) {
	stack, svc := newWarranty(t)
	ctx := context.Background()

	_, err := svc.Check(ctx, domain.CheckRequest{Email: "rate@example.com"})
	require.NoError(t, err)

	_, err = svc.Check(ctx, domain.CheckRequest{Query: "RATE@example.com"})
	require.Error(t, err)
	var limited *ratelimit.LimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 30*time.Second, limited.RetryAfter)

	_, err = svc.Check(ctx, domain.CheckRequest{Code: "rate@example"})
	require.NoError(t, err)

	stack.Clock.Advance(30 * time.Second)
	_, err = svc.Check(ctx, domain.CheckRequest{Email: "rate@example.com"})
	require.NoError(t, err)
}
