package service

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	"github.com/smallbiznis/seatbroker/internal/ledger/repository"
	"github.com/smallbiznis/seatbroker/internal/testutil"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// Wednesday 10:00 in UTC+8.
var t0 = time.Date(2026, 4, 15, 2, 0, 0, 0, time.UTC)

type env struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   ledgerdomain.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.OpenTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(t0)
	return &env{
		db:    db,
		clock: clk,
		svc: NewService(Params{
			DB:    db,
			Log:   zaptest.NewLogger(t),
			GenID: node,
			Clock: clk,
			Cfg:   config.Config{Timezone: "Asia/Shanghai"},
			Repo:  repository.Provide(),
		}),
	}
}

func (e *env) append(t *testing.T, req ledgerdomain.AppendRequest) *ledgerdomain.Entry {
	t.Helper()
	if req.ResourceID == 0 {
		req.ResourceID = 1
	}
	entry, inserted, err := e.svc.Append(context.Background(), nil, req)
	require.NoError(t, err)
	require.True(t, inserted)
	return entry
}

func TestAppendNormalizesAndValidates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	entry := e.append(t, ledgerdomain.AppendRequest{
		Email:      "  Member@Example.COM ",
		SourceType: ledgerdomain.SourceTypeRedemptionCode,
		SourceCode: " abcd-1234 ",
	})
	assert.Equal(t, "member@example.com", entry.Email)
	require.NotNil(t, entry.SourceCode)
	assert.Equal(t, "ABCD-1234", *entry.SourceCode)
	assert.Nil(t, entry.OrderNo)
	assert.Equal(t, t0, entry.GrantedAt)

	cases := []struct {
		name string
		req  ledgerdomain.AppendRequest
		want error
	}{
		{"bad email", ledgerdomain.AppendRequest{Email: "nope", SourceType: ledgerdomain.SourceTypeAdminManual, ResourceID: 1}, ledgerdomain.ErrInvalidEmail},
		{"bad source", ledgerdomain.AppendRequest{Email: "a@b.c", SourceType: "gift", ResourceID: 1}, ledgerdomain.ErrInvalidSourceType},
		{"no resource", ledgerdomain.AppendRequest{Email: "a@b.c", SourceType: ledgerdomain.SourceTypeAdminManual}, ledgerdomain.ErrInvalidResource},
		{"payment without order", ledgerdomain.AppendRequest{Email: "a@b.c", SourceType: ledgerdomain.SourceTypePayment, ResourceID: 1}, ledgerdomain.ErrMissingOrderNo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.svc.Append(ctx, nil, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAppendDeduplicatesPaymentOrders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.append(t, ledgerdomain.AppendRequest{
		Email:      "buyer@example.com",
		SourceType: ledgerdomain.SourceTypePayment,
		OrderNo:    "ORD-1",
		ResourceID: 10,
	})

	again, inserted, err := e.svc.Append(ctx, nil, ledgerdomain.AppendRequest{
		Email:      "buyer@example.com",
		SourceType: ledgerdomain.SourceTypePayment,
		OrderNo:    "ORD-1",
		ResourceID: 11,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, snowflake.ID(10), again.ResourceID)

	// non-payment grants carry no order number and never collide
	e.append(t, ledgerdomain.AppendRequest{Email: "buyer@example.com", SourceType: ledgerdomain.SourceTypeAfterSales})
	e.append(t, ledgerdomain.AppendRequest{Email: "buyer@example.com", SourceType: ledgerdomain.SourceTypeAfterSales})

	var n int64
	require.NoError(t, e.db.Model(&ledgerdomain.Entry{}).Count(&n).Error)
	assert.Equal(t, int64(3), n)
}

func TestAppendInsideTransactionRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	err := e.db.Transaction(func(tx *gorm.DB) error {
		_, inserted, err := e.svc.Append(ctx, tx, ledgerdomain.AppendRequest{
			Email:      "a@example.com",
			SourceType: ledgerdomain.SourceTypeAdminManual,
			ResourceID: 1,
		})
		require.NoError(t, err)
		require.True(t, inserted)
		return gorm.ErrInvalidTransaction
	})
	require.ErrorIs(t, err, gorm.ErrInvalidTransaction)

	var n int64
	require.NoError(t, e.db.Model(&ledgerdomain.Entry{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.append(t, ledgerdomain.AppendRequest{Email: "alice@example.com", SourceType: ledgerdomain.SourceTypeRedemptionCode, SourceCode: "AAA-1", GrantedAt: t0.Add(-48 * time.Hour)})
	e.append(t, ledgerdomain.AppendRequest{Email: "bob@example.com", SourceType: ledgerdomain.SourceTypePayment, OrderNo: "ORD-7", GrantedAt: t0.Add(-time.Hour)})
	e.append(t, ledgerdomain.AppendRequest{Email: "alice@example.com", SourceType: ledgerdomain.SourceTypeAfterSales, ResourceID: 2})

	resp, err := e.svc.Query(ctx, ledgerdomain.QueryRequest{Filter: ledgerdomain.Filter{Email: "ALICE"}})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, ledgerdomain.SourceTypeAfterSales, resp.Entries[0].SourceType)

	resp, err = e.svc.Query(ctx, ledgerdomain.QueryRequest{Filter: ledgerdomain.Filter{SourceCode: "aaa"}})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)

	resp, err = e.svc.Query(ctx, ledgerdomain.QueryRequest{Filter: ledgerdomain.Filter{OrderNo: "ord-7", SourceType: ledgerdomain.SourceTypePayment}})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "bob@example.com", resp.Entries[0].Email)

	resp, err = e.svc.Query(ctx, ledgerdomain.QueryRequest{Filter: ledgerdomain.Filter{ResourceID: 2}})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)

	// 2026-04-13 is two local days back
	resp, err = e.svc.Query(ctx, ledgerdomain.QueryRequest{Filter: ledgerdomain.Filter{DateFrom: "2026-04-13", DateTo: "2026-04-13"}})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "AAA-1", *resp.Entries[0].SourceCode)

	page, err := e.svc.Query(ctx, ledgerdomain.QueryRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.True(t, page.PageInfo.HasMore)

	rest, err := e.svc.Query(ctx, ledgerdomain.QueryRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, rest.Entries, 1)
	assert.Equal(t, "AAA-1", *rest.Entries[0].SourceCode)
	assert.False(t, rest.PageInfo.HasMore)
}

func TestQueryRejectsBadFilters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Query(ctx, ledgerdomain.QueryRequest{Filter: ledgerdomain.Filter{DateFrom: "15/04/2026"}})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidDateRange)

	_, err = e.svc.Query(ctx, ledgerdomain.QueryRequest{Filter: ledgerdomain.Filter{DateFrom: "2026-04-16", DateTo: "2026-04-10"}})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidDateRange)

	_, err = e.svc.Query(ctx, ledgerdomain.QueryRequest{Filter: ledgerdomain.Filter{SourceType: "gift"}})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidSourceType)

	_, err = e.svc.Query(ctx, ledgerdomain.QueryRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestStatsWindowAtUsesLocalCalendar(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	window := StatsWindowAt(t0, loc)
	assert.Equal(t, time.Date(2026, 4, 14, 16, 0, 0, 0, time.UTC), window.Today)
	assert.Equal(t, time.Date(2026, 4, 12, 16, 0, 0, 0, time.UTC), window.Week)
	assert.Equal(t, time.Date(2026, 3, 31, 16, 0, 0, 0, time.UTC), window.Month)

	// Sunday belongs to the week that started on Monday
	sunday := time.Date(2026, 4, 19, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 12, 16, 0, 0, 0, time.UTC), StatsWindowAt(sunday, loc).Week)
}

func TestStatsCountsRollingWindows(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, at := range []time.Time{
		t0,
		t0.Add(-3 * time.Hour),
		t0.Add(-36 * time.Hour),
		t0.Add(-10 * 24 * time.Hour),
		t0.Add(-40 * 24 * time.Hour),
	} {
		e.append(t, ledgerdomain.AppendRequest{Email: "m@example.com", SourceType: ledgerdomain.SourceTypeAdminManual, GrantedAt: at})
	}

	stats, err := e.svc.Stats(ctx, ledgerdomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.Stats{Total: 5, Today: 2, Week: 3, Month: 4}, stats)

	stats, err = e.svc.Stats(ctx, ledgerdomain.Filter{Email: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.Stats{}, stats)
}

func TestAnchorIgnoresNonAnchoringGrants(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	code := e.append(t, ledgerdomain.AppendRequest{Email: "m@example.com", SourceType: ledgerdomain.SourceTypeRedemptionCode, SourceCode: "C-1", GrantedAt: t0.Add(-2 * time.Hour)})
	after := e.append(t, ledgerdomain.AppendRequest{Email: "m@example.com", SourceType: ledgerdomain.SourceTypeAfterSales, GrantedAt: t0.Add(-time.Hour)})

	anchor, err := e.svc.Anchor(ctx, ledgerdomain.Lookup{Email: "M@example.com"})
	require.NoError(t, err)
	require.NotNil(t, anchor)
	assert.Equal(t, code.ID, anchor.ID)

	latest, err := e.svc.Latest(ctx, ledgerdomain.Lookup{Email: "m@example.com"})
	require.NoError(t, err)
	assert.Equal(t, after.ID, latest.ID)

	byCode, err := e.svc.Anchor(ctx, ledgerdomain.Lookup{Email: "other@example.com", Code: "c-1"})
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, code.ID, byCode.ID)

	none, err := e.svc.Anchor(ctx, ledgerdomain.Lookup{Email: "stranger@example.com"})
	require.NoError(t, err)
	assert.Nil(t, none)

	history, err := e.svc.History(ctx, ledgerdomain.Lookup{Email: "m@example.com"}, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, after.ID, history[0].ID)
}

func TestHasNewerGrant(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	old := e.append(t, ledgerdomain.AppendRequest{Email: "m@example.com", SourceType: ledgerdomain.SourceTypeAdminManual, ResourceID: 5, GrantedAt: t0.Add(-time.Hour)})
	other := e.append(t, ledgerdomain.AppendRequest{Email: "m@example.com", SourceType: ledgerdomain.SourceTypeAdminManual, ResourceID: 6})

	newer, err := e.svc.HasNewerGrant(ctx, *old)
	require.NoError(t, err)
	assert.False(t, newer)

	e.append(t, ledgerdomain.AppendRequest{Email: "m@example.com", SourceType: ledgerdomain.SourceTypeAfterSales, ResourceID: 5})
	newer, err = e.svc.HasNewerGrant(ctx, *old)
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = e.svc.HasNewerGrant(ctx, *other)
	require.NoError(t, err)
	assert.False(t, newer)
}

func TestCleanupCandidatesRetryFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.append(t, ledgerdomain.AppendRequest{Email: "a@example.com", SourceType: ledgerdomain.SourceTypeAdminManual, GrantedAt: t0.Add(-40 * 24 * time.Hour)})
	second := e.append(t, ledgerdomain.AppendRequest{Email: "b@example.com", SourceType: ledgerdomain.SourceTypeAdminManual, GrantedAt: t0.Add(-31 * 24 * time.Hour)})
	e.append(t, ledgerdomain.AppendRequest{Email: "c@example.com", SourceType: ledgerdomain.SourceTypeAdminManual, GrantedAt: t0.Add(-time.Hour)})

	window := 30 * 24 * time.Hour
	items, err := e.svc.ListCleanupCandidates(ctx, window, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)

	require.NoError(t, e.svc.RecordCleanup(ctx, first.ID, ledgerdomain.CleanupDeleted, ""))
	require.NoError(t, e.svc.RecordCleanup(ctx, second.ID, ledgerdomain.CleanupFailed, "provider down"))

	items, err = e.svc.ListCleanupCandidates(ctx, window, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, second.ID, items[0].ID)

	require.NoError(t, e.svc.RecordCleanup(ctx, second.ID, ledgerdomain.CleanupRevoked, ""))
	items, err = e.svc.ListCleanupCandidates(ctx, window, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	var cleanup ledgerdomain.Cleanup
	require.NoError(t, e.db.Where("entry_id = ?", second.ID).First(&cleanup).Error)
	assert.Equal(t, 2, cleanup.Attempts)
	assert.Equal(t, ledgerdomain.CleanupRevoked, cleanup.Outcome)

	assert.ErrorIs(t, e.svc.RecordCleanup(ctx, first.ID, "gone", ""), ledgerdomain.ErrInvalidOutcome)
}

func TestHasGrantOn(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.append(t, ledgerdomain.AppendRequest{Email: "m@example.com", SourceType: ledgerdomain.SourceTypeAdminManual, ResourceID: 5})

	held, err := e.svc.HasGrantOn(ctx, " M@Example.com ", 5)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = e.svc.HasGrantOn(ctx, "m@example.com", 6)
	require.NoError(t, err)
	assert.False(t, held)
}
