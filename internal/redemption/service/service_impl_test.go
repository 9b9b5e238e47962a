package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	"github.com/smallbiznis/seatbroker/internal/redemption/domain"
	"github.com/smallbiznis/seatbroker/internal/redemption/repository"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func newCodes(t *testing.T) (*fixture.Stack, domain.Service) {
	t.Helper()
	stack := fixture.New(t, t0)
	svc := New(Params{
		DB:       stack.DB,
		Log:      stack.Log,
		GenID:    stack.Node,
		Clock:    stack.Clock,
		Repo:     repository.Provide(),
		Selector: stack.Selector,
	})
	return stack, svc
}

func custom(t *testing.T, svc domain.Service, req domain.GenerateRequest) domain.Code {
	t.Helper()
	codes, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	return codes[0]
}

func TestGenerateCustomCode(t *testing.T) {
	_, svc := newCodes(t)
	ctx := context.Background()

	code := custom(t, svc, domain.GenerateRequest{Custom: " vip-2026 ", ExpiresDays: 7, HasWarranty: true})
	assert.Equal(t, "VIP-2026", code.Code)
	assert.Equal(t, domain.StatusUnused, code.Status)
	assert.Equal(t, domain.DefaultWarrantyDays, code.WarrantyDays)
	require.NotNil(t, code.ExpiresAt)
	assert.Equal(t, t0.AddDate(0, 0, 7), *code.ExpiresAt)

	_, err := svc.Generate(ctx, domain.GenerateRequest{Custom: "vip-2026"})
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	_, err = svc.Generate(ctx, domain.GenerateRequest{Custom: "no spaces"})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestGenerateRandomBatch(t *testing.T) {
	_, svc := newCodes(t)
	ctx := context.Background()

	codes, err := svc.Generate(ctx, domain.GenerateRequest{Count: 25, WarrantyDays: 90})
	require.NoError(t, err)
	require.Len(t, codes, 25)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Len(t, c.Code, randomCodeLength)
		assert.Nil(t, c.ExpiresAt)
		assert.Equal(t, 90, c.WarrantyDays)
		assert.False(t, seen[c.Code], "duplicate code %s", c.Code)
		seen[c.Code] = true
	}

	cases := []struct {
		name string
		req  domain.GenerateRequest
		want error
	}{
		{"zero", domain.GenerateRequest{}, domain.ErrInvalidCount},
		{"too many", domain.GenerateRequest{Count: domain.MaxBatch + 1}, domain.ErrInvalidCount},
		{"negative expiry", domain.GenerateRequest{Count: 1, ExpiresDays: -1}, domain.ErrInvalidExpiry},
		{"negative warranty", domain.GenerateRequest{Count: 1, WarrantyDays: -3}, domain.ErrInvalidWarranty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Generate(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateExpiresOnRead(t *testing.T) {
	stack, svc := newCodes(t)
	ctx := context.Background()
	custom(t, svc, domain.GenerateRequest{Custom: "SHORT-1", ExpiresDays: 1})

	got, err := svc.Validate(ctx, "short-1")
	require.NoError(t, err)
	assert.Equal(t, "SHORT-1", got.Code)

	stack.Clock.Advance(24 * time.Hour)
	_, err = svc.Validate(ctx, "SHORT-1")
	assert.ErrorIs(t, err, domain.ErrExpired)

	stored, err := svc.Get(ctx, "SHORT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)

	_, err = svc.Validate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Validate(ctx, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestRedeemMarksCodeUsed(t *testing.T) {
	stack, svc := newCodes(t)
	ctx := context.Background()
	res := stack.AddResource(t, "acct", 5, nil)
	custom(t, svc, domain.GenerateRequest{Custom: "WELCOME"})

	result, err := svc.Redeem(ctx, domain.RedeemRequest{Code: "welcome", Email: "Member@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, res.ID, result.Resource.ID)
	assert.Equal(t, domain.StatusUsed, result.Code.Status)
	require.NotNil(t, result.Code.UsedBy)
	assert.Equal(t, "member@example.com", *result.Code.UsedBy)
	require.NotNil(t, result.Code.ResourceID)
	assert.Equal(t, res.ID, *result.Code.ResourceID)
	assert.Equal(t, t0, result.GrantedAt)

	var entry ledgerdomain.Entry
	require.NoError(t, stack.DB.First(&entry, "id = ?", result.EntryID).Error)
	assert.Equal(t, ledgerdomain.SourceTypeRedemptionCode, entry.SourceType)
	require.NotNil(t, entry.SourceCode)
	assert.Equal(t, "WELCOME", *entry.SourceCode)

	_, err = svc.Redeem(ctx, domain.RedeemRequest{Code: "WELCOME", Email: "other@example.com"})
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)
	assert.Equal(t, 1, stack.Resource(t, res.ID).CurrentOccupancy)
}

func TestRedeemWithoutCapacityLeavesCodeUnused(t *testing.T) {
	stack, svc := newCodes(t)
	ctx := context.Background()
	custom(t, svc, domain.GenerateRequest{Custom: "EMPTY-1"})

	_, err := svc.Redeem(ctx, domain.RedeemRequest{Code: "EMPTY-1", Email: "m@example.com"})
	assert.ErrorIs(t, err, grantdomain.ErrNoCapacityAvailable)

	code, err := svc.Get(ctx, "EMPTY-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnused, code.Status)
	assert.Nil(t, code.UsedBy)
	assert.Zero(t, stack.CountEntries(t))

	_, err = svc.Redeem(ctx, domain.RedeemRequest{Code: "EMPTY-1", Email: "bad"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
}

func TestRedeemIsSingleUseUnderConcurrency(t *testing.T) {
	stack, svc := newCodes(t)
	res := stack.AddResource(t, "acct", 10, nil)
	custom(t, svc, domain.GenerateRequest{Custom: "RACE-1"})

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(), domain.RedeemRequest{
				Code:  "RACE-1",
				Email: fmt.Sprintf("m%d@example.com", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, domain.ErrAlreadyUsed):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, workers-1, losers)
	assert.Equal(t, 1, stack.Resource(t, res.ID).CurrentOccupancy)
	assert.Equal(t, int64(1), stack.CountEntries(t))
}

func TestUpdateResetClearsRedemption(t *testing.T) {
	stack, svc := newCodes(t)
	ctx := context.Background()
	stack.AddResource(t, "acct", 5, nil)
	custom(t, svc, domain.GenerateRequest{Custom: "RESET-1", ExpiresDays: 3})
	_, err := svc.Redeem(ctx, domain.RedeemRequest{Code: "RESET-1", Email: "m@example.com"})
	require.NoError(t, err)

	unused := domain.StatusUnused
	days := 60
	got, err := svc.Update(ctx, "reset-1", domain.UpdateRequest{Status: &unused, ClearExpiry: true, WarrantyDays: &days})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnused, got.Status)
	assert.Nil(t, got.UsedBy)
	assert.Nil(t, got.UsedAt)
	assert.Nil(t, got.ResourceID)
	assert.Nil(t, got.ExpiresAt)
	assert.Equal(t, 60, got.WarrantyDays)

	bad := domain.Status("lost")
	_, err = svc.Update(ctx, "RESET-1", domain.UpdateRequest{Status: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = svc.Update(ctx, "NOPE", domain.UpdateRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBulkUpdateSkipsMissingCodes(t *testing.T) {
	_, svc := newCodes(t)
	ctx := context.Background()
	custom(t, svc, domain.GenerateRequest{Custom: "BULK-1"})
	custom(t, svc, domain.GenerateRequest{Custom: "BULK-2"})

	warranty := true
	n, err := svc.BulkUpdate(ctx, domain.BulkUpdateRequest{
		Codes:         []string{"bulk-1", "BULK-2", "MISSING"},
		UpdateRequest: domain.UpdateRequest{HasWarranty: &warranty},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	code, err := svc.Get(ctx, "BULK-2")
	require.NoError(t, err)
	assert.True(t, code.HasWarranty)

	_, err = svc.BulkUpdate(ctx, domain.BulkUpdateRequest{})
	assert.ErrorIs(t, err, domain.ErrEmptyBulkSelector)
}

func TestExpireSweepAndDelete(t *testing.T) {
	stack, svc := newCodes(t)
	ctx := context.Background()
	custom(t, svc, domain.GenerateRequest{Custom: "SWEEP-1", ExpiresDays: 1})
	custom(t, svc, domain.GenerateRequest{Custom: "SWEEP-2", ExpiresDays: 10})
	custom(t, svc, domain.GenerateRequest{Custom: "SWEEP-3"})

	stack.Clock.Advance(48 * time.Hour)
	n, err := svc.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := svc.List(ctx, domain.ListRequest{Status: domain.StatusExpired})
	require.NoError(t, err)
	require.Len(t, list.Codes, 1)
	assert.Equal(t, "SWEEP-1", list.Codes[0].Code)

	list, err = svc.List(ctx, domain.ListRequest{Search: "sweep"})
	require.NoError(t, err)
	assert.Len(t, list.Codes, 3)

	require.NoError(t, svc.Delete(ctx, "sweep-3"))
	assert.ErrorIs(t, svc.Delete(ctx, "SWEEP-3"), domain.ErrNotFound)
}

func TestRedeemSkipsParkedResources(t *testing.T) {
	stack, svc := newCodes(t)
	ctx := context.Background()
	parked := stack.AddResource(t, "parked", 5, nil)
	_, err := stack.Resources.SetStatus(ctx, parked.ID, resourcedomain.StatusBanned)
	require.NoError(t, err)
	open := stack.AddResource(t, "open", 5, nil)
	custom(t, svc, domain.GenerateRequest{Custom: "PARK-1"})

	result, err := svc.Redeem(ctx, domain.RedeemRequest{Code: "PARK-1", Email: "m@example.com"})
	require.NoError(t, err)
	assert.Equal(t, open.ID, result.Resource.ID)
}
