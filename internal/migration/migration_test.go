package migration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/seatbroker/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var dbSeq int64

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:migration_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir(migrationsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBackfillLegacyAndRedeemedOrders(t *testing.T) {
	db := openDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()
	grantedAt := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, db.Exec(`CREATE TABLE redemption_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL,
		code TEXT NOT NULL,
		resource_id BIGINT,
		redeemed_at DATETIME NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO redemption_records (email, code, resource_id, redeemed_at) VALUES (?, ?, ?, ?), (?, ?, NULL, ?)`,
		"Legacy@Example.com", " oldcode1 ", 42, grantedAt,
		"orphan@example.com", "OLDCODE2", grantedAt,
	).Error)

	resourceID := snowflake.ID(7)
	redeemedAt := grantedAt.Add(time.Hour)
	require.NoError(t, db.Create(&paymentdomain.Order{
		ID:            node.Generate(),
		OrderNo:       "1700000000000ABCDEF01",
		Status:        paymentdomain.StatusRedeemed,
		Email:         "buyer@example.com",
		Amount:        decimal.RequireFromString("9.90"),
		PayType:       "alipay",
		NotifyPayload: datatypes.JSON(`{}`),
		ResourceID:    &resourceID,
		ExpiresAt:     grantedAt,
		RedeemedAt:    &redeemedAt,
		CreatedAt:     grantedAt,
		UpdatedAt:     grantedAt,
	}).Error)

	n, err := Backfill(ctx, db, node, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var entries []ledgerdomain.Entry
	require.NoError(t, db.Order("source_type ASC").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, ledgerdomain.SourceTypePayment, entries[0].SourceType)
	assert.Equal(t, "1700000000000ABCDEF01", *entries[0].OrderNo)
	assert.True(t, redeemedAt.Equal(entries[0].GrantedAt))
	assert.Equal(t, ledgerdomain.SourceTypeRedemptionCode, entries[1].SourceType)
	assert.Equal(t, "legacy@example.com", entries[1].Email)
	require.NotNil(t, entries[1].SourceCode)
	assert.Equal(t, "OLDCODE1", *entries[1].SourceCode)
	assert.Equal(t, snowflake.ID(42), entries[1].ResourceID)

	n, err = Backfill(ctx, db, node, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n)
}
