package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/seatbroker/internal/payment/domain"
	reconciledomain "github.com/smallbiznis/seatbroker/internal/reconcile/domain"
	redemptiondomain "github.com/smallbiznis/seatbroker/internal/redemption/domain"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const legacyRedemptionTable = "redemption_records"

// RunMigrations applies the embedded SQL migrations to a postgres database.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. Used for sqlite and mysql.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(
		&resourcedomain.Resource{},
		&ledgerdomain.Entry{},
		&ledgerdomain.Cleanup{},
		&redemptiondomain.Code{},
		&paymentdomain.Order{},
		&reconciledomain.Run{},
	)
}

type legacyRedemption struct {
	Email      string
	Code       string
	ResourceID snowflake.ID
	RedeemedAt time.Time
}

type redeemedOrder struct {
	Email      string
	OrderNo    string
	ResourceID snowflake.ID
	RedeemedAt *time.Time
	PaidAt     *time.Time
	CreatedAt  time.Time
}

func (o redeemedOrder) grantedAt() time.Time {
	switch {
	case o.RedeemedAt != nil:
		return o.RedeemedAt.UTC()
	case o.PaidAt != nil:
		return o.PaidAt.UTC()
	default:
		return o.CreatedAt.UTC()
	}
}

// Backfill copies grants recorded before the ledger existed into it. Rows
// already present in the ledger are skipped, so it is safe to run on every start.
func Backfill(ctx context.Context, db *gorm.DB, genID *snowflake.Node, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	now := time.Now().UTC()
	total := 0

	if db.Migrator().HasTable(legacyRedemptionTable) {
		var rows []legacyRedemption
		err := db.WithContext(ctx).Raw(`
			SELECT rr.email, rr.code, rr.resource_id, rr.redeemed_at
			FROM redemption_records rr
			LEFT JOIN grant_ledger gl
				ON gl.source_type = ?
				AND gl.source_code = UPPER(TRIM(rr.code))
				AND gl.email = LOWER(TRIM(rr.email))
				AND gl.resource_id = rr.resource_id
			WHERE gl.id IS NULL AND rr.resource_id IS NOT NULL
		`, ledgerdomain.SourceTypeRedemptionCode).Scan(&rows).Error
		if err != nil {
			return total, fmt.Errorf("scan legacy redemptions: %w", err)
		}

		entries := make([]ledgerdomain.Entry, 0, len(rows))
		for _, row := range rows {
			code := ledgerdomain.NormalizeCode(row.Code)
			entries = append(entries, ledgerdomain.Entry{
				ID:         genID.Generate(),
				Email:      ledgerdomain.NormalizeEmail(row.Email),
				SourceType: ledgerdomain.SourceTypeRedemptionCode,
				SourceCode: &code,
				ResourceID: row.ResourceID,
				GrantedAt:  row.RedeemedAt.UTC(),
				CreatedAt:  now,
			})
		}
		n, err := insertEntries(ctx, db, entries)
		if err != nil {
			return total, fmt.Errorf("backfill legacy redemptions: %w", err)
		}
		total += n
	}

	var orders []redeemedOrder
	err := db.WithContext(ctx).Raw(`
		SELECT po.email, po.order_no, po.resource_id, po.redeemed_at, po.paid_at, po.created_at
		FROM payment_orders po
		LEFT JOIN grant_ledger gl
			ON gl.source_type = ?
			AND gl.order_no = po.order_no
		WHERE po.status = ? AND po.resource_id IS NOT NULL AND gl.id IS NULL
	`, ledgerdomain.SourceTypePayment, paymentdomain.StatusRedeemed).Scan(&orders).Error
	if err != nil {
		return total, fmt.Errorf("scan redeemed orders: %w", err)
	}

	entries := make([]ledgerdomain.Entry, 0, len(orders))
	for _, row := range orders {
		orderNo := row.OrderNo
		entries = append(entries, ledgerdomain.Entry{
			ID:         genID.Generate(),
			Email:      ledgerdomain.NormalizeEmail(row.Email),
			SourceType: ledgerdomain.SourceTypePayment,
			OrderNo:    &orderNo,
			ResourceID: row.ResourceID,
			GrantedAt:  row.grantedAt(),
			CreatedAt:  now,
		})
	}
	n, err := insertEntries(ctx, db, entries)
	if err != nil {
		return total, fmt.Errorf("backfill redeemed orders: %w", err)
	}
	total += n

	if total > 0 {
		log.Info("grant ledger backfilled", zap.Int("entries", total))
	}
	return total, nil
}

func insertEntries(ctx context.Context, db *gorm.DB, entries []ledgerdomain.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(entries, 200)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
