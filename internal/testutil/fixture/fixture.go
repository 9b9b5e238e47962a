// Package fixture wires the grant stack over an in-memory database with a
// fake membership provider and a controllable clock.
package fixture

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	"github.com/smallbiznis/seatbroker/internal/credential"
	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	grantservice "github.com/smallbiznis/seatbroker/internal/grant/service"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/seatbroker/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/seatbroker/internal/ledger/service"
	"github.com/smallbiznis/seatbroker/internal/membership/fake"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	resourcerepo "github.com/smallbiznis/seatbroker/internal/resource/repository"
	resourceservice "github.com/smallbiznis/seatbroker/internal/resource/service"
	"github.com/smallbiznis/seatbroker/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const credentialSecret = "fixture-credential-secret"

type Stack struct {
	DB         *gorm.DB
	Log        *zap.Logger
	Node       *snowflake.Node
	Clock      *clock.FakeClock
	Cfg        config.Config
	Storefront *config.StorefrontHolder
	Cipher     credential.Cipher
	Provider   *fake.Provider

	ResourceRepo resourcedomain.Repository
	Resources    resourcedomain.Service
	LedgerRepo   ledgerdomain.Repository
	Ledger       ledgerdomain.Service
	Selector     grantdomain.Selector
}

// Config is the baseline configuration used by New.
func Config() config.Config {
	return config.Config{
		AppName:     "seatbroker",
		Environment: "test",
		Timezone:    "UTC",
		Payment: config.PaymentConfig{
			MerchantID:   "1001",
			Key:          "fixture-epay-key",
			GatewayURL:   "https://pay.example.com",
			NotifyURL:    "https://shop.example.com/api/payment/notify",
			ReturnURL:    "https://shop.example.com/",
			Sitename:     "Seat Shop",
			PayType:      "alipay",
			OrderTimeout: 30 * time.Minute,
		},
		Membership: config.MembershipConfig{CredentialSecret: credentialSecret},
		Warranty: config.WarrantyConfig{
			QueryInterval: 30 * time.Second,
			WindowDays:    30,
		},
		Reconcile: config.ReconcileConfig{
			SyncEnabled:    true,
			SyncMinMinutes: 5,
			SyncMaxMinutes: 10,
			ErrorThreshold: 3,
			CleanupEnabled: true,
			CleanupDays:    30,
			ShutdownGrace:  time.Second,
		},
	}
}

// New builds the stack with the clock set to now.
func New(t testing.TB, now time.Time) *Stack {
	t.Helper()

	db := testutil.OpenTestDB(t)
	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	cipher, err := credential.NewAESCipher(credentialSecret)
	require.NoError(t, err)

	s := &Stack{
		DB:           db,
		Log:          log,
		Node:         node,
		Clock:        clock.NewFakeClock(now.UTC()),
		Cfg:          Config(),
		Storefront:   config.NewStaticStorefrontHolder(config.DefaultStorefrontConfig()),
		Cipher:       cipher,
		Provider:     fake.NewProvider(),
		ResourceRepo: resourcerepo.Provide(),
		LedgerRepo:   ledgerrepo.Provide(),
	}

	s.Resources = resourceservice.New(resourceservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  s.Clock,
		Cipher: cipher,
		Repo:   s.ResourceRepo,
	})
	s.Ledger = ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: s.Clock,
		Cfg:   s.Cfg,
		Repo:  s.LedgerRepo,
	})
	s.Selector = grantservice.NewSelector(grantservice.Params{
		DB:           db,
		Log:          log,
		Clock:        s.Clock,
		Storefront:   s.Storefront,
		Resources:    s.Resources,
		ResourceRepo: s.ResourceRepo,
		Ledger:       s.Ledger,
		Provider:     s.Provider,
	})
	return s
}

// AddResource imports an active resource with the given seat count.
func (s *Stack) AddResource(t testing.TB, accountID string, capacity int, expiresAt *time.Time) *resourcedomain.Resource {
	t.Helper()
	res, created, err := s.Resources.UpsertFromImport(context.Background(), resourcedomain.ImportRequest{
		Name:        accountID,
		AccountID:   accountID,
		Credential:  "token-" + accountID,
		MaxCapacity: capacity,
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)
	require.True(t, created)
	return res
}

// Resource reloads a resource from the database.
func (s *Stack) Resource(t testing.TB, id snowflake.ID) *resourcedomain.Resource {
	t.Helper()
	res, err := s.Resources.GetByID(context.Background(), id)
	require.NoError(t, err)
	return res
}

// CountEntries counts ledger rows.
func (s *Stack) CountEntries(t testing.TB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB.Model(&ledgerdomain.Entry{}).Count(&n).Error)
	return n
}
