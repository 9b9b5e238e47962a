package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	grantdomain "github.com/smallbiznis/seatbroker/internal/grant/domain"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	"github.com/smallbiznis/seatbroker/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/seatbroker/internal/observability/metrics"
	"github.com/smallbiznis/seatbroker/internal/payment/adapters/epay"
	paymentdomain "github.com/smallbiznis/seatbroker/internal/payment/domain"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	"github.com/smallbiznis/seatbroker/pkg/db/pagination"
	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Storefront *config.StorefrontHolder
	Repo       paymentdomain.Repository
	Resources  resourcedomain.Service
	Selector   grantdomain.Selector
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.PaymentConfig
	storefront *config.StorefrontHolder
	repo       paymentdomain.Repository
	resources  resourcedomain.Service
	selector   grantdomain.Selector
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg.Payment,
		storefront: p.Storefront,
		repo:       p.Repo,
		resources:  p.Resources,
		selector:   p.Selector,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) adapter() (*epay.Adapter, error) {
	a, err := epay.NewAdapter(s.cfg.MerchantID, s.cfg.Key, s.cfg.GatewayURL, s.cfg.Sitename)
	if err != nil {
		return nil, paymentdomain.ErrNotConfigured
	}
	return a, nil
}

func (s *Service) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (paymentdomain.CreateOrderResponse, error) {
	adapter, err := s.adapter()
	if err != nil {
		return paymentdomain.CreateOrderResponse{}, err
	}
	if s.cfg.NotifyURL == "" {
		return paymentdomain.CreateOrderResponse{}, paymentdomain.ErrNotConfigured
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return paymentdomain.CreateOrderResponse{}, paymentdomain.ErrInvalidEmail
	}
	payType := strings.ToLower(strings.TrimSpace(req.PayType))
	if payType == "" {
		payType = s.cfg.PayType
	}
	if !slices.Contains(paymentdomain.PayTypes, payType) {
		return paymentdomain.CreateOrderResponse{}, paymentdomain.ErrInvalidPayType
	}

	storefront := config.DefaultStorefrontConfig()
	if s.storefront != nil {
		storefront = s.storefront.Get()
	}
	amount := storefront.Amount()
	if !amount.IsPositive() {
		return paymentdomain.CreateOrderResponse{}, paymentdomain.ErrInvalidPrice
	}

	stock, err := s.resources.Stock(ctx)
	if err != nil {
		return paymentdomain.CreateOrderResponse{}, err
	}
	if stock.Available <= 0 {
		return paymentdomain.CreateOrderResponse{}, paymentdomain.ErrSoldOut
	}

	now := s.clock.Now()
	orderNo, err := newOrderNo(now)
	if err != nil {
		return paymentdomain.CreateOrderResponse{}, err
	}

	order := &paymentdomain.Order{
		ID:            s.genID.Generate(),
		OrderNo:       orderNo,
		Status:        paymentdomain.StatusPending,
		Email:         email,
		Amount:        amount,
		PayType:       payType,
		ProductName:   storefront.ProductName,
		NotifyPayload: datatypes.JSON("{}"),
		ExpiresAt:     now.Add(s.cfg.OrderTimeout),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return paymentdomain.CreateOrderResponse{}, err
	}

	payURL := adapter.PayURL(epay.PayRequest{
		OrderNo:   orderNo,
		Name:      storefront.ProductName,
		Money:     amount.StringFixed(2),
		PayType:   payType,
		NotifyURL: s.cfg.NotifyURL,
		ReturnURL: returnURL(s.cfg.ReturnURL, orderNo),
	})

	logger.WithContext(ctx, s.log).Info("order created",
		zap.String("order_no", orderNo),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("pay_type", payType),
	)
	return paymentdomain.CreateOrderResponse{Order: order, PayURL: payURL}, nil
}

func (s *Service) GetStatus(ctx context.Context, orderNo string) (*paymentdomain.Order, error) {
	order, err := s.find(ctx, s.db, orderNo)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if order.Expirable(now) {
		ok, err := s.repo.Transition(ctx, s.db, order.OrderNo,
			[]paymentdomain.Status{paymentdomain.StatusPending},
			paymentdomain.StatusExpired,
			map[string]any{"updated_at": now},
		)
		if err != nil {
			return nil, err
		}
		if ok {
			s.log.Info("order expired", zap.String("order_no", order.OrderNo))
		}
		return s.find(ctx, s.db, order.OrderNo)
	}
	return order, nil
}

func (s *Service) ListByEmail(ctx context.Context, email string) ([]paymentdomain.Order, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, paymentdomain.ErrInvalidEmail
	}
	items, err := s.repo.ListByEmail(ctx, s.db, normalized, paymentdomain.RecentOrdersLimit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []paymentdomain.Order{}
	}
	return items, nil
}

func (s *Service) ListOrders(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.ListResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return paymentdomain.ListResponse{}, paymentdomain.ErrInvalidStatus
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return paymentdomain.ListResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, req.Status, req.Email, cursor, limit)
	if err != nil {
		return paymentdomain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(o paymentdomain.Order) pagination.Cursor {
		return pagination.Cursor{ID: o.ID.String()}
	})
	if items == nil {
		items = []paymentdomain.Order{}
	}
	return paymentdomain.ListResponse{Orders: items, PageInfo: pageInfo}, nil
}

func (s *Service) HandleNotification(ctx context.Context, n paymentdomain.Notification) error {
	err := s.handleNotification(ctx, n)
	outcome := "accepted"
	switch {
	case errors.Is(err, paymentdomain.ErrDuplicateEvent):
		outcome = "duplicate"
		err = nil
	case err != nil:
		outcome = errkind.CodeOf(err)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, epay.Provider, outcome)
	}
	return err
}

func (s *Service) handleNotification(ctx context.Context, n paymentdomain.Notification) error {
	log := logger.WithContext(ctx, s.log).With(zap.String("order_no", n.OutTradeNo))

	adapter, err := s.adapter()
	if err != nil {
		log.Error("notification received but payment is not configured")
		return err
	}
	if n.TradeStatus != epay.TradeStatusSuccess {
		log.Info("ignoring notification", zap.String("trade_status", n.TradeStatus))
		return paymentdomain.ErrTradeNotSucceeded
	}
	if err := adapter.Verify(n.Notification); err != nil {
		log.Warn("notification signature mismatch")
		return err
	}
	if n.OutTradeNo == "" {
		return paymentdomain.ErrMissingOrderNo
	}

	order, err := s.find(ctx, s.db, n.OutTradeNo)
	if err != nil {
		return err
	}

	switch order.Status {
	case paymentdomain.StatusPaid, paymentdomain.StatusRedeemed:
		log.Info("notification already processed", zap.String("status", string(order.Status)))
		return paymentdomain.ErrDuplicateEvent
	case paymentdomain.StatusPending:
	default:
		log.Warn("notification for order in terminal state", zap.String("status", string(order.Status)))
		return paymentdomain.ErrStaleOrder
	}

	money, err := decimal.NewFromString(n.Money)
	if err != nil || !money.Equal(order.Amount) {
		log.Warn("notification amount mismatch",
			zap.String("expected", order.Amount.StringFixed(2)),
			zap.String("received", n.Money),
		)
		return paymentdomain.ErrAmountMismatch
	}

	now := s.clock.Now()
	ok, err := s.repo.Transition(ctx, s.db, order.OrderNo,
		[]paymentdomain.Status{paymentdomain.StatusPending},
		paymentdomain.StatusPaid,
		map[string]any{
			"trade_no":       n.TradeNo,
			"paid_at":        now,
			"notify_payload": paymentdomain.PayloadFromRaw(rawFields(n)),
			"updated_at":     now,
		},
	)
	if err != nil {
		return err
	}
	if !ok {
		current, err := s.find(ctx, s.db, order.OrderNo)
		if err != nil {
			return err
		}
		if current.Status == paymentdomain.StatusPaid || current.Status == paymentdomain.StatusRedeemed {
			return paymentdomain.ErrDuplicateEvent
		}
		return paymentdomain.ErrStaleOrder
	}
	log.Info("order paid", zap.String("trade_no", n.TradeNo))

	if _, err := s.redeem(ctx, order); err != nil {
		log.Warn("grant after payment failed, order left paid", zap.Error(err))
	}
	return nil
}

func (s *Service) ManualRedeem(ctx context.Context, orderNo string) (*paymentdomain.Order, error) {
	order, err := s.find(ctx, s.db, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != paymentdomain.StatusPaid {
		return nil, paymentdomain.ErrStaleOrder
	}
	return s.redeem(ctx, order)
}

func (s *Service) MarkFailed(ctx context.Context, orderNo string, reason string) (*paymentdomain.Order, error) {
	order, err := s.find(ctx, s.db, orderNo)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	ok, err := s.repo.Transition(ctx, s.db, order.OrderNo,
		[]paymentdomain.Status{paymentdomain.StatusPending, paymentdomain.StatusPaid},
		paymentdomain.StatusFailed,
		map[string]any{"failure_reason": strings.TrimSpace(reason), "updated_at": now},
	)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, paymentdomain.ErrStaleOrder
	}
	return s.find(ctx, s.db, order.OrderNo)
}

// redeem grants the seat for a paid order and moves it to redeemed in the
// same transaction. On failure the order stays paid with the reason recorded.
func (s *Service) redeem(ctx context.Context, order *paymentdomain.Order) (*paymentdomain.Order, error) {
	_, err := s.selector.SelectAndGrant(ctx, grantdomain.Request{
		Email:      order.Email,
		SourceType: ledgerdomain.SourceTypePayment,
		OrderNo:    order.OrderNo,
		Finalize: func(ctx context.Context, tx *gorm.DB, result grantdomain.Result) error {
			ok, err := s.repo.Transition(ctx, tx, order.OrderNo,
				[]paymentdomain.Status{paymentdomain.StatusPaid},
				paymentdomain.StatusRedeemed,
				map[string]any{
					"resource_id":    result.Resource.ID,
					"redeemed_at":    result.Entry.GrantedAt,
					"failure_reason": "",
					"updated_at":     s.clock.Now(),
				},
			)
			if err != nil {
				return err
			}
			if !ok {
				return paymentdomain.ErrStaleOrder
			}
			return nil
		},
	})
	if err != nil {
		if reasonErr := s.repo.SetFailureReason(ctx, s.db, order.OrderNo, errkind.CodeOf(err), s.clock.Now()); reasonErr != nil {
			s.log.Error("record order failure reason", zap.String("order_no", order.OrderNo), zap.Error(reasonErr))
		}
		return nil, err
	}

	s.log.Info("order redeemed", zap.String("order_no", order.OrderNo))
	return s.find(ctx, s.db, order.OrderNo)
}

func (s *Service) find(ctx context.Context, db *gorm.DB, orderNo string) (*paymentdomain.Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, paymentdomain.ErrMissingOrderNo
	}
	order, err := s.repo.FindByOrderNo(ctx, db, orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return order, nil
}

// newOrderNo is the millisecond timestamp followed by 8 upper hex characters.
func newOrderNo(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%s", now.UnixMilli(), strings.ToUpper(hex.EncodeToString(buf))), nil
}

func returnURL(base, orderNo string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "payment_success=1&order_no=" + url.QueryEscape(orderNo)
}

func rawFields(n paymentdomain.Notification) map[string]string {
	if len(n.Raw) > 0 {
		return n.Raw
	}
	raw := map[string]string{}
	for k, v := range n.Values() {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}
	return raw
}
