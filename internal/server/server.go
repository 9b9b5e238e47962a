package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/seatbroker/internal/config"
	ledgerdomain "github.com/smallbiznis/seatbroker/internal/ledger/domain"
	"github.com/smallbiznis/seatbroker/internal/observability"
	obsmiddleware "github.com/smallbiznis/seatbroker/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/seatbroker/internal/observability/metrics"
	obstracing "github.com/smallbiznis/seatbroker/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/seatbroker/internal/payment/domain"
	"github.com/smallbiznis/seatbroker/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/seatbroker/internal/reconcile/domain"
	redemptiondomain "github.com/smallbiznis/seatbroker/internal/redemption/domain"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
	warrantydomain "github.com/smallbiznis/seatbroker/internal/warranty/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Params struct {
	fx.In

	Engine        *gin.Engine
	Cfg           config.Config
	Storefront    *config.StorefrontHolder
	Resources     resourcedomain.Service
	Codes         redemptiondomain.Service
	Payments      paymentdomain.Service
	Ledger        ledgerdomain.Service
	Warranty      warrantydomain.Service
	Reconcile     reconciledomain.Service
	PublicLimiter *ratelimit.PublicLimiter `optional:"true"`
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	storefront    *config.StorefrontHolder
	resourceSvc   resourcedomain.Service
	codeSvc       redemptiondomain.Service
	paymentSvc    paymentdomain.Service
	ledgerSvc     ledgerdomain.Service
	warrantySvc   warrantydomain.Service
	reconcileSvc  reconciledomain.Service
	publicLimiter *ratelimit.PublicLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		engine:        p.Engine,
		cfg:           p.Cfg,
		storefront:    p.Storefront,
		resourceSvc:   p.Resources,
		codeSvc:       p.Codes,
		paymentSvc:    p.Payments,
		ledgerSvc:     p.Ledger,
		warrantySvc:   p.Warranty,
		reconcileSvc:  p.Reconcile,
		publicLimiter: p.PublicLimiter,
	}
}

func (s *Server) RegisterRoutes() {
	s.RegisterPublicRoutes()
	s.RegisterAdminRoutes()
}

func (s *Server) RegisterPublicRoutes() {
	api := s.engine.Group("/api")

	// gateway callbacks are signed and must never be throttled
	api.GET("/payment/notify", s.HandlePaymentNotify)
	api.POST("/payment/notify", s.HandlePaymentNotify)

	public := api.Group("", s.PublicRateLimit())
	public.GET("/stock", s.GetStock)
	public.POST("/redeem", s.Redeem)
	public.POST("/payment/orders", s.CreateOrder)
	public.GET("/payment/orders", s.ListOrdersByEmail)
	public.GET("/payment/orders/:order_no", s.GetOrderStatus)
	public.POST("/warranty/check", s.CheckWarranty)
	public.POST("/warranty/validate", s.ValidateWarrantyReuse)
	public.POST("/warranty/reinvite", s.ReinviteWarranty)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminRequired())

	admin.GET("/resources", s.ListResources)
	admin.POST("/resources", s.ImportResource)
	admin.POST("/resources/batch", s.ImportResources)
	admin.GET("/resources/:id", s.GetResource)
	admin.PATCH("/resources/:id", s.UpdateResource)
	admin.DELETE("/resources/:id", s.DeleteResource)

	admin.GET("/codes", s.ListCodes)
	admin.POST("/codes", s.GenerateCodes)
	admin.PATCH("/codes", s.BulkUpdateCodes)
	admin.GET("/codes/:code", s.GetCode)
	admin.PATCH("/codes/:code", s.UpdateCode)
	admin.DELETE("/codes/:code", s.DeleteCode)

	admin.GET("/orders", s.ListOrders)
	admin.POST("/orders/:order_no/redeem", s.ManualRedeemOrder)
	admin.POST("/orders/:order_no/fail", s.MarkOrderFailed)

	admin.GET("/grants", s.QueryGrants)
	admin.GET("/grants/stats", s.GrantStats)

	admin.POST("/reconcile/sync", s.TriggerSync)
	admin.POST("/reconcile/cleanup", s.TriggerCleanup)
	admin.GET("/reconcile/runs", s.ListReconcileRuns)
}
