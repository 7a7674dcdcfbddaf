package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/classbill/classbill/internal/balance/domain"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/internal/clock"
	"github.com/classbill/classbill/internal/config"
	feedomain "github.com/classbill/classbill/internal/fee/domain"
	invoicedomain "github.com/classbill/classbill/internal/invoice/domain"
	paymentdomain "github.com/classbill/classbill/internal/payment/domain"
	recondomain "github.com/classbill/classbill/internal/reconciliation/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger
	clock  clock.Clock

	feeSvc     feedomain.Service
	chargeSvc  chargedomain.Service
	invoiceSvc invoicedomain.Service
	paymentSvc paymentdomain.Service
	balanceSvc balancedomain.Service
	reconSvc   recondomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	FeeSvc     feedomain.Service
	ChargeSvc  chargedomain.Service
	InvoiceSvc invoicedomain.Service
	PaymentSvc paymentdomain.Service
	BalanceSvc balancedomain.Service
	ReconSvc   recondomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		log:    p.Log.Named("http"),
		clock:  p.Clock,

		feeSvc:     p.FeeSvc,
		chargeSvc:  p.ChargeSvc,
		invoiceSvc: p.InvoiceSvc,
		paymentSvc: p.PaymentSvc,
		balanceSvc: p.BalanceSvc,
		reconSvc:   p.ReconSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")
	school := api.Group("/schools/:school_id")

	school.POST("/fees", s.CreateFee)
	school.GET("/fees", s.ListFees)
	school.GET("/fees/:fee_id", s.GetFee)
	school.PATCH("/fees/:fee_id", s.UpdateFee)
	school.DELETE("/fees/:fee_id", s.DeleteFee)

	school.POST("/charges", s.CreateCharge)
	school.GET("/charges/:charge_id", s.GetCharge)
	school.PATCH("/charges/:charge_id", s.UpdateCharge)
	school.DELETE("/charges/:charge_id", s.DeleteCharge)
	school.GET("/students/:student_id/charges", s.ListStudentCharges)

	school.POST("/invoices/generate", s.GenerateInvoice)
	school.POST("/invoices/generate-school", s.GenerateSchoolInvoices)
	school.GET("/invoices/:invoice_id", s.GetInvoice)
	school.GET("/invoices/:invoice_id/payments", s.ListInvoicePayments)
	school.GET("/students/:student_id/invoices", s.ListStudentInvoices)

	school.POST("/payments", s.ApplyPayment)
	school.GET("/payments/:payment_id", s.GetPayment)

	school.GET("/students/:student_id/balance", s.GetStudentBalance)

	school.POST("/reconciliation/runs", s.CreateReconciliationRun)
	school.GET("/reconciliation/runs", s.ListReconciliationRuns)
	school.GET("/reconciliation/runs/:run_id", s.GetReconciliationRun)
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		AbortWithError(c, apperr.Validation("Invalid "+name))
		return 0, false
	}
	return id, true
}
