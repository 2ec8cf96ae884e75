package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	billingdomain "github.com/tallyline/tallyline/internal/billing/domain"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/events"
	ingestdomain "github.com/tallyline/tallyline/internal/ingest/domain"
	quotadomain "github.com/tallyline/tallyline/internal/quota/domain"
	quotaservice "github.com/tallyline/tallyline/internal/quota/service"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server exited", zap.Error(err))
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

type RoutesParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	BillingSvc billingdomain.Service
	QuotaAdmin *quotaservice.Admin
	Stream     events.Stream
}

type handler struct {
	cfg        config.Config
	log        *zap.Logger
	billingSvc billingdomain.Service
	quotaAdmin *quotaservice.Admin
	stream     events.Stream
}

func RegisterRoutes(p RoutesParams) {
	h := &handler{
		cfg:        p.Cfg,
		log:        p.Log.Named("http.handler"),
		billingSvc: p.BillingSvc,
		quotaAdmin: p.QuotaAdmin,
		stream:     p.Stream,
	}

	v1 := p.Gin.Group("/v1")
	v1.GET("/billing/records/:id", h.getRecord)
	v1.GET("/billing/records", h.listRecords)
	v1.GET("/billing/usage", h.getUsageAggregations)
	v1.POST("/usage/events", h.submitUsageEvent)
	v1.POST("/quotas", h.createQuota)
	v1.GET("/quotas", h.listQuotas)
	v1.DELETE("/quotas/:id", h.deleteQuota)
}

func (h *handler) getRecord(c *gin.Context) {
	record, err := h.billingSvc.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, billingdomain.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record_not_found"})
			return
		}
		h.log.Error("get billing record failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *handler) listRecords(c *gin.Context) {
	filter := billingdomain.RecordFilter{
		UserID:      c.Query("user_id"),
		Status:      billingdomain.BillingStatus(c.Query("status")),
		ServiceType: billingdomain.ServiceType(c.Query("service_type")),
	}
	if limit := c.Query("limit"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil {
			filter.Limit = parsed
		}
	}

	records, err := h.billingSvc.ListRecords(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, billingdomain.ErrInvalidUser) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		h.log.Error("list billing records failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *handler) getUsageAggregations(c *gin.Context) {
	periodStart, err := time.Parse(time.RFC3339, c.Query("period_start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period_start must be RFC3339"})
		return
	}
	periodEnd, err := time.Parse(time.RFC3339, c.Query("period_end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period_end must be RFC3339"})
		return
	}

	agg, err := h.billingSvc.GetUsageAggregations(c.Request.Context(), c.Query("user_id"), periodStart, periodEnd)
	if err != nil {
		if errors.Is(err, billingdomain.ErrInvalidUser) || errors.Is(err, billingdomain.ErrInvalidPeriod) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("usage aggregation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, agg)
}

// submitUsageEvent publishes a usage event onto the ingestion channel. The
// response acknowledges acceptance onto the bus, not a billing outcome;
// processing is asynchronous.
func (h *handler) submitUsageEvent(c *gin.Context) {
	var event ingestdomain.UsageEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	if event.EventID == "" || event.UserID == "" || event.ProductID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_id, user_id and product_id are required"})
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	if err := h.stream.Publish(c.Request.Context(), h.cfg.Ingest.EventChannel, payload); err != nil {
		h.log.Error("usage event publish failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event_bus_unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event_id": event.EventID, "status": "accepted"})
}

func (h *handler) createQuota(c *gin.Context) {
	var quota billingdomain.BillingQuota
	if err := c.ShouldBindJSON(&quota); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if err := h.quotaAdmin.CreateQuota(c.Request.Context(), &quota); err != nil {
		switch {
		case errors.Is(err, quotadomain.ErrInvalidSubject),
			errors.Is(err, quotadomain.ErrInvalidAmount),
			errors.Is(err, quotadomain.ErrInvalidPeriod):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.log.Error("create quota failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}
	c.JSON(http.StatusCreated, quota)
}

func (h *handler) listQuotas(c *gin.Context) {
	quotas, err := h.quotaAdmin.ListQuotas(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		if errors.Is(err, quotadomain.ErrInvalidSubject) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		h.log.Error("list quotas failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotas": quotas})
}

func (h *handler) deleteQuota(c *gin.Context) {
	if err := h.quotaAdmin.DeleteQuota(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, quotadomain.ErrQuotaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "quota_not_found"})
			return
		}
		h.log.Error("delete quota failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.Status(http.StatusNoContent)
}
