package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/restobook/fiscalflow/internal/aws"
	"github.com/restobook/fiscalflow/internal/cashops"
	"github.com/restobook/fiscalflow/internal/fiscal"
	"github.com/restobook/fiscalflow/internal/idempotency"
	"github.com/restobook/fiscalflow/internal/orders"
	"github.com/restobook/fiscalflow/internal/validation"
)

// Config groups dependencies for the fiscal handlers.
type Config struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	CloudWatchClient aws.CloudWatchAPI

	ReceiptsTable    string
	OrdersTable      string
	CashTable        string
	IdempotencyTable string

	ReconcileQueueURL string
	TTLWindow         time.Duration

	Gateway       fiscal.Gateway
	GatewayConfig fiscal.GatewayConfig
}

// NewEngine builds the fiscal engine from handler config. Shared with
// cmd/worker so both entrypoints wire the same collaborators.
func NewEngine(cfg Config) *fiscal.Engine {
	deps := fiscal.Deps{
		Receipts: fiscal.NewStore(cfg.DynamoDBClient, cfg.ReceiptsTable),
		Orders:   orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable),
		Cash:     cashops.NewStore(cfg.DynamoDBClient, cfg.CashTable),
		Gateway:  cfg.Gateway,
		Config:   cfg.GatewayConfig,
	}
	if cfg.SQSClient != nil && cfg.ReconcileQueueURL != "" {
		deps.Queue = aws.NewPublisher(cfg.SQSClient, cfg.ReconcileQueueURL)
	}
	if cfg.CloudWatchClient != nil {
		deps.Metrics = aws.NewMetrics(cfg.CloudWatchClient)
	}
	return fiscal.NewEngine(deps)
}

// RegisterFiscalRoutes registers the fiscal receipt API.
func RegisterFiscalRoutes(r *gin.Engine, cfg Config) {
	v := validation.New()
	engine := NewEngine(cfg)

	grp := r.Group("/fiscal")
	if cfg.IdempotencyTable != "" {
		idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)
		grp.Use(idempotency.Middleware(idempStore))
	}

	grp.GET("", func(c *gin.Context) {
		var q validation.ListReceiptsQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		receipts, err := engine.List(c.Request.Context(), fiscal.ListFilter{
			RestaurantID: q.RestaurantID,
			Status:       q.Status,
			OrderID:      q.OrderID,
			Limit:        q.Limit,
		})
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"receipts": receipts})
	})

	grp.GET("/status", func(c *gin.Context) {
		enabled, testMode, tokenValid := engine.GatewayStatus()
		resp := gin.H{"enabled": enabled, "test_mode": testMode}
		if enabled {
			resp["token_valid"] = tokenValid
		}
		c.JSON(http.StatusOK, resp)
	})

	grp.GET("/:id", func(c *gin.Context) {
		receipt, order, err := engine.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"receipt": receipt, "order": order})
	})

	grp.POST("/:id/check", func(c *gin.Context) {
		receipt, err := engine.CheckStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"receipt": receipt})
	})

	grp.POST("/:id/retry", func(c *gin.Context) {
		receipt, err := engine.Retry(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"receipt": receipt})
	})

	grp.POST("/orders/:orderId/refund", func(c *gin.Context) {
		var req validation.RefundRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		receipt, err := engine.Refund(c.Request.Context(), c.Param("orderId"), req.CustomerContact)
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"receipt": receipt})
	})

	// callback is unauthenticated: an unknown uuid returns 404 and mutates
	// nothing, so a forged payload cannot touch any receipt
	grp.POST("/callback", func(c *gin.Context) {
		var payload map[string]interface{}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		receipt, err := engine.HandleCallback(c.Request.Context(), payload)
		if err != nil {
			writeEngineError(c, err)
			return
		}
		if receipt == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_callback_uuid"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"receipt": receipt})
	})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
// Gateway failures never reach here: the engine absorbs them into fail
// receipts.
func writeEngineError(c *gin.Context, err error) {
	var ise *fiscal.InvalidStateError
	var ve *fiscal.ValidationError
	switch {
	case errors.Is(err, fiscal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.As(err, &ise):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state", "msg": ise.Reason})
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "msg": ve.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "detail": err.Error()})
	}
}
