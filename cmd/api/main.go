package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/restobook/fiscalflow/internal/aws"
	"github.com/restobook/fiscalflow/internal/fiscal"
	"github.com/restobook/fiscalflow/internal/handlers"
)

func setupRouter(cfg handlers.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterFiscalRoutes(r, cfg)

	return r
}

func gatewayConfigFromEnv() fiscal.GatewayConfig {
	return fiscal.GatewayConfig{
		Enabled:     os.Getenv("FISCAL_ENABLED") == "true",
		TestMode:    os.Getenv("FISCAL_TEST_MODE") == "true",
		GroupCode:   os.Getenv("FISCAL_GROUP_CODE"),
		CompanyINN:  os.Getenv("FISCAL_COMPANY_INN"),
		CompanyName: os.Getenv("FISCAL_COMPANY_NAME"),
	}
}

func main() {
	clients, err := aws.NewAWSClients(context.Background())

	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	// the provider HTTP client is wired here per deployment; without one
	// every submission records a fail receipt instead of crashing
	gateway := fiscal.NewDisabledGateway()

	cfg := handlers.Config{
		DynamoDBClient:    clients.DynamoDB,
		SQSClient:         clients.SQS,
		CloudWatchClient:  clients.CloudWatch,
		ReceiptsTable:     os.Getenv("RECEIPTS_TABLE"),
		OrdersTable:       os.Getenv("ORDERS_TABLE"),
		CashTable:         os.Getenv("CASH_OPERATIONS_TABLE"),
		IdempotencyTable:  os.Getenv("IDEMPOTENCY_TABLE"),
		ReconcileQueueURL: os.Getenv("RECONCILE_QUEUE_URL"),
		TTLWindow:         24 * time.Hour,
		Gateway:           gateway,
		GatewayConfig:     gatewayConfigFromEnv(),
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		// the adapter handles proxying; use adapter.ProxyWithContext for proper context propagation
		return adapter.ProxyWithContext(ctx, req)
	})
}
