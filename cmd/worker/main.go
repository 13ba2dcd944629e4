package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/restobook/fiscalflow/internal/aws"
	"github.com/restobook/fiscalflow/internal/fiscal"
	"github.com/restobook/fiscalflow/internal/handlers"
)

func main() {
	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	engine := handlers.NewEngine(handlers.Config{
		DynamoDBClient:   clients.DynamoDB,
		CloudWatchClient: clients.CloudWatch,
		ReceiptsTable:    os.Getenv("RECEIPTS_TABLE"),
		OrdersTable:      os.Getenv("ORDERS_TABLE"),
		CashTable:        os.Getenv("CASH_OPERATIONS_TABLE"),
		// the worker only polls; it never enqueues or submits, so no SQS
		// client and the provider client slot stays empty here too
		Gateway: fiscal.NewDisabledGateway(),
	})
	p := NewProcessor(engine)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"receipt_id":"local-receipt-1","restaurant_id":"local-rest-1"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{Body: testBody},
			},
		}
		if err := p.Handle(context.Background(), event); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(p.Handle)
}
