package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/restobook/fiscalflow/internal/aws"
	"github.com/restobook/fiscalflow/internal/fiscal"
)

// Processor drains the reconcile queue: for each receipt that reached
// PROCESSING it polls the gateway, so a lost webhook cannot strand a
// receipt forever. CheckStatus is idempotent on terminal receipts, which
// makes duplicate SQS deliveries safe.
type Processor struct {
	engine *fiscal.Engine
}

// NewProcessor creates a worker processor around the fiscal engine.
func NewProcessor(engine *fiscal.Engine) *Processor {
	return &Processor{engine: engine}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.ReconcileMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log.Printf("[worker] reconcile receipt=%s restaurant=%s corr=%s",
		msg.ReceiptID, msg.RestaurantID, msg.CorrelationID)

	receipt, err := p.engine.CheckStatus(ctx, msg.ReceiptID)
	if errors.Is(err, fiscal.ErrNotFound) {
		// stale message for a deleted receipt; nothing to reconcile
		log.Printf("[worker] receipt not found: %s", msg.ReceiptID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("check status for receipt %s: %w", msg.ReceiptID, err)
	}

	if !receipt.Terminal() {
		// still unresolved at the provider: let SQS redeliver with backoff
		return fmt.Errorf("receipt %s still %s after poll", msg.ReceiptID, receipt.Status)
	}

	log.Printf("[worker] receipt=%s resolved status=%s", msg.ReceiptID, receipt.Status)
	return nil
}
