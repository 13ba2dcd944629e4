package aws

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Receipt lifecycle metric names published to CloudWatch.
const (
	MetricReceiptSubmitted = "ReceiptSubmitted"
	MetricReceiptDone      = "ReceiptDone"
	MetricReceiptFailed    = "ReceiptFailed"
	MetricReceiptRetried   = "ReceiptRetried"
)

const metricsNamespace = "Fiscalflow"

// Metrics records receipt lifecycle events as CloudWatch custom metrics.
// Publishing is best-effort: a metrics failure must never fail the receipt
// operation that triggered it, so errors are logged and dropped.
type Metrics struct {
	client  CloudWatchAPI
	nowFunc func() time.Time
}

// NewMetrics returns a Metrics recorder backed by CloudWatch.
func NewMetrics(client CloudWatchAPI) *Metrics {
	return &Metrics{
		client:  client,
		nowFunc: time.Now,
	}
}

// RecordReceiptEvent publishes a count-of-one datum for the given metric,
// dimensioned by restaurant and operation.
func (m *Metrics) RecordReceiptEvent(ctx context.Context, metric, restaurantID, operation string) {
	if m == nil || m.client == nil {
		return
	}
	now := m.nowFunc()
	one := float64(1)
	datum := cwtypes.MetricDatum{
		MetricName: &metric,
		Timestamp:  &now,
		Value:      &one,
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: awsString("RestaurantId"), Value: &restaurantID},
			{Name: awsString("Operation"), Value: &operation},
		},
	}
	ns := metricsNamespace
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &ns,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		log.Printf("[metrics] put metric data failed: %v", err)
	}
}
