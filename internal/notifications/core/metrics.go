package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ PipelineMetrics = (*CloudWatchPipelineMetrics)(nil)

// CloudWatchPipelineMetrics emits pipeline metrics to CloudWatch.
//
// Metrics emitted:
//   - JobsEnqueued: Dims {Event}
//   - EnqueuePublishFailure: no dims
//   - DeliveryAttempt: Dims {Result}, value is the recipient count
//   - GatewaySubBatchFailure: no dims
//   - StaleTokensPruned: no dims
//   - JobFinished: Dims {Status}
//   - WorkerInvocationDuration: milliseconds
//   - JobsReclaimed: Dims {Action}
//   - APILatency: Dims {Endpoint, Status}, milliseconds
type CloudWatchPipelineMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchPipelineMetrics publishes to namespace, or to
// types.MetricNamespace when namespace is empty.
func NewCloudWatchPipelineMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchPipelineMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchPipelineMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchPipelineMetrics) RecordEnqueued(ctx context.Context, event string) {
	m.put(ctx, types.MetricJobsEnqueued, 1, cwtypes.StandardUnitCount, dim(types.DimEvent, event))
}

func (m *CloudWatchPipelineMetrics) RecordEnqueuePublishFailure(ctx context.Context) {
	m.put(ctx, types.MetricEnqueuePublishFailure, 1, cwtypes.StandardUnitCount)
}

func (m *CloudWatchPipelineMetrics) RecordDeliveries(ctx context.Context, result MetricResult, count int) {
	if count <= 0 {
		return
	}
	m.put(ctx, types.MetricDeliveryAttempt, float64(count), cwtypes.StandardUnitCount, dim(types.DimResult, string(result)))
}

func (m *CloudWatchPipelineMetrics) RecordGatewayFailure(ctx context.Context) {
	m.put(ctx, types.MetricGatewaySubBatchFailure, 1, cwtypes.StandardUnitCount)
}

func (m *CloudWatchPipelineMetrics) RecordTokensPruned(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.put(ctx, types.MetricStaleTokensPruned, float64(count), cwtypes.StandardUnitCount)
}

func (m *CloudWatchPipelineMetrics) RecordJobFinished(ctx context.Context, status types.JobStatus) {
	m.put(ctx, types.MetricJobFinished, 1, cwtypes.StandardUnitCount, dim(types.DimStatus, string(status)))
}

// RecordInvocation records duration in milliseconds for CloudWatch precision.
func (m *CloudWatchPipelineMetrics) RecordInvocation(ctx context.Context, duration time.Duration) {
	m.put(ctx, types.MetricWorkerInvocationDuration, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds)
}

func (m *CloudWatchPipelineMetrics) RecordReclaimed(ctx context.Context, action string, count int) {
	if count <= 0 {
		return
	}
	m.put(ctx, types.MetricJobsReclaimed, float64(count), cwtypes.StandardUnitCount, dim(types.DimAction, action))
}

// RecordRequest satisfies the HTTP chassis collector. The endpoint should be a
// route pattern, never a raw path, to keep dimension cardinality bounded.
func (m *CloudWatchPipelineMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.put(context.Background(), types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimEndpoint, method+" "+endpoint),
		dim(types.DimStatus, status),
	)
}

func (m *CloudWatchPipelineMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record metric",
			"error", err.Error(),
			"metric", name,
			"value", value,
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// NoopMetrics discards every metric. Used when ENABLE_METRICS is false.
type NoopMetrics struct{}

var _ PipelineMetrics = NoopMetrics{}

func (NoopMetrics) RecordEnqueued(context.Context, string)              {}
func (NoopMetrics) RecordEnqueuePublishFailure(context.Context)         {}
func (NoopMetrics) RecordDeliveries(context.Context, MetricResult, int) {}
func (NoopMetrics) RecordGatewayFailure(context.Context)                {}
func (NoopMetrics) RecordTokensPruned(context.Context, int)             {}
func (NoopMetrics) RecordJobFinished(context.Context, types.JobStatus)  {}
func (NoopMetrics) RecordInvocation(context.Context, time.Duration)     {}
func (NoopMetrics) RecordReclaimed(context.Context, string, int)        {}
func (NoopMetrics) RecordRequest(string, string, string, time.Duration) {}
