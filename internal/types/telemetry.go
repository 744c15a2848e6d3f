package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricJobsEnqueued             = "JobsEnqueued"
	MetricEnqueuePublishFailure    = "EnqueuePublishFailure"
	MetricDeliveryAttempt          = "DeliveryAttempt"
	MetricGatewaySubBatchFailure   = "GatewaySubBatchFailure"
	MetricStaleTokensPruned        = "StaleTokensPruned"
	MetricJobFinished              = "JobFinished"
	MetricWorkerInvocationDuration = "WorkerInvocationDuration"
	MetricJobsReclaimed            = "JobsReclaimed"
	MetricAPILatency               = "APILatency"

	// Dimension Keys
	DimResult   = "Result"
	DimStatus   = "Status"
	DimEvent    = "Event"
	DimAction   = "Action"
	DimEndpoint = "Endpoint"

	// Metric Namespace
	MetricNamespace = "SchoolPush"
)
