// Package app wires process-wide dependencies for the cmd entry points. Each
// binary loads configuration once at cold start, opens the shared Runtime,
// and builds only the services it serves.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Smalik1203/ktscb-sub006/internal/config"
	"github.com/Smalik1203/ktscb-sub006/internal/db"
	"github.com/Smalik1203/ktscb-sub006/internal/external"
	notifcore "github.com/Smalik1203/ktscb-sub006/internal/notifications/core"
	"github.com/Smalik1203/ktscb-sub006/internal/notifications/worker"
	"github.com/Smalik1203/ktscb-sub006/internal/queue"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// Metrics is the union of the pipeline metrics and the HTTP request
// collector. Both the CloudWatch sink and NoopMetrics satisfy it.
type Metrics interface {
	notifcore.PipelineMetrics
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

var (
	_ Metrics = (*notifcore.CloudWatchPipelineMetrics)(nil)
	_ Metrics = notifcore.NoopMetrics{}
)

// Runtime holds the connections shared by every service of one process.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	AWS       aws.Config
	Publisher *queue.ProcessPublisher
	Metrics   Metrics
}

// LoadConfig resolves SSM pointers (outside APP_ENV=local) and loads the
// validated configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// Open connects to Postgres and builds the AWS clients. The caller owns the
// Runtime and must Close it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var metrics Metrics = notifcore.NoopMetrics{}
	if cfg.Observability.EnableMetrics {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = notifcore.NewCloudWatchPipelineMetrics(cw, cfg.Observability.MetricNamespace, NewTypedLogger(logger))
	}

	return &Runtime{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		AWS:       awsCfg,
		Publisher: queue.NewProcessPublisher(sqsClient, cfg.AWS.ProcessQueueURL, logger),
		Metrics:   metrics,
	}, nil
}

// Close releases the database pool.
func (r *Runtime) Close() {
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// Jobs returns the job repository bound to the pool.
func (r *Runtime) Jobs() *db.JobRepository {
	return db.NewJobRepository(r.Pool, db.NewPoolTxRunner(r.Pool))
}

// NewWorker builds the delivery worker with the gateway client and all
// repositories.
func (r *Runtime) NewWorker() *worker.Worker {
	return &worker.Worker{
		Config:    WorkerConfig(r.Config),
		Log:       r.Logger.With("component", "push-worker"),
		Jobs:      r.Jobs(),
		Resolver:  db.NewRecipientRepository(r.Pool),
		Gateway:   NewGatewayClient(r.Config),
		Logs:      db.NewDeliveryLogRepository(r.Pool),
		Tokens:    db.NewPushTokenRepository(r.Pool),
		Scheduler: r.Publisher,
		Metrics:   r.Metrics,
		Clock:     types.RealClock{},
	}
}

// WorkerConfig maps the configuration onto the worker's tuning knobs.
func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		BatchSize:       cfg.Worker.BatchSize,
		GatewayLimit:    cfg.Gateway.BatchLimit,
		SendConcurrency: cfg.Worker.SendConcurrency,
		TimeBudget:      cfg.Worker.TimeBudget,
		LeaseTTL:        cfg.Worker.LeaseTTL,
		DeadlineReserve: cfg.Worker.DeadlineReserve,
	}
}

// NewGatewayClient builds the push gateway client. Retries stay off unless
// GATEWAY_MAX_RETRIES is set, since a retried send may deliver twice.
func NewGatewayClient(cfg *config.Config) *external.PushGatewayClient {
	retry := external.NoRetryPolicy()
	retry.MaxRetries = cfg.Gateway.MaxRetries

	base := external.NewBaseClient(
		external.NewPushHTTPClient(cfg.Gateway.Timeout),
		"push-gateway",
		retry,
		cfg.Gateway.UserAgent,
	)
	return external.NewPushGatewayClient(base, external.PushGatewayOptions{
		URL:           cfg.Gateway.URL,
		AccessToken:   cfg.Gateway.AccessToken.Unmask(),
		BatchLimit:    cfg.Gateway.BatchLimit,
		GzipMinBytes:  cfg.Gateway.GzipMinBytes,
		RatePerSecond: cfg.Gateway.RatePerSecond,
	})
}
