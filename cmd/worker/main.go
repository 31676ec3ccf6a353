// Command worker runs the durable workflow engine against a Redis queue:
// it registers the example workflows, starts one queue worker per
// registered workflow, and serves the admin HTTP surface alongside them,
// all under one signal-cancellable context.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/flowkit/durable/internal/adminapi"
	"github.com/flowkit/durable/internal/archive"
	"github.com/flowkit/durable/internal/blobstore"
	"github.com/flowkit/durable/internal/examples/welcome"
	"github.com/flowkit/durable/internal/graph"
	"github.com/flowkit/durable/internal/observability"
	"github.com/flowkit/durable/internal/platform/config"
	"github.com/flowkit/durable/internal/platform/logger"
	"github.com/flowkit/durable/internal/platform/shutdown"
	"github.com/flowkit/durable/internal/platform/tracing"
	"github.com/flowkit/durable/internal/queue"
	"github.com/flowkit/durable/internal/workflow"
)

// fileConfig is the optional YAML overlay (WORKER_CONFIG_FILE). Environment
// variables win over the file; the file wins over built-in defaults.
type fileConfig struct {
	RedisAddr       string `yaml:"redis_addr"`
	RedisPrefix     string `yaml:"redis_prefix"`
	Concurrency     int    `yaml:"concurrency"`
	AdminAddr       string `yaml:"admin_addr"`
	CompressJobData bool   `yaml:"compress_job_data"`
}

func main() {
	if err := run(); err != nil {
		fmt.Printf("worker exited: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := logger.New(config.GetEnv("LOG_MODE", "development", nil))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	var fc fileConfig
	if err := config.LoadYAMLOverlay(config.GetEnv("WORKER_CONFIG_FILE", "", nil), &fc); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if fc.RedisAddr == "" {
		fc.RedisAddr = "127.0.0.1:6379"
	}
	if fc.RedisPrefix == "" {
		fc.RedisPrefix = "durable"
	}
	if fc.Concurrency < 1 {
		fc.Concurrency = 4
	}
	if fc.AdminAddr == "" {
		fc.AdminAddr = ":8090"
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	tracer, err := tracing.Setup(ctx, log, tracing.FromEnv("durable-worker", config.GetEnv("ENVIRONMENT", "development", log)))
	if err != nil {
		log.Warn("tracing setup failed, continuing without it", "error", err)
	}
	defer tracer.Shutdown(context.Background())

	q, err := queue.New(ctx, queue.Config{
		Addr:        config.GetEnv("REDIS_ADDR", fc.RedisAddr, log),
		Password:    config.GetEnv("REDIS_PASSWORD", "", nil),
		DB:          config.GetEnvAsInt("REDIS_DB", 0, log),
		Prefix:      config.GetEnv("REDIS_PREFIX", fc.RedisPrefix, log),
		DialTimeout: config.GetEnvAsDuration("REDIS_DIAL_TIMEOUT_SECS", 5*time.Second, log),
	}, log)
	if err != nil {
		return fmt.Errorf("queue init: %w", err)
	}
	defer q.Close()

	graphClient, err := graph.NewFromEnv(log)
	if err != nil {
		return fmt.Errorf("graph client init: %w", err)
	}
	if graphClient != nil {
		defer graphClient.Close(context.Background())
	}

	blobs, err := blobstore.NewFromEnv(ctx, log)
	if err != nil {
		return fmt.Errorf("blob store init: %w", err)
	}
	defer blobs.Close()

	archiveStore, err := archive.NewFromEnv(log)
	if err != nil {
		return fmt.Errorf("archive store init: %w", err)
	}

	metrics := observability.NewEngineMetrics()
	var client *workflow.Client
	cfg := workflow.ClientConfig{
		Prefix:          config.GetEnv("REDIS_PREFIX", fc.RedisPrefix, log),
		Metrics:         observability.NewMetricsAdapter(metrics),
		Invocations:     graph.NewRecorder(graphClient),
		CompressJobData: config.GetEnvAsBool("COMPRESS_JOB_DATA", fc.CompressJobData, log),
		WorkerOptions: workflow.WorkerOptions{
			Concurrency: config.GetEnvAsInt("WORKER_CONCURRENCY", fc.Concurrency, log),
		},
		WrapHandler: func(workflowID string, h workflow.JobHandler) workflow.JobHandler {
			return archive.Wrap(h, archiveStore, client, workflowID)
		},
	}
	if blobs != nil {
		cfg.Blobs = blobs
		cfg.BlobThresholdBytes = config.GetEnvAsInt("BLOB_THRESHOLD_BYTES", 0, log)
	}
	client = workflow.NewClient(q, cfg)

	if _, _, err := welcome.Register(client); err != nil {
		return fmt.Errorf("register workflows: %w", err)
	}

	client.Start(ctx)
	defer client.Stop()

	go sampleQueueDepths(ctx, q, client, metrics)

	adminSrv := adminapi.NewServer(adminapi.RouterConfig{
		Handlers:    adminapi.NewHandlers(adminapi.NewRegistry(client)),
		Auth:        adminapi.NewAuthMiddleware([]byte(config.GetEnv("ADMIN_JWT_SECRET", "", nil)), nil),
		Metrics:     metrics.Handler(),
		ServiceName: "durable-admin",
	})
	go func() {
		addr := config.GetEnv("ADMIN_ADDR", fc.AdminAddr, log)
		if err := adminSrv.Run(addr); err != nil {
			log.Warn("admin server stopped", "error", err)
		}
	}()

	log.Info("worker started", "workflows", client.WorkflowIDs())
	<-ctx.Done()
	log.Info("worker shutting down")
	return nil
}

// sampleQueueDepths refreshes the queue-depth gauge for every registered
// workflow.
func sampleQueueDepths(ctx context.Context, q *queue.RedisQueue, client *workflow.Client, metrics *observability.EngineMetrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range client.WorkflowIDs() {
				depths, err := q.Depths(ctx, id)
				if err != nil {
					continue
				}
				for state, n := range depths {
					metrics.QueueDepth.Set(float64(n), id, string(state))
				}
			}
		}
	}
}
