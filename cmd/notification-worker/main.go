// cmd/notification-worker/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"enrollment-notifier/internal/audit"
	awsclient "enrollment-notifier/internal/common/aws"
	"enrollment-notifier/internal/common/camunda"
	"enrollment-notifier/internal/common/config"
	"enrollment-notifier/internal/common/database"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/common/observability"
	"enrollment-notifier/internal/notification/attachment"
	"enrollment-notifier/internal/notification/dispatch"
	"enrollment-notifier/internal/notification/orchestrator"
	"enrollment-notifier/internal/notification/recipient"
	"enrollment-notifier/internal/notification/schedule"
	"enrollment-notifier/internal/notification/template"
	"enrollment-notifier/internal/report"
	"enrollment-notifier/internal/repository"

	rsn "enrollment-notifier/internal/workers/notification/run-scheduled-notifications"
	sn "enrollment-notifier/internal/workers/notification/send-notification"
)

const scheduledRunTimeout = 15 * time.Minute

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notification worker...", zap.String("transport", cfg.Notifications.Transport))

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	shutdownTracing, err := observability.InitTracing(cfg.Observability.JaegerEndpoint)
	if err != nil {
		zapLog.Warn("tracing disabled", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Audit sinks ---
	sinks := audit.Multi{audit.NewLoggerSink(log)}
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 5, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Warn("elasticsearch audit sink disabled", zap.Error(err))
		} else {
			if err := esClient.EnsureAuditIndex(ctx, cfg.Audit.ElasticsearchIndex); err != nil {
				zapLog.Warn("audit index not ensured", zap.Error(err))
			}
			sinks = append(sinks, audit.NewElasticsearchSink(esClient.Client, cfg.Audit.ElasticsearchIndex))
			zapLog.Info("Elasticsearch audit sink enabled")
		}
	}
	if cfg.Audit.AlertTopicARN != "" {
		region := cfg.Audit.AlertRegion
		if region == "" {
			region = cfg.Storage.Region
		}
		snsClient, err := awsclient.NewSNSClient(ctx, region)
		if err != nil {
			zapLog.Warn("sns alert sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, audit.NewSNSAlertSink(snsClient, cfg.Audit.AlertTopicARN))
		}
	}

	// --- Object storage ---
	s3Client, err := awsclient.NewS3Client(ctx, cfg.Storage.Region, cfg.Storage.Endpoint)
	if err != nil {
		zapLog.Fatal("s3 client init failed", zap.Error(err))
	}
	objects := awsclient.NewObjectStore(s3Client, cfg.Storage.Bucket)

	// --- Email transport ---
	transport, err := dispatch.NewTransport(ctx, cfg.Notifications)
	if err != nil {
		zapLog.Fatal("email transport init failed", zap.Error(err))
	}

	// --- Notification core ---
	store := repository.NewStore(pg.DB)
	assembler := attachment.NewAssembler(store, objects, report.NewGenerator(store), cfg.Storage.TempDir, log)
	dispatcher := dispatch.NewDispatcher(
		transport,
		template.NewResolver(store, cfg.Notifications.FrontendURL, log),
		assembler,
		cfg.Notifications,
		log,
	)
	orch := orchestrator.New(orchestrator.Dependencies{
		Scheduler:     schedule.NewScheduler(store, log, cfg.Scheduler.SkipAlreadySent),
		Store:         store,
		Recipients:    recipient.NewResolver(store, log),
		Deliverer:     dispatcher,
		Reports:       assembler,
		Locker:        database.NewRedisLocker(rdb.Client),
		Audit:         sinks,
		Observability: obs,
	}, config.GetDuration(cfg.Scheduler.LockTTL), log)

	// --- Zeebe workers ---
	var workers []*camunda.CamundaWorker
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      10 * time.Second,
			RetryConfig:            &camunda.RetryConfig{MaxRetries: 10, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
		})
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		if wc := cfg.Workers[sn.TaskType]; wc.Enabled {
			handler, err := sn.NewHandler(sn.LoadConfig(wc), orch, log)
			if err != nil {
				zapLog.Fatal("failed to create send-notification handler", zap.Error(err))
			}
			workers = append(workers, camunda.NewWorker(zeebe.GetClient(), sn.TaskType, wc.MaxJobsActive, config.GetDuration(wc.Timeout), handler, log))
		}
		if wc := cfg.Workers[rsn.TaskType]; wc.Enabled {
			handler, err := rsn.NewHandler(rsn.LoadConfig(wc), orch, log)
			if err != nil {
				zapLog.Fatal("failed to create run-scheduled-notifications handler", zap.Error(err))
			}
			workers = append(workers, camunda.NewWorker(zeebe.GetClient(), rsn.TaskType, wc.MaxJobsActive, config.GetDuration(wc.Timeout), handler, log))
		}
		zapLog.Info("Workers registered", zap.Int("count", len(workers)))
	}

	// --- In-process scheduler tick ---
	var ticker *cron.Cron
	if cfg.Scheduler.Enabled {
		cl := cronLogger{log: log.WithFields(map[string]interface{}{"component": "cron"})}
		ticker = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
		_, err := ticker.AddFunc(cfg.Scheduler.Tick, func() {
			runCtx, cancel := context.WithTimeout(ctx, scheduledRunTimeout)
			defer cancel()
			orch.RunDueNotifications(runCtx, time.Now())
		})
		if err != nil {
			zapLog.Fatal("invalid scheduler tick", zap.String("tick", cfg.Scheduler.Tick), zap.Error(err))
		}
		ticker.Start()
		zapLog.Info("Scheduler tick started", zap.String("tick", cfg.Scheduler.Tick))
	}

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, code := "ready", http.StatusOK
		if err := pg.Ping(r.Context()); err != nil {
			status, code = "postgres unavailable", http.StatusServiceUnavailable
		} else if err := rdb.Ping(r.Context()); err != nil {
			status, code = "redis unavailable", http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.Observability.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ticker != nil {
		select {
		case <-ticker.Stop().Done():
		case <-shutdownCtx.Done():
			zapLog.Warn("scheduled run still in progress at shutdown")
		}
	}
	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping Health/Metrics server", zap.Error(err))
	}

	zapLog.Info("Notification worker stopped gracefully")
}

// cronLogger routes robfig/cron's logging through the structured logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).Error(msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
