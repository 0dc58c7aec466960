package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/executor"
	"github.com/missionctl/orchestrator/internal/model"
	"github.com/missionctl/orchestrator/internal/monitor"
	"github.com/missionctl/orchestrator/internal/orchestrator"
	"github.com/missionctl/orchestrator/internal/registry"
	"github.com/missionctl/orchestrator/internal/scheduler"
	"github.com/missionctl/orchestrator/internal/service"
	"github.com/missionctl/orchestrator/internal/storage"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Load the worker registry
	workers, err := registry.Load(viper.GetString("registry.path"), logger)
	if err != nil {
		logger.Fatal("Failed to load worker registry", zap.Error(err))
	}

	// Mission history archive
	history, err := storage.NewSQLiteMissionHistory(logger, viper.GetString("storage.history_path"))
	if err != nil {
		logger.Fatal("Failed to create mission history storage", zap.Error(err))
	}
	defer history.Close()

	// Activity feed
	activity, err := service.NewActivityService(js, logger)
	if err != nil {
		logger.Fatal("Failed to create activity service", zap.Error(err))
	}

	// Task executor: in-process handlers or a JetStream bridge to remote
	// workers, per config.
	var exec executor.Executor
	switch mode := viper.GetString("executor.mode"); mode {
	case "nats":
		exec, err = executor.NewNATSExecutor(js, logger)
		if err != nil {
			logger.Fatal("Failed to create NATS executor", zap.Error(err))
		}
	default:
		local := executor.NewLocalExecutor(logger)
		registerDemoHandlers(local, logger)
		exec = local
	}

	cfg := scheduler.Config{
		MaxConcurrent:  viper.GetInt64("orchestrator.max_concurrent"),
		MaxRetries:     viper.GetInt("orchestrator.max_retries"),
		DefaultTimeout: viper.GetDuration("orchestrator.default_timeout"),
		Strategy: &scheduler.ExponentialBackoff{
			InitialDelay: viper.GetDuration("orchestrator.retry.initial_delay"),
			MaxDelay:     viper.GetDuration("orchestrator.retry.max_delay"),
			Multiplier:   viper.GetFloat64("orchestrator.retry.multiplier"),
		},
	}

	orch := orchestrator.New(workers, exec, cfg, logger)
	orch.SetActivityPublisher(activity)
	orch.SetHistory(history)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Monitoring
	collector := monitor.NewMetricsCollector(js, viper.GetDuration("metrics.interval"), logger)
	collector.Start(ctx)
	defer collector.Stop()

	alerts := monitor.NewAlertManager(logger, js)
	if err := alerts.Start(ctx); err != nil {
		logger.Fatal("Failed to start alert manager", zap.Error(err))
	}
	defer alerts.Stop()

	if err := alerts.AddRule(&model.AlertRule{
		Name:     "task failures",
		Type:     model.AlertTypeTaskFailure,
		Severity: model.AlertSeverityWarning,
	}); err != nil {
		logger.Error("Failed to add alert rule", zap.Error(err))
	}

	// Recurring missions
	recurring := orchestrator.NewRecurringMissions(orch, logger)
	recurring.Start()
	defer recurring.Stop()

	// Cleanup old mission archives daily
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -viper.GetInt("storage.retention_days"))
				if err := history.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to cleanup old mission history", zap.Error(err))
				}
			}
		}
	}()

	// Launch a demo mission when configured
	if viper.GetBool("demo.enabled") {
		handle, err := orch.StartMission(ctx, model.Plan{
			Name: "demo",
			Tasks: []model.PlanTask{
				{ID: "gather", Description: "gather the input files", RequiredCapability: "read"},
				{ID: "transform", Description: "transform the gathered data", RequiredCapability: "process", DependsOn: []string{"gather"}},
				{ID: "report", Description: "write the summary report", RequiredCapability: "write", DependsOn: []string{"transform"}},
			},
		})
		if err != nil {
			logger.Error("Failed to start demo mission", zap.Error(err))
		} else {
			collector.Track(ctx, handle.Store)
			go func() {
				if err := handle.Wait(); err != nil {
					logger.Error("Demo mission failed", zap.Error(err))
					return
				}
				logger.Info("Demo mission completed", zap.String("mission_id", handle.ID))
			}()
		}
	}

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Server shutting down gracefully")
}

// registerDemoHandlers wires simple in-process handlers for the capabilities
// the sample registry declares.
func registerDemoHandlers(local *executor.LocalExecutor, logger *zap.Logger) {
	echo := func(ctx context.Context, dispatch model.TaskDispatch) (*model.TaskResult, error) {
		logger.Info("Executing task",
			zap.String("task_id", dispatch.TaskID),
			zap.String("worker", dispatch.WorkerName),
			zap.String("capability", dispatch.RequiredCapability))

		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		return &model.TaskResult{
			Status: model.TaskStatusCompleted,
			Result: []byte(dispatch.Description),
		}, nil
	}

	local.RegisterHandler("read", executor.HandlerFunc(echo))
	local.RegisterHandler("process", executor.HandlerFunc(echo))
	local.RegisterHandler("write", executor.HandlerFunc(echo))
}
