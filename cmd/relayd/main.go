package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	adminHttp "github.com/taskdeck/eventrelay/cmd/relayd/delivery/admin"
	healthHttp "github.com/taskdeck/eventrelay/cmd/relayd/delivery/health"
	relaydmetrics "github.com/taskdeck/eventrelay/cmd/relayd/delivery/metrics"
	"github.com/taskdeck/eventrelay/cmd/relayd/utils"
	"github.com/taskdeck/eventrelay/pkg/admin"
	"github.com/taskdeck/eventrelay/pkg/dispatch"
	"github.com/taskdeck/eventrelay/pkg/kafka"
	"github.com/taskdeck/eventrelay/pkg/logger"
	"github.com/taskdeck/eventrelay/pkg/metrics"
	"github.com/taskdeck/eventrelay/pkg/postgres"
	"github.com/taskdeck/eventrelay/pkg/processor"
	"github.com/taskdeck/eventrelay/pkg/projection"
	"github.com/taskdeck/eventrelay/pkg/relay"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appLogger := utils.GetAppLogger()

	// Register metrics as early as possible
	cfg := utils.GetConfig()
	metrics.Register()
	relaydmetrics.StartMetricsServer(cfg.MetricsPort)

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		var once sync.Once
		for sig := range sigs {
			appLogger.Infof("Received signal: %v", sig)
			once.Do(func() {
				appLogger.Info("Initiating shutdown...")
				cancel()
			})
		}
	}()

	appLogger.Infof("Starting %s", cfg.Name)

	pool, err := postgres.NewPool(ctx, postgres.Config{ConnectionString: cfg.DatabaseURL})
	if err != nil {
		appLogger.Errorf("Failed to connect to database: %v", err)
		return
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool, projection.Kinds); err != nil {
		appLogger.Errorf("Failed to ensure schema: %v", err)
		return
	}
	appLogger.Info("Connected to database successfully.")

	log := logger.New(logger.Config{Level: cfg.LogLevel})

	outboxStore := postgres.NewOutboxStore(pool, log)
	deadLetterStore := postgres.NewDeadLetterStore(pool)
	readModelStore := postgres.NewReadModelStore(pool)

	dispatcher := dispatch.NewDispatcher(log)
	boardHandler := projection.NewTaskBoardHandler(readModelStore, log)
	overviewHandler := projection.NewProjectOverviewHandler(readModelStore, log)
	sprintHandler := projection.NewSprintSummaryHandler(readModelStore, log)

	if err := dispatcher.RegisterAll(projection.TaskEventTypes, boardHandler); err != nil {
		appLogger.Errorf("Failed to register task board handler: %v", err)
		return
	}
	allTypes := append(append([]string{}, projection.TaskEventTypes...), projection.SprintEventTypes...)
	if err := dispatcher.RegisterAll(allTypes, overviewHandler); err != nil {
		appLogger.Errorf("Failed to register project overview handler: %v", err)
		return
	}
	if err := dispatcher.RegisterAll(allTypes, sprintHandler); err != nil {
		appLogger.Errorf("Failed to register sprint summary handler: %v", err)
		return
	}

	if cfg.KafkaEnabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:  cfg.KafkaBrokers,
			ClientID: cfg.Name,
		}, log)
		if err != nil {
			appLogger.Errorf("Failed to create Kafka producer: %v", err)
			return
		}
		defer producer.Close()

		// Relay every event type a projection consumes.
		if err := dispatcher.RegisterAll(dispatcher.EventTypes(), relay.NewRelay(producer, cfg.KafkaTopicPrefix, log)); err != nil {
			appLogger.Errorf("Failed to register Kafka relay: %v", err)
			return
		}
	}

	proc := processor.NewProcessor(outboxStore, dispatcher, log, processor.Config{
		Workers:           cfg.Workers,
		PollInterval:      cfg.PollInterval,
		BatchSize:         cfg.BatchSize,
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxRetries:        cfg.MaxRetries,
		DispatchTimeout:   cfg.DispatchTimeout,
		BackoffBase:       cfg.BackoffBase,
		BackoffMax:        cfg.BackoffMax,
	})
	if err := proc.Start(ctx); err != nil {
		appLogger.Errorf("Failed to start outbox processor: %v", err)
		return
	}
	defer proc.Stop()

	adminService := admin.NewService(outboxStore, deadLetterStore, log)
	go adminHttp.Server(ctx, adminService, cfg)
	go healthHttp.Server(ctx, pool, cfg)

	<-ctx.Done()
	appLogger.Infof("%s exiting gracefully.", cfg.Name)
}
