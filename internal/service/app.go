// Package service assembles the application: database, MQTT routing, the
// automation engines and the REST API.
package service

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/prite36/water-tank-system/internal/config"
	"github.com/prite36/water-tank-system/internal/ingest"
	"github.com/prite36/water-tank-system/internal/mqtt"
	"github.com/prite36/water-tank-system/internal/notify"
	"github.com/prite36/water-tank-system/internal/registry"
	"github.com/prite36/water-tank-system/internal/rules"
	"github.com/prite36/water-tank-system/internal/scheduler"
	"github.com/prite36/water-tank-system/internal/server"
	"github.com/prite36/water-tank-system/internal/store"
	"github.com/prite36/water-tank-system/internal/tasks"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	mqttClient *mqtt.Client
	runner     *tasks.Runner
	scheduler  *scheduler.Scheduler
	httpServer *http.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	log.Println("Auto-migrating database schema...")
	if err := store.Migrate(db); err != nil {
		return nil, err
	}
	st := store.New(db)

	mqttClient, err := mqtt.NewClient(
		cfg.MQTT.Broker,
		cfg.MQTT.ClientID,
		cfg.MQTT.Username,
		cfg.MQTT.Password,
	)
	if err != nil {
		return nil, err
	}

	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}

	var notifier notify.Notifier = notify.Noop{}
	if slackNotifier := notify.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.ChannelID); slackNotifier != nil {
		notifier = slackNotifier
	}

	reg := registry.New(st, mqttClient, topics)
	runner := tasks.NewRunner(st, mqttClient, topics)
	engine := rules.NewEngine(st, mqttClient, runner, topics)
	ingestor := ingest.New(st, engine, mqttClient, notifier, topics)
	sched := scheduler.New(st, mqttClient, runner, topics)
	// A completed scheduled auto-off also drops the calendar job.
	runner.Jobs = sched

	router := mqtt.NewRouter()
	router.HandleExact(topics.Auth(), reg.HandleSensorAuth)
	router.HandleExact(topics.PumpAuth(), reg.HandlePumpAuth)
	router.HandleExact(topics.SleepConfig(), reg.HandleSleepConfig)
	router.HandleExact(topics.Temperature(), ingestor.SensorHandler(topics.Temperature()))
	router.HandleExact(topics.Moisture(), ingestor.SensorHandler(topics.Moisture()))
	router.HandleExact(topics.WaterLevel(), ingestor.HandleWaterLevel)
	router.HandleExact(topics.PumpStatus(), ingestor.HandlePumpStatus)

	mqttClient.Route(router,
		topics.Auth(),
		topics.PumpAuth(),
		topics.SleepConfig(),
		topics.Temperature(),
		topics.Moisture(),
		topics.WaterLevel(),
		topics.PumpStatus(),
	)

	api := server.NewServer(st, reg, sched, mqttClient, reg.Pending, ingestor.Statuses, topics)
	httpServer := server.New(cfg, api)

	return &App{
		cfg:        cfg,
		db:         db,
		mqttClient: mqttClient,
		runner:     runner,
		scheduler:  sched,
		httpServer: httpServer,
	}, nil
}

// Start runs the app until an interrupt or termination signal arrives.
func (a *App) Start() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	a.runner.Start()
	if err := a.scheduler.Start(); err != nil {
		return err
	}

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] Server error: %v", err)
		}
	}()

	log.Println("Water tank system started. Press Ctrl+C to stop.")

	<-sigChan
	a.Stop()
	return nil
}

func (a *App) Stop() {
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}

	a.scheduler.Stop()
	a.runner.Stop()
	a.mqttClient.Close()

	log.Println("Water tank system stopped")
}
