package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sproutlink/gardend/internal/acks"
	"github.com/sproutlink/gardend/internal/database"
	"github.com/sproutlink/gardend/internal/service_registry"
	"github.com/sproutlink/gardend/internal/services"
	"github.com/sproutlink/gardend/internal/shadow"
	"github.com/sproutlink/gardend/internal/timeseries"
	"github.com/sproutlink/gardend/internal/utils"
	"github.com/sproutlink/gardend/pkg/file"
	"github.com/sproutlink/gardend/pkg/mqtt"
)

func main() {
	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Generate a unique MQTT Client ID by appending a UUID
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	log.Info().Str("client_id", config.MQTT.ClientID).Msg("Using MQTT client ID")

	// Initialize the shared MQTT connection
	mqttClient := mqtt.NewMqttService(fileClient)
	err = mqttClient.Initialize(config.MQTT.Broker, config.MQTT.ClientID, config.MQTT.CACertificate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	// Open the relational durability tier
	db, err := database.Open(
		config.Postgres.DSN,
		config.Commands.DefaultRateMlPerHour,
		int(config.Shadow.OnlineThreshold),
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	// Time-series recorder for sensor measurements and watering history
	recorder := timeseries.NewInfluxRecorder(
		config.Influx.URL,
		config.Influx.Token,
		config.Influx.Org,
		config.Influx.Bucket,
		log,
	)
	defer recorder.Close()

	// Shadow and ack stores (config durations are in seconds)
	shadowStore := shadow.NewStore(db, time.Duration(config.Shadow.OnlineThreshold)*time.Second, log)
	ackStore := acks.NewStore(
		db,
		time.Duration(config.Acks.TTL)*time.Second,
		time.Duration(config.Acks.CleanupPeriod)*time.Second,
		log,
	)

	telemetryService := services.NewTelemetryService(
		config.MQTT.TopicPrefix,
		config.MQTT.QOS,
		config.Telemetry.Workers,
		mqttClient,
		shadowStore,
		ackStore,
		db,
		recorder,
		log,
	)

	// Create a new service registry to manage service lifecycles
	serviceRegistry := service_registry.NewServiceRegistry(log)
	serviceRegistry.RegisterService("ack-sweeper", ackStore)
	serviceRegistry.RegisterService("telemetry", telemetryService)

	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Failed to stop services cleanly")
	}
	mqttClient.Disconnect(250)
}
