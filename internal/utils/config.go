package utils

import (
	"time"

	"github.com/sproutlink/gardend/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate (empty disables TLS)
		TopicPrefix   string `yaml:"topic_prefix"`   // Root of the device topic tree
		QOS           int    `yaml:"qos"`            // MQTT QoS level
	} `yaml:"mqtt"`

	Postgres struct {
		DSN string `yaml:"dsn"` // Postgres connection string
	} `yaml:"postgres"`

	Influx struct {
		URL    string `yaml:"url"`    // InfluxDB endpoint
		Token  string `yaml:"token"`  // InfluxDB API token
		Org    string `yaml:"org"`    // InfluxDB organization
		Bucket string `yaml:"bucket"` // Bucket for sensor measurements
	} `yaml:"influx"`

	Shadow struct {
		OnlineThreshold time.Duration `yaml:"online_threshold"` // Recency window for a device to count as online (in seconds)
	} `yaml:"shadow"`

	Acks struct {
		TTL           time.Duration `yaml:"ttl"`            // Ack retention (in seconds); zero disables expiry
		CleanupPeriod time.Duration `yaml:"cleanup_period"` // Interval between expired-ack sweeps (in seconds)
	} `yaml:"acks"`

	Commands struct {
		DefaultWaitTimeout   time.Duration `yaml:"default_wait_timeout"`     // Default ack wait per command (in seconds)
		MaxWaitTimeout       time.Duration `yaml:"max_wait_timeout"`         // Hard cap on a single ack wait (in seconds)
		PollIntervalMs       int           `yaml:"poll_interval_ms"`         // Ack store polling period while waiting (in milliseconds)
		DefaultRateMlPerHour float64       `yaml:"default_rate_ml_per_hour"` // Pump rate fallback for volume-based watering
	} `yaml:"commands"`

	Telemetry struct {
		Workers int `yaml:"workers"` // Worker pool size for time-series hand-off
	} `yaml:"telemetry"`
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
