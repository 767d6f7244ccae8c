// Package config loads the processor configuration from YAML and the
// environment. A loaded Config is immutable for the life of the process.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/lsm/microprice/internal/kafka"
	"github.com/lsm/microprice/internal/retry"
)

// Environment variables that override file settings.
const (
	EnvConfigPath     = "MICROPRICE_CONFIG"
	EnvBrokers        = "MICROPRICE_KAFKA_BROKERS"
	EnvSASLMechanism  = "MICROPRICE_KAFKA_SASL_MECHANISM"
	EnvUsername       = "MICROPRICE_KAFKA_USERNAME"
	EnvPassword       = "MICROPRICE_KAFKA_PASSWORD"
	EnvInputTopic     = "MICROPRICE_INPUT_TOPIC"
	EnvConsumerGroup  = "MICROPRICE_CONSUMER_GROUP"
	EnvOutputTopic    = "MICROPRICE_OUTPUT_TOPIC"
	DefaultConfigPath = "/etc/microprice/config.yaml"
)

// Defaults applied to unset fields.
const (
	DefaultName        = "microprice"
	DefaultOutputTopic = "microprice"
	DefaultStartOffset = "latest"
	DefaultMetricsAddr = ":9090"
)

// Config is the complete processor configuration.
type Config struct {
	Name          string              `yaml:"name"`
	Kafka         kafka.ClusterConfig `yaml:"kafka"`
	Input         InputConfig         `yaml:"input"`
	Output        OutputConfig        `yaml:"output"`
	Filter        string              `yaml:"filter,omitempty"` // CEL expression over quotes
	HandleTimeout time.Duration       `yaml:"handleTimeout,omitempty"`
	ErrorHandling ErrorHandlingConfig `yaml:"errorHandling"`
	MetricsAddr   string              `yaml:"metricsAddr"`
}

// InputConfig selects the inbound quote stream.
type InputConfig struct {
	Topic         string `yaml:"topic"`
	ConsumerGroup string `yaml:"consumerGroup"`
	StartOffset   string `yaml:"startOffset"` // earliest, latest
}

// OutputConfig controls the outbound record stream.
type OutputConfig struct {
	Topic         string               `yaml:"topic"`
	CloudEvents   bool                 `yaml:"cloudEvents,omitempty"`
	EventType     string               `yaml:"eventType,omitempty"`
	Source        string               `yaml:"source,omitempty"`
	TimestampUnit string               `yaml:"timestampUnit,omitempty"` // s, ms, us, ns (default ms)
	Producer      kafka.ProducerConfig `yaml:",inline"`
}

// ErrorHandlingConfig holds dead-letter and delivery retry settings.
type ErrorHandlingConfig struct {
	DeadLetter DeadLetterConfig `yaml:"deadLetter"`
	Retry      retry.Config     `yaml:"retry"`
}

// DeadLetterConfig enables publication of unprocessable inbound messages.
type DeadLetterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic,omitempty"` // default <name>-dlq
}

var timestampUnits = map[string]time.Duration{
	"s":  time.Second,
	"ms": time.Millisecond,
	"us": time.Microsecond,
	"ns": time.Nanosecond,
}

// TimestampDuration returns the unit of quote timestamps.
func (o OutputConfig) TimestampDuration() time.Duration {
	if d, ok := timestampUnits[o.TimestampUnit]; ok {
		return d
	}
	return time.Millisecond
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBrokers); v != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	if v := os.Getenv(EnvSASLMechanism); v != "" {
		c.Kafka.Auth.Mechanism = v
	}
	if v := os.Getenv(EnvUsername); v != "" {
		c.Kafka.Auth.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.Kafka.Auth.Password = v
	}
	if v := os.Getenv(EnvInputTopic); v != "" {
		c.Input.Topic = v
	}
	if v := os.Getenv(EnvConsumerGroup); v != "" {
		c.Input.ConsumerGroup = v
	}
	if v := os.Getenv(EnvOutputTopic); v != "" {
		c.Output.Topic = v
	}
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Input.ConsumerGroup == "" {
		c.Input.ConsumerGroup = c.Name
	}
	if c.Input.StartOffset == "" {
		c.Input.StartOffset = DefaultStartOffset
	}
	if c.Output.Topic == "" {
		c.Output.Topic = DefaultOutputTopic
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = c.Name
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.ErrorHandling.DeadLetter.Enabled && c.ErrorHandling.DeadLetter.Topic == "" {
		c.ErrorHandling.DeadLetter.Topic = c.Name + "-dlq"
	}

	def := retry.DefaultConfig()
	r := &c.ErrorHandling.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.InitialInterval == 0 {
		r.InitialInterval = def.InitialInterval
	}
	if r.MaxInterval == 0 {
		r.MaxInterval = def.MaxInterval
	}
	if r.Jitter == 0 {
		r.Jitter = def.Jitter
	}
}

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Kafka.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("kafka: %w", err))
	}
	if err := c.Output.Producer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}
	if c.Input.Topic == "" {
		errs = append(errs, errors.New("input.topic is required"))
	}
	if c.Input.StartOffset != "earliest" && c.Input.StartOffset != "latest" {
		errs = append(errs, fmt.Errorf("input.startOffset %q is not valid (must be earliest or latest)", c.Input.StartOffset))
	}
	if c.Output.Topic == c.Input.Topic && c.Input.Topic != "" {
		errs = append(errs, fmt.Errorf("output.topic must differ from input.topic %q", c.Input.Topic))
	}
	if c.Output.TimestampUnit != "" {
		if _, ok := timestampUnits[c.Output.TimestampUnit]; !ok {
			errs = append(errs, fmt.Errorf("output.timestampUnit %q is not valid (must be s, ms, us or ns)", c.Output.TimestampUnit))
		}
	}
	if c.HandleTimeout < 0 {
		errs = append(errs, errors.New("handleTimeout must not be negative"))
	}
	if dl := c.ErrorHandling.DeadLetter; dl.Enabled && (dl.Topic == c.Input.Topic || dl.Topic == c.Output.Topic) {
		errs = append(errs, fmt.Errorf("errorHandling.deadLetter.topic %q must differ from input and output topics", dl.Topic))
	}
	r := c.ErrorHandling.Retry
	if r.MaxAttempts < 1 {
		errs = append(errs, errors.New("errorHandling.retry.maxAttempts must be at least 1"))
	}
	if r.MaxInterval < r.InitialInterval {
		errs = append(errs, errors.New("errorHandling.retry.maxInterval must not be less than initialInterval"))
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		errs = append(errs, errors.New("errorHandling.retry.jitter must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

// Topics returns every topic the processor reads or writes.
func (c *Config) Topics() []string {
	topics := []string{c.Input.Topic, c.Output.Topic}
	if c.ErrorHandling.DeadLetter.Enabled {
		topics = append(topics, c.ErrorHandling.DeadLetter.Topic)
	}
	return topics
}

// Watch calls onChange whenever the file at path is written, replaced or
// removed. It blocks until ctx is done. The parent directory is watched so
// that editors replacing the file by rename are detected.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close() // intentionally ignoring close error during cleanup
	}()

	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}

	logger.Info("watching config file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				logger.Info("config change detected", "file", event.Name, "op", event.Op)
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}
