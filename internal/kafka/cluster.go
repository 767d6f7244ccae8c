// Package kafka provides Kafka cluster configuration, client options and
// topic administration shared by the inbound and outbound boundaries.
package kafka

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ClusterConfig defines a Kafka cluster with authentication and TLS settings.
type ClusterConfig struct {
	Brokers  []string   `yaml:"brokers"`
	ClientID string     `yaml:"clientId,omitempty"`
	Auth     AuthConfig `yaml:"auth,omitempty"`
	TLS      TLSConfig  `yaml:"tls,omitempty"`
}

// AuthConfig defines SASL authentication for Kafka.
type AuthConfig struct {
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// TLSConfig defines TLS settings for Kafka connections.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CAFile     string `yaml:"caFile,omitempty"`
	CertFile   string `yaml:"certFile,omitempty"` // For mTLS
	KeyFile    string `yaml:"keyFile,omitempty"`  // For mTLS
	SkipVerify bool   `yaml:"skipVerify,omitempty"`
}

// Validate checks the cluster configuration for errors.
func (c *ClusterConfig) Validate() error {
	var errs []error

	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required"))
	}
	for i, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			errs = append(errs, fmt.Errorf("brokers[%d] is empty", i))
		}
	}

	if c.Auth.Mechanism != "" {
		validMechanisms := map[string]bool{
			"PLAIN":         true,
			"SCRAM-SHA-256": true,
			"SCRAM-SHA-512": true,
		}
		if !validMechanisms[c.Auth.Mechanism] {
			errs = append(errs, fmt.Errorf("auth.mechanism %q is not valid (must be PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512)", c.Auth.Mechanism))
		}
		if c.Auth.Username == "" {
			errs = append(errs, errors.New("auth.username is required when mechanism is set"))
		}
		if c.Auth.Password == "" {
			errs = append(errs, errors.New("auth.password is required when mechanism is set"))
		}
	}

	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errs = append(errs, errors.New("tls.keyFile is required when certFile is specified"))
	}
	if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
		errs = append(errs, errors.New("tls.certFile is required when keyFile is specified"))
	}

	return errors.Join(errs...)
}

// Batch compression codecs accepted by ProducerConfig.
var Compressions = []string{"none", "gzip", "snappy", "lz4", "zstd"}

// Required acknowledgement levels accepted by ProducerConfig.
var AckLevels = []string{"all", "leader", "none"}

// ProducerConfig tunes the outbound client.
type ProducerConfig struct {
	Compression string `yaml:"compression,omitempty"` // none, gzip, snappy, lz4, zstd
	Acks        string `yaml:"acks,omitempty"`        // all (default), leader, none
}

// Validate checks the producer configuration for errors.
func (c *ProducerConfig) Validate() error {
	var errs []error
	if c.Compression != "" && !slices.Contains(Compressions, c.Compression) {
		errs = append(errs, fmt.Errorf("compression %q is not valid (must be one of %s)", c.Compression, strings.Join(Compressions, ", ")))
	}
	if c.Acks != "" && !slices.Contains(AckLevels, c.Acks) {
		errs = append(errs, fmt.Errorf("acks %q is not valid (must be one of %s)", c.Acks, strings.Join(AckLevels, ", ")))
	}
	return errors.Join(errs...)
}
