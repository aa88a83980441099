package config

import (
	"fmt"
	"strings"
)

// Validation bounds. These catch configuration typos, not resource limits.
const (
	maxDimension = 8192
	maxBatchSize = 2048
	maxTopK      = 100
	maxTimeout   = 300
)

// validSSLModes are the sslmode values pgx accepts.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate performs fail-fast configuration checks. Each failure wraps its
// sentinel error so callers can match with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Backend {
	case "local":
		if strings.TrimSpace(c.StorePath) == "" {
			return fmt.Errorf("%w: store_path must be set for the local backend", ErrInvalidStorePath)
		}
	case "warehouse":
		if err := c.validatePostgres(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q (want \"local\" or \"warehouse\")", ErrInvalidBackend, c.Backend)
	}

	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbeddingDimension < 1 || c.EmbeddingDimension > maxDimension {
		return fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidDimension, c.EmbeddingDimension, maxDimension)
	}
	if c.BatchSize < 1 || c.BatchSize > maxBatchSize {
		return fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidBatchSize, c.BatchSize, maxBatchSize)
	}
	if c.TopK < 1 || c.TopK > maxTopK {
		return fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidTopK, c.TopK, maxTopK)
	}
	if c.SearchTimeoutSeconds < 1 || c.SearchTimeoutSeconds > maxTimeout {
		return fmt.Errorf("%w: %d seconds (want 1-%d)", ErrInvalidTimeout, c.SearchTimeoutSeconds, maxTimeout)
	}
	return nil
}

func (c *Config) validatePostgres() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (want 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}
