// Package config holds the gateway service configuration. Values come from a
// YAML file and environment variables; the environment names match the ones
// the deployment manifests already set (GCS_BUCKET, MOUNT_PATH, ...).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/inferd-ai/inferd/pkg/logging"
)

// Config is the full gateway configuration.
type Config struct {
	AnotherLogger logging.Interface

	// Artifact store location.
	GCSBucket      string `mapstructure:"gcs_bucket" validate:"required"`
	GCSModelPrefix string `mapstructure:"gcs_model_prefix"`

	// Firestore project. Empty means detect from the environment.
	GoogleCloudProject string `mapstructure:"google_cloud_project"`

	// Optional mounted-filesystem root mirroring the object store.
	MountPath string `mapstructure:"mount_path"`

	// Local download cache for artifacts.
	LocalModelCache string `mapstructure:"local_model_cache"`

	// Eviction policy.
	MemorySoftLimit float64 `mapstructure:"memory_soft_limit" validate:"gte=0,lte=1"`
	MinFreeMemoryGB float64 `mapstructure:"min_free_memory_gb" validate:"gte=0"`

	// Server limits.
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests" validate:"gte=1"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout" validate:"gte=1"`
	Port                  int `mapstructure:"port" validate:"gte=1,lte=65535"`

	// Authentication.
	RequireAuth     bool   `mapstructure:"require_auth"`
	BaseModelAPIKey string `mapstructure:"base_model_api_key"`

	// Local development mode. Forces the concurrency limit to 1.
	LocalDev bool `mapstructure:"local_dev"`

	// Version resolver cache TTL in seconds.
	VersionCacheTTLSeconds int `mapstructure:"version_cache_ttl" validate:"gte=1"`
}

// envBindings maps viper keys to the environment variables the deployment
// sets. These are bound explicitly because they predate the service's
// env-prefix convention.
var envBindings = map[string]string{
	"gcs_bucket":              "GCS_BUCKET",
	"gcs_model_prefix":        "GCS_MODEL_PREFIX",
	"google_cloud_project":    "GOOGLE_CLOUD_PROJECT",
	"mount_path":              "MOUNT_PATH",
	"local_model_cache":       "LOCAL_MODEL_CACHE",
	"memory_soft_limit":       "MEMORY_SOFT_LIMIT",
	"min_free_memory_gb":      "MIN_FREE_MEMORY_GB",
	"max_concurrent_requests": "MAX_CONCURRENT_REQUESTS",
	"request_timeout":         "REQUEST_TIMEOUT",
	"port":                    "PORT",
	"require_auth":            "REQUIRE_AUTH",
	"base_model_api_key":      "BASE_MODEL_API_KEY",
	"local_dev":               "LOCAL_DEV",
	"version_cache_ttl":       "VERSION_CACHE_TTL",
}

type Option func(*Config) error

// Apply applies the given options to the configuration.
func (c *Config) Apply(opts ...Option) error {
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		GCSModelPrefix:         "models/",
		LocalModelCache:        filepath.Join(os.TempDir(), "inferd-models"),
		MemorySoftLimit:        0.8,
		MinFreeMemoryGB:        2.0,
		MaxConcurrentRequests:  50,
		RequestTimeoutSeconds:  300,
		Port:                   8080,
		RequireAuth:            true,
		VersionCacheTTLSeconds: 900,
	}
}

// NewConfig builds and returns a new configuration from the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := defaultConfig()
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithAnotherLog sets the logger for the configuration.
func WithAnotherLog(logger logging.Interface) Option {
	return func(c *Config) error {
		c.AnotherLogger = logger
		return nil
	}
}

// WithViper reads the "gateway" viper key and the well-known environment
// variables into the configuration.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		for key, env := range envBindings {
			if err := v.BindEnv("gateway."+key, env); err != nil {
				return fmt.Errorf("error binding %s: %w", env, err)
			}
		}

		if err := v.UnmarshalKey("gateway", c); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %+v", err)
		}
		return nil
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	return nil
}

// MaxConcurrent returns the effective concurrency limit. Local dev mode
// serves one request at a time.
func (c *Config) MaxConcurrent() int {
	if c.LocalDev {
		return 1
	}
	return c.MaxConcurrentRequests
}
