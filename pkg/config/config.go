package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration (local resource store)
	Database DatabaseConfig `mapstructure:"database"`

	// FHIR data service configuration (remote resource store)
	FHIR FHIRConfig `mapstructure:"fhir"`

	// Model stream configuration
	Model ModelConfig `mapstructure:"model"`

	// Transcription configuration
	Transcribe TranscribeConfig `mapstructure:"transcribe"`

	// Tool dispatch retry configuration
	Retry RetryConfig `mapstructure:"retry"`

	// JWT configuration
	JWT JWTConfig `mapstructure:"jwt"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration for the local resource store
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// FHIRConfig holds remote clinical data service configuration
type FHIRConfig struct {
	// UseRemote selects the remote REST adapter over the local store
	UseRemote bool `mapstructure:"use_remote"`
	// Endpoint is the FHIR R4 base URL, e.g. https://host/r4
	Endpoint         string `mapstructure:"endpoint"`
	RequestTimeout   int    `mapstructure:"request_timeout"`
	IdentifierSystem string `mapstructure:"identifier_system"`
	PatientProfile   string `mapstructure:"patient_profile"`
	AuthToken        string `mapstructure:"auth_token"`
}

// ModelConfig holds bidirectional model stream configuration
type ModelConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	ModelID   string `mapstructure:"model_id"`
	AuthToken string `mapstructure:"auth_token"`
	// EventTimeout is the wait for the next complete stream event, in
	// seconds. Expiry triggers a heartbeat, not a disconnect.
	EventTimeout int `mapstructure:"event_timeout"`
	// ChunkTimeout bounds a single write of one event or audio chunk to
	// the stream, in seconds
	ChunkTimeout int `mapstructure:"chunk_timeout"`
	// CloseGrace bounds how long Close waits for an in-flight tool call, in seconds
	CloseGrace int `mapstructure:"close_grace"`
	// Diagnosis model used for the differential-diagnosis tool
	DiagnosisEndpoint string `mapstructure:"diagnosis_endpoint"`
	DiagnosisModelID  string `mapstructure:"diagnosis_model_id"`
}

// TranscribeConfig holds speech-to-text streaming configuration
type TranscribeConfig struct {
	Endpoint          string `mapstructure:"endpoint"`
	LanguageCode      string `mapstructure:"language_code"`
	SampleRateHertz   int    `mapstructure:"sample_rate_hertz"`
	EnableDiarization bool   `mapstructure:"enable_diarization"`
	MaxSpeakers       int    `mapstructure:"max_speakers"`
	Vocabulary        string `mapstructure:"vocabulary"`
	ChunkSize         int    `mapstructure:"chunk_size"`
	FlushInterval     int    `mapstructure:"flush_interval"`
}

// RetryConfig holds tool dispatch retry policy
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	// BackoffMillis is the linear backoff step between attempts
	BackoffMillis int `mapstructure:"backoff_millis"`
}

// Backoff returns the backoff step as a duration
func (r RetryConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMillis) * time.Millisecond
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/voice-emr")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "voiceemr")
	viper.SetDefault("database.user", "voiceemr")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// FHIR defaults
	viper.SetDefault("fhir.use_remote", false)
	viper.SetDefault("fhir.request_timeout", 30)
	viper.SetDefault("fhir.identifier_system", "http://fhir.mimic.mit.edu/identifier/patient")
	viper.SetDefault("fhir.patient_profile", "http://fhir.mimic.mit.edu/StructureDefinition/mimic-patient")

	// Model stream defaults
	viper.SetDefault("model.model_id", "amazon.nova-sonic-v1:0")
	viper.SetDefault("model.event_timeout", 30)
	viper.SetDefault("model.chunk_timeout", 10)
	viper.SetDefault("model.close_grace", 5)

	// Transcription defaults
	viper.SetDefault("transcribe.language_code", "en-US")
	viper.SetDefault("transcribe.sample_rate_hertz", 16000)
	viper.SetDefault("transcribe.enable_diarization", true)
	viper.SetDefault("transcribe.max_speakers", 2)
	viper.SetDefault("transcribe.chunk_size", 4096)
	viper.SetDefault("transcribe.flush_interval", 1000)

	// Retry defaults
	viper.SetDefault("retry.max_attempts", 2)
	viper.SetDefault("retry.backoff_millis", 1000)

	// JWT defaults
	viper.SetDefault("jwt.issuer", "voice-emr")
	viper.SetDefault("jwt.audience", "voice-emr-clients")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}

	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		config.Database.Password = dbPassword
	}

	if endpoint := os.Getenv("FHIR_ENDPOINT_URL"); endpoint != "" {
		config.FHIR.Endpoint = endpoint
		config.FHIR.UseRemote = true
	}

	if token := os.Getenv("FHIR_AUTH_TOKEN"); token != "" {
		config.FHIR.AuthToken = token
	}

	if endpoint := os.Getenv("MODEL_ENDPOINT_URL"); endpoint != "" {
		config.Model.Endpoint = endpoint
	}

	if token := os.Getenv("MODEL_AUTH_TOKEN"); token != "" {
		config.Model.AuthToken = token
	}

	if secret := os.Getenv("JWT_SECRET_KEY"); secret != "" {
		config.JWT.SecretKey = secret
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.FHIR.UseRemote && config.FHIR.Endpoint == "" {
		return fmt.Errorf("fhir.endpoint is required when fhir.use_remote is true")
	}

	if config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	if config.Model.EventTimeout <= 0 || config.Model.ChunkTimeout <= 0 {
		return fmt.Errorf("model stream timeouts must be positive")
	}

	return nil
}
