package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"` // memory, sqlite
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CaptureConfig struct {
	Enabled       bool    `yaml:"enabled"`
	SampleRate    int     `yaml:"sample_rate"`
	WindowMS      int     `yaml:"vad_window_ms"`
	EnergyLevel   float64 `yaml:"vad_threshold"`
	MinSpeechMS   int     `yaml:"min_speech_ms"`
	SessionBuffer int     `yaml:"session_buffer_bytes"`
}

type SyncConfig struct {
	FlushIntervalMS  int    `yaml:"flush_interval_ms"`
	AttemptTimeoutMS int    `yaml:"attempt_timeout_ms"`
	IngestSubject    string `yaml:"ingest_subject"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Capture     CaptureConfig   `yaml:"capture"`
	Sync        SyncConfig      `yaml:"sync"`
}

func Default() Config {
	return Config{
		RuntimeName: "veldt-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "./data/veldt-records.db",
		},
		Capture: CaptureConfig{
			Enabled:       true,
			SampleRate:    16000,
			WindowMS:      30,
			EnergyLevel:   0.02,
			SessionBuffer: 10 << 20,
		},
		Sync: SyncConfig{
			FlushIntervalMS: 5000,
			IngestSubject:   "sync.ingest.v1",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VELDT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VELDT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VELDT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VELDT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VELDT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VELDT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VELDT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "VELDT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VELDT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VELDT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VELDT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VELDT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VELDT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VELDT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VELDT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VELDT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Backend, "VELDT_STORE_BACKEND")
	overrideString(&cfg.Store.Path, "VELDT_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "VELDT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Capture.Enabled, "VELDT_CAPTURE_ENABLED")
	overrideInt(&cfg.Capture.SampleRate, "VELDT_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.WindowMS, "VELDT_CAPTURE_VAD_WINDOW_MS")
	overrideFloat(&cfg.Capture.EnergyLevel, "VELDT_CAPTURE_VAD_THRESHOLD")
	overrideInt(&cfg.Capture.MinSpeechMS, "VELDT_CAPTURE_MIN_SPEECH_MS")
	overrideInt(&cfg.Capture.SessionBuffer, "VELDT_CAPTURE_SESSION_BUFFER_BYTES")
	overrideInt(&cfg.Sync.FlushIntervalMS, "VELDT_SYNC_FLUSH_INTERVAL_MS")
	overrideInt(&cfg.Sync.AttemptTimeoutMS, "VELDT_SYNC_ATTEMPT_TIMEOUT_MS")
	overrideString(&cfg.Sync.IngestSubject, "VELDT_SYNC_INGEST_SUBJECT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			return errors.New("store.path must not be empty when backend is sqlite")
		}
	default:
		return errors.New("store.backend must be one of memory|sqlite")
	}
	if cfg.Capture.Enabled {
		if cfg.Capture.SampleRate <= 0 {
			return errors.New("capture.sample_rate must be positive")
		}
		if cfg.Capture.WindowMS <= 0 {
			return errors.New("capture.vad_window_ms must be positive")
		}
		if cfg.Capture.EnergyLevel <= 0 || cfg.Capture.EnergyLevel >= 1 {
			return errors.New("capture.vad_threshold must be in (0, 1)")
		}
		if cfg.Capture.MinSpeechMS < 0 {
			return errors.New("capture.min_speech_ms must be >= 0")
		}
	}
	if cfg.Sync.FlushIntervalMS <= 0 {
		return errors.New("sync.flush_interval_ms must be positive")
	}
	if cfg.Sync.AttemptTimeoutMS < 0 {
		return errors.New("sync.attempt_timeout_ms must be >= 0")
	}
	if cfg.Sync.IngestSubject == "" {
		return errors.New("sync.ingest_subject must not be empty")
	}
	return nil
}
