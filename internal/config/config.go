package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	System        SystemConfig        `yaml:"system"`
	Capture       CaptureConfig       `yaml:"capture"`
	Storage       StorageConfig       `yaml:"storage"`
	Evaluation    EvaluationConfig    `yaml:"evaluation"`
	Judge         JudgeConfig         `yaml:"judge"`
	Results       ResultsConfig       `yaml:"results"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SystemConfig names the agent system under evaluation.
type SystemConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type CaptureConfig struct {
	SampleRate float64 `yaml:"sample_rate"`
	QueueSize  int     `yaml:"queue_size"`
	// Hosts maps extra model API hosts (proxies, self-hosted endpoints) to a
	// provider name for HTTP capture.
	Hosts map[string]string `yaml:"hosts"`
}

const (
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
	StorageDriverNone     = "none"
)

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type EvaluationConfig struct {
	Weights     map[string]float64 `yaml:"weights"`
	Concurrency int                `yaml:"concurrency"`
}

type JudgeConfig struct {
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	TimeoutMS   int     `yaml:"timeout_ms"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// APIKey resolves the judge key from the configured environment variable.
func (c JudgeConfig) APIKey() string {
	name := strings.TrimSpace(c.APIKeyEnv)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

type ResultsConfig struct {
	Dir string `yaml:"dir"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "agenteval"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

func Default() Config {
	return Config{
		System: SystemConfig{
			Name: "agent",
		},
		Capture: CaptureConfig{
			SampleRate: 1.0,
			QueueSize:  1024,
		},
		Storage: StorageConfig{
			Driver: StorageDriverSQLite,
			Path:   "./data/agenteval.db",
		},
		Evaluation: EvaluationConfig{
			Concurrency: 4,
		},
		Judge: JudgeConfig{
			Model:       "gpt-4",
			APIKeyEnv:   "OPENAI_API_KEY",
			TimeoutMS:   30000,
			Temperature: 0.3,
			MaxTokens:   500,
		},
		Results: ResultsConfig{
			Dir: "agenteval-results",
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime. Evaluation
// weight keys are checked by the evaluation package, which owns the category
// names.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.System.Name) == "" {
		return errors.New("system.name must not be empty")
	}

	if cfg.Capture.SampleRate < 0 || cfg.Capture.SampleRate > 1 {
		return fmt.Errorf("capture.sample_rate must be between 0 and 1 (got %f)", cfg.Capture.SampleRate)
	}
	if cfg.Capture.QueueSize <= 0 {
		return fmt.Errorf("capture.queue_size must be > 0 (got %d)", cfg.Capture.QueueSize)
	}
	for host, provider := range cfg.Capture.Hosts {
		if strings.TrimSpace(host) == "" {
			return errors.New("capture.hosts keys must not be empty")
		}
		switch provider {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("capture.hosts[%q] must be one of openai, anthropic (got %q)", host, provider)
		}
	}

	switch strings.TrimSpace(cfg.Storage.Driver) {
	case StorageDriverSQLite:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	case StorageDriverNone:
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres, none (got %q)", cfg.Storage.Driver)
	}

	if cfg.Evaluation.Concurrency <= 0 {
		return fmt.Errorf("evaluation.concurrency must be > 0 (got %d)", cfg.Evaluation.Concurrency)
	}

	if err := validateJudge(cfg.Judge); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Results.Dir) == "" {
		return errors.New("results.dir must not be empty")
	}

	return validateOTelConfig(cfg.Observability.OTel)
}

func validateJudge(cfg JudgeConfig) error {
	if strings.TrimSpace(cfg.Model) == "" {
		return errors.New("judge.model must not be empty")
	}
	if cfg.TimeoutMS <= 0 {
		return fmt.Errorf("judge.timeout_ms must be > 0 (got %d)", cfg.TimeoutMS)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("judge.temperature must be between 0 and 2 (got %f)", cfg.Temperature)
	}
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("judge.max_tokens must be > 0 (got %d)", cfg.MaxTokens)
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parse judge.base_url: %w", err)
		}
		if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return fmt.Errorf("judge.base_url must include scheme and host (got %q)", cfg.BaseURL)
		}
	}
	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if name := os.Getenv("AGENTEVAL_SYSTEM_NAME"); name != "" {
		cfg.System.Name = name
	}

	if rate := strings.TrimSpace(os.Getenv("AGENTEVAL_SAMPLE_RATE")); rate != "" {
		v, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return fmt.Errorf("invalid AGENTEVAL_SAMPLE_RATE: %w", err)
		}
		cfg.Capture.SampleRate = v
	}
	if queueSize := strings.TrimSpace(os.Getenv("AGENTEVAL_QUEUE_SIZE")); queueSize != "" {
		v, err := strconv.Atoi(queueSize)
		if err != nil {
			return fmt.Errorf("invalid AGENTEVAL_QUEUE_SIZE: %w", err)
		}
		cfg.Capture.QueueSize = v
	}

	if storageDriver := os.Getenv("AGENTEVAL_STORAGE_DRIVER"); storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if storagePath := os.Getenv("AGENTEVAL_STORAGE_PATH"); storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if storageDSN := os.Getenv("AGENTEVAL_STORAGE_DSN"); storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}

	if concurrency := strings.TrimSpace(os.Getenv("AGENTEVAL_CONCURRENCY")); concurrency != "" {
		v, err := strconv.Atoi(concurrency)
		if err != nil {
			return fmt.Errorf("invalid AGENTEVAL_CONCURRENCY: %w", err)
		}
		cfg.Evaluation.Concurrency = v
	}

	if model := os.Getenv("AGENTEVAL_JUDGE_MODEL"); model != "" {
		cfg.Judge.Model = model
	}
	if baseURL := os.Getenv("AGENTEVAL_JUDGE_BASE_URL"); baseURL != "" {
		cfg.Judge.BaseURL = baseURL
	}
	if keyEnv := os.Getenv("AGENTEVAL_JUDGE_API_KEY_ENV"); keyEnv != "" {
		cfg.Judge.APIKeyEnv = keyEnv
	}

	if resultsDir := os.Getenv("AGENTEVAL_RESULTS_DIR"); resultsDir != "" {
		cfg.Results.Dir = resultsDir
	}

	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Observability.OTel.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.OTel.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Observability.OTel.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.Observability.OTel.ServiceName = serviceName
		otelConfigured = true
	}
	if tracesExporter := strings.TrimSpace(os.Getenv("OTEL_TRACES_EXPORTER")); tracesExporter != "" {
		enabled, err := otelExporterEnabled(tracesExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_EXPORTER: %w", err)
		}
		cfg.Observability.OTel.TracesEnabled = enabled
		otelConfigured = true
	}
	if metricsExporter := strings.TrimSpace(os.Getenv("OTEL_METRICS_EXPORTER")); metricsExporter != "" {
		enabled, err := otelExporterEnabled(metricsExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRICS_EXPORTER: %w", err)
		}
		cfg.Observability.OTel.MetricsEnabled = enabled
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.Observability.OTel.SamplingRatio = v
		otelConfigured = true
	}
	if exportTimeout := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); exportTimeout != "" {
		v, err := strconv.Atoi(exportTimeout)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_TIMEOUT: %w", err)
		}
		cfg.Observability.OTel.ExportTimeoutMS = v
		otelConfigured = true
	}
	if metricExportInterval := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); metricExportInterval != "" {
		v, err := strconv.Atoi(metricExportInterval)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL: %w", err)
		}
		cfg.Observability.OTel.MetricExportIntervalMS = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Observability.OTel.Enabled = true
	}

	return nil
}

func otelExporterEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "otlp":
		return true, nil
	case "none":
		return false, nil
	default:
		return false, fmt.Errorf("must be one of otlp, none (got %q)", value)
	}
}
