package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/converso-ai/converso/backend/internal/transport"
)

// Config aggregates every setting the service reads.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Transport TransportConfig
	Analysis  AnalysisConfig
	Storage   StorageConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	transportCfg, err := loadTransportConfig()
	if err != nil {
		return nil, err
	}

	analysis, err := loadAnalysisConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Transport: transportCfg,
		Analysis:  analysis,
		Storage:   loadStorageConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig holds the Ark gateway credentials and sampling settings shared
// by the fast-path responder and the background classifier.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Timeout     time.Duration
}

// Enabled reports whether the required credentials are present. When it is
// false the service runs on direct answers and static fallbacks only.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY + ARK_MODEL or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationMsEnv("GATEWAY_TIMEOUT_MS", 8*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}, nil
}

// TransportConfig describes the client-facing transport ladder.
type TransportConfig struct {
	// Order lists probe candidates best-first.
	Order []transport.Kind
	// ProbeConnectTimeout bounds each candidate's connection attempt.
	ProbeConnectTimeout time.Duration
}

func loadTransportConfig() (TransportConfig, error) {
	order := []transport.Kind{
		transport.KindRealtimePubSub,
		transport.KindDuplexSocket,
		transport.KindHTTPPolling,
	}

	if raw := strings.TrimSpace(os.Getenv("TRANSPORT_ORDER")); raw != "" {
		order = order[:0]
		for _, part := range strings.Split(raw, ",") {
			kind, ok := transport.ParseKind(part)
			if !ok {
				return TransportConfig{}, fmt.Errorf("invalid TRANSPORT_ORDER entry %q", strings.TrimSpace(part))
			}
			order = append(order, kind)
		}
	}

	timeout, err := parseDurationMsEnv("PROBE_CONNECT_TIMEOUT_MS", 3*time.Second)
	if err != nil {
		return TransportConfig{}, err
	}

	return TransportConfig{Order: order, ProbeConnectTimeout: timeout}, nil
}

// AnalysisConfig tunes the background analyzer.
type AnalysisConfig struct {
	Workers           int
	HighThreshold     float64
	CriticalThreshold float64
}

func loadAnalysisConfig() (AnalysisConfig, error) {
	workers := 2
	if override, err := parseOptionalIntEnv("ANALYZER_WORKERS"); err != nil {
		return AnalysisConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AnalysisConfig{}, fmt.Errorf("ANALYZER_WORKERS must be at least 1")
		}
		workers = *override
	}

	high, err := parseThresholdEnv("SENTIMENT_HIGH_THRESHOLD", 0.6)
	if err != nil {
		return AnalysisConfig{}, err
	}
	critical, err := parseThresholdEnv("SENTIMENT_CRITICAL_THRESHOLD", 0.75)
	if err != nil {
		return AnalysisConfig{}, err
	}
	if critical < high {
		return AnalysisConfig{}, fmt.Errorf("SENTIMENT_CRITICAL_THRESHOLD must not be below SENTIMENT_HIGH_THRESHOLD")
	}

	return AnalysisConfig{
		Workers:           workers,
		HighThreshold:     high,
		CriticalThreshold: critical,
	}, nil
}

// StorageConfig describes the SQLite database location.
type StorageConfig struct {
	Path string
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{Path: getEnvOrDefault("DATABASE_PATH", "converso.db")}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationMsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	override, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if override == nil {
		return defaultValue, nil
	}
	if *override <= 0 {
		return 0, fmt.Errorf("%s must be a positive millisecond count", key)
	}
	return time.Duration(*override) * time.Millisecond, nil
}

func parseThresholdEnv(key string, defaultValue float64) (float64, error) {
	override, err := parseOptionalFloatEnv(key)
	if err != nil {
		return 0, err
	}
	if override == nil {
		return defaultValue, nil
	}
	if *override <= 0 || *override > 1 {
		return 0, fmt.Errorf("%s must be in (0, 1]", key)
	}
	return *override, nil
}
