package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bot-dashboard-go/internal/models"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// 默认值与后端默认部署保持一致
const (
	DefaultAPIBaseURL      = "http://localhost:5000"
	DefaultWSURL           = "ws://localhost:5000/ws_logs"
	DefaultReconnectDelay  = 5000 // ms
	DefaultHTTPTimeout     = 10   // s
	DefaultHandshake       = 10   // s
	DefaultPongTimeout     = 60   // s
	DefaultDBPath          = "data/dashboard"
	DefaultStrategyName    = "SCALPING"
	DefaultTelemetryPeriod = 15 // s
)

// 环境变量覆盖项
const (
	EnvAPIURL   = "DASHBOARD_API_URL"
	EnvWSURL    = "DASHBOARD_WS_URL"
	EnvDBPath   = "DASHBOARD_DB_PATH"
	EnvLogLevel = "DASHBOARD_LOG_LEVEL"
	EnvOTLP     = "DASHBOARD_OTLP_ENDPOINT"
)

// LoadConfig 从指定路径加载配置文件 (JSON 或 YAML, 按扩展名判断)
// path 为空时只使用默认值和环境变量
func LoadConfig(path string) (*models.Config, error) {
	cfg := &models.Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults 填充未设置的字段
func ApplyDefaults(cfg *models.Config) {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.ReconnectDelayMs <= 0 {
		cfg.ReconnectDelayMs = DefaultReconnectDelay
	}
	if cfg.HTTPTimeoutSec <= 0 {
		cfg.HTTPTimeoutSec = DefaultHTTPTimeout
	}
	if cfg.HandshakeTimeoutSec <= 0 {
		cfg.HandshakeTimeoutSec = DefaultHandshake
	}
	if cfg.PingIntervalSec > 0 && cfg.PongTimeoutSec <= 0 {
		cfg.PongTimeoutSec = DefaultPongTimeout
	}
	if cfg.CommandRateLimit > 0 && cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 1
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = DefaultStrategyName
	}
	if cfg.Telemetry.IntervalSec <= 0 {
		cfg.Telemetry.IntervalSec = DefaultTelemetryPeriod
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}

func applyEnv(cfg *models.Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogConfig.Level = v
	}
	if v := os.Getenv(EnvOTLP); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
	if v := os.Getenv("DASHBOARD_RECONNECT_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectDelayMs = n
		}
	}
}

// Validate 检查配置是否可用
func Validate(cfg *models.Config) error {
	var errs []error

	api, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") || api.Host == "" {
		errs = append(errs, fmt.Errorf("api_base_url %q must be an http(s) URL", cfg.APIBaseURL))
	}
	ws, err := url.Parse(cfg.WSURL)
	if err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") || ws.Host == "" {
		errs = append(errs, fmt.Errorf("ws_url %q must be a ws(s) URL", cfg.WSURL))
	}
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max_reconnect_attempts must be >= 0"))
	}
	if cfg.PingIntervalSec > 0 && cfg.PongTimeoutSec <= cfg.PingIntervalSec {
		errs = append(errs, errors.New("pong_timeout_sec must exceed ping_interval_sec"))
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	return errors.Join(errs...)
}
