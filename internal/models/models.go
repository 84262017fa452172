package models

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Config 结构体定义了仪表盘客户端的所有配置参数
type Config struct {
	APIBaseURL           string          `json:"api_base_url" yaml:"api_base_url"`                     // 后端 REST 地址, e.g. http://localhost:5000
	WSURL                string          `json:"ws_url" yaml:"ws_url"`                                 // 推送通道地址, e.g. ws://localhost:5000/ws_logs
	DBPath               string          `json:"db_path" yaml:"db_path"`                               // 本地 BadgerDB 目录
	HTTPTimeoutSec       int             `json:"http_timeout_sec" yaml:"http_timeout_sec"`             // 单次请求超时(秒)
	HandshakeTimeoutSec  int             `json:"handshake_timeout_sec" yaml:"handshake_timeout_sec"`   // WebSocket 握手超时(秒)
	ReconnectDelayMs     int             `json:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`         // 固定重连间隔(毫秒)
	MaxReconnectAttempts int             `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"` // 0 表示无限重试
	PingIntervalSec      int             `json:"ping_interval_sec" yaml:"ping_interval_sec"`           // Ping 发送间隔(秒), 0 关闭
	PongTimeoutSec       int             `json:"pong_timeout_sec" yaml:"pong_timeout_sec"`             // Pong 超时(秒)
	CommandRateLimit     float64         `json:"command_rate_limit" yaml:"command_rate_limit"`         // 每秒允许的请求数, <=0 不限速
	CommandBurst         int             `json:"command_burst" yaml:"command_burst"`                   // 限速桶容量
	DefaultStrategy      string          `json:"default_strategy" yaml:"default_strategy"`             // 新建会话时的默认策略
	PercentParams        []string        `json:"percent_params" yaml:"percent_params"`                 // 以百分比输入的参数名
	Telemetry            TelemetryConfig `json:"telemetry" yaml:"telemetry"`                           // 指标导出配置
	LogConfig            LogConfig       `json:"log" yaml:"log"`                                       // 日志配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

// TelemetryConfig 定义了 OpenTelemetry 指标导出配置
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"` // OTLP/HTTP 地址, e.g. localhost:4318
	Insecure    bool   `json:"insecure" yaml:"insecure"`
	IntervalSec int    `json:"interval_sec" yaml:"interval_sec"`
}

// IsPercentParam 判断参数是否以百分比形式输入
func (c *Config) IsPercentParam(name string) bool {
	for _, p := range c.PercentParams {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// Severity 定义了日志行的严重级别
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// OrderRecord 定义了会话订单历史中的一条记录
type OrderRecord struct {
	OrderID             FlexString      `json:"orderId"`
	Symbol              string          `json:"symbol"`
	Side                string          `json:"side"`
	Type                string          `json:"type"`
	Status              string          `json:"status"`
	Price               decimal.Decimal `json:"price"`
	OrigQty             decimal.Decimal `json:"origQty"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Timestamp           FlexString      `json:"timestamp"`
	PerformancePct      Percent         `json:"performance_pct"`
	Strategy            string          `json:"strategy,omitempty"`
	SessionID           SessionID       `json:"session_id,omitempty"`
}

// Percent 是以百分数表示的数值, 接受 1.23, "1.23" 和后端保存的 "1.2300%"
// null, 空串以及无法解析的文本都视为缺失
type Percent struct {
	decimal.NullDecimal
}

// NewPercent 返回一个有效的 Percent
func NewPercent(d decimal.Decimal) Percent {
	return Percent{decimal.NewNullDecimal(d)}
}

// UnmarshalJSON 实现 json.Unmarshaler
func (p *Percent) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	*p = Percent{}
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("performance_pct: %w", err)
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(str), "%"))
	}
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	*p = NewPercent(d)
	return nil
}

// Stats 定义了会话的汇总绩效统计
type Stats struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"winrate"`
	ROI         float64 `json:"roi"`
	AvgPnL      float64 `json:"avg_pnl"`
}

// SignalEvent 定义了后端策略推送的信号事件 (入场/出场, 是否通过校验)
type SignalEvent struct {
	SignalType string              `json:"signal_type"` // e.g. "entry", "exit"
	Direction  string              `json:"direction"`   // e.g. "LONG", "SHORT", "BUY", "SELL"
	Valid      bool                `json:"valid"`
	Reason     string              `json:"reason"`
	Price      decimal.NullDecimal `json:"price"`
}

// FlexString 接受 JSON 字符串或数字, 统一保存为字符串
type FlexString string

// UnmarshalJSON 实现 json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*f = FlexString(str)
		return nil
	}
	*f = FlexString(s)
	return nil
}
