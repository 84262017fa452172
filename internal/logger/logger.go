package logger

import (
	"os"
	"strings"

	"bot-dashboard-go/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	sugaredLogger *zap.SugaredLogger
)

// InitLogger 初始化全局zap日志记录器并返回它, 组件通过构造函数注入
func InitLogger(cfg models.LogConfig) *zap.Logger {
	logger := New(cfg)
	sugaredLogger = logger.Sugar()
	return logger
}

// New 按配置构建一个独立的 logger, 不修改全局实例
func New(cfg models.LogConfig) *zap.Logger {
	// 配置日志级别
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel) // 默认为Info级别
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// 文件中不写颜色控制符
	fileEncoderConfig := encoderConfig
	fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var cores []zapcore.Core

	output := strings.ToLower(cfg.Output)
	if (output == "file" || output == "both") && cfg.File != "" {
		// lumberjack 负责日志切割
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig), zapcore.AddSync(rotator), logLevel))
	}

	// 控制台写 stderr, stdout 留给仪表盘渲染
	if output == "console" || output == "both" || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), logLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// S 返回全局的sugared logger实例
func S() *zap.SugaredLogger {
	if sugaredLogger == nil {
		// 未初始化时提供一个默认的应急logger
		logger, _ := zap.NewDevelopment()
		return logger.Sugar()
	}
	return sugaredLogger
}

// ForSeverity 将推送日志行的严重级别映射到 zap 级别
func ForSeverity(sev models.Severity) zapcore.Level {
	switch sev {
	case models.SeverityDebug:
		return zapcore.DebugLevel
	case models.SeverityWarn:
		return zapcore.WarnLevel
	case models.SeverityError:
		return zapcore.ErrorLevel
	case models.SeverityCritical:
		// 后端的 critical 不应让客户端退出
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
