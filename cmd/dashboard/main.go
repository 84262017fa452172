package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bot-dashboard-go/internal/api"
	"bot-dashboard-go/internal/config"
	"bot-dashboard-go/internal/dashboard"
	"bot-dashboard-go/internal/logger"
	"bot-dashboard-go/internal/models"
	"bot-dashboard-go/internal/persistence"
	"bot-dashboard-go/internal/reporter"
	"bot-dashboard-go/internal/telemetry"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app 持有所有子命令共享的运行时依赖
type app struct {
	configPath string
	cfg        *models.Config
	log        *zap.Logger
	client     *api.Client
}

func main() {
	a := &app{}
	if err := a.rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "dashboard",
		Short:         "交易机器人后端的实时控制台",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "配置文件路径 (JSON 或 YAML)")

	root.AddCommand(
		a.watchCommand(),
		a.startCommand(),
		a.stopCommand(),
		a.paramsCommand(),
		a.sessionsCommand(),
		a.statsCommand(),
		a.historyCommand(),
		a.lastCommand(),
	)
	return root
}

// init 加载 .env 与配置并初始化日志, 在任何子命令之前执行
func (a *app) init() error {
	// 为了在加载配置时就能记录日志, 先用默认配置初始化 logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Debug("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		logger.S().Errorf("无法加载配置文件: %v", err)
		return err
	}
	a.cfg = cfg

	// 使用文件中的配置重新初始化日志
	a.log = logger.InitLogger(cfg.LogConfig)
	a.client = api.NewClient(cfg.APIBaseURL, api.Options{
		Timeout:   time.Duration(cfg.HTTPTimeoutSec) * time.Second,
		RateLimit: cfg.CommandRateLimit,
		Burst:     cfg.CommandBurst,
	}, a.log.Named("api"))
	return nil
}

// watchCommand 连接推送通道并持续渲染, 直到收到中断信号
func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "连接后端并实时显示状态、会话和日志",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context())
		},
	}
}

func (a *app) watch(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := persistence.NewBadgerRepository(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开本地存储失败: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.S().Errorf("关闭本地存储失败: %v", err)
		}
	}()

	preferred, err := repo.LoadSelection()
	if err != nil {
		logger.S().Warnf("无法读取上次选择的会话: %v", err)
	}

	provider, err := telemetry.NewProvider(ctx, a.cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.S().Warnf("关闭指标导出失败: %v", err)
		}
	}()
	metrics, err := telemetry.NewMetrics(provider.Meter())
	if err != nil {
		return err
	}

	opts := dashboard.OptionsFromConfig(a.cfg)
	opts.PreferredSelection = preferred
	opts.SelectionStore = repo
	opts.SnapshotSaver = repo
	opts.Metrics = metrics

	view := reporter.New(os.Stdout, a.log.Named("reporter"))
	d := dashboard.New(a.client, view, a.log, opts)

	logger.S().Infof("--- 连接后端 %s ---", a.cfg.APIBaseURL)
	d.Connect()

	<-ctx.Done()
	logger.S().Info("收到退出信号，正在关闭...")
	d.Close()
	logger.S().Info("仪表盘已停止，最后的状态已保存。")
	return nil
}

// lastCommand 离线显示最近一次保存的快照
func (a *app) lastCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "显示本地保存的最近一次机器人状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := persistence.NewBadgerRepository(a.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("打开本地存储失败: %w", err)
			}
			defer repo.Close()

			state, err := repo.LoadSnapshot()
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "本地没有保存的状态。")
				return nil
			}
			reporter.RenderSnapshot(cmd.OutOrStdout(), state)

			if id, err := repo.LoadSelection(); err == nil && id != models.NoSession {
				fmt.Fprintf(cmd.OutOrStdout(), "上次选择的会话: %s\n", id)
			}
			return nil
		},
	}
}

func (a *app) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, time.Duration(a.cfg.HTTPTimeoutSec)*time.Second)
}

func printResult(cmd *cobra.Command, res api.CommandResult, fallback string) {
	msg := res.Message
	if msg == "" {
		msg = fallback
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	if res.RestartRecommended {
		fmt.Fprintln(cmd.OutOrStdout(), "建议重启机器人以应用新参数。")
	}
}
