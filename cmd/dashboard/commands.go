package main

import (
	"fmt"
	"sort"

	"bot-dashboard-go/internal/models"
	"bot-dashboard-go/internal/reporter"
	"bot-dashboard-go/internal/session"

	"github.com/spf13/cobra"
)

func (a *app) startCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "启动机器人",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			res, err := a.client.Start(ctx)
			if err != nil {
				return err
			}
			printResult(cmd, res, "启动请求已发送。")
			return nil
		},
	}
}

func (a *app) stopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "停止机器人",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			res, err := a.client.Stop(ctx)
			if err != nil {
				return err
			}
			printResult(cmd, res, "停止请求已发送。")
			return nil
		},
	}
}

func (a *app) paramsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "查看或修改策略参数",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "显示当前策略参数",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			params, err := a.client.Parameters(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(params))
			for k := range params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, displayValue(a.cfg, k, params[k]))
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set KEY=VALUE...",
		Short: "修改策略参数, 百分比参数按百分数输入",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := parseAssignments(a.cfg, args)
			if err != nil {
				return err
			}
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			res, err := a.client.SaveParameters(ctx, delta)
			if err != nil {
				return err
			}
			printResult(cmd, res, "参数已保存。")
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

func (a *app) sessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "管理会话",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出会话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			registry := session.New(a.client, a.log.Named("session"))
			reporter.RenderSessions(cmd.OutOrStdout(), registry.Refresh(ctx))
			return nil
		},
	}

	create := &cobra.Command{
		Use:   "create [STRATEGY]",
		Short: "以指定策略创建会话, 缺省使用配置中的默认策略",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy := a.cfg.DefaultStrategy
			if len(args) == 1 {
				strategy = args[0]
			}
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			registry := session.New(a.client, a.log.Named("session"))
			res, err := registry.Create(ctx, strategy)
			if err != nil {
				return err
			}
			printResult(cmd, res, "会话已创建。")
			reporter.RenderSessions(cmd.OutOrStdout(), registry.State())
			return nil
		},
	}

	remove := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "删除一个已结束的会话",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseSessionID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			// 先刷新列表, 运行中的会话在本地就会被拒绝
			registry := session.New(a.client, a.log.Named("session"))
			registry.Refresh(ctx)
			res, err := registry.Remove(ctx, id)
			if err != nil {
				return err
			}
			printResult(cmd, res, "会话已删除。")
			return nil
		},
	}

	cmd.AddCommand(list, create, remove)
	return cmd
}

func (a *app) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats ID",
		Short: "显示会话统计",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseSessionID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			stats, err := a.client.Stats(ctx, id)
			if err != nil {
				return err
			}
			reporter.RenderStats(cmd.OutOrStdout(), id, stats)
			return nil
		},
	}
}

func (a *app) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history ID",
		Short: "显示会话订单历史",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseSessionID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			rows, err := a.client.OrderHistory(ctx, id)
			if err != nil {
				return err
			}
			reporter.RenderHistory(cmd.OutOrStdout(), id, rows)
			return nil
		},
	}
}
