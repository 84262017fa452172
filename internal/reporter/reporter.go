package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"bot-dashboard-go/internal/logger"
	"bot-dashboard-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Reporter 是控制台视图: 把核心推送的状态渲染为表格和日志行
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger

	lastStatus     string
	lastInPosition bool
	priceLine      rate.Sometimes // 行情刷新太频繁, 价格行限频输出
}

// New 创建一个 Reporter, 渲染结果写入 out
func New(out io.Writer, logger *zap.Logger) *Reporter {
	return &Reporter{
		out:       out,
		logger:    logger,
		priceLine: rate.Sometimes{Interval: time.Second},
	}
}

// ConnectionStateChanged 输出连接状态
func (r *Reporter) ConnectionStateChanged(state models.ConnectionState) {
	color := text.FgYellow
	switch state {
	case models.Open:
		color = text.FgGreen
	case models.Disconnected:
		color = text.FgRed
	}
	r.println(color.Sprintf("[连接] %s", state))
}

// SnapshotChanged 状态或持仓变化时输出完整快照, 否则只输出限频的价格行
func (r *Reporter) SnapshotChanged(state *models.BotState) {
	if state == nil {
		return
	}
	r.mu.Lock()
	changed := state.Status != r.lastStatus || state.InPosition != r.lastInPosition
	r.lastStatus = state.Status
	r.lastInPosition = state.InPosition
	r.mu.Unlock()

	if changed {
		r.render(func(w io.Writer) { RenderSnapshot(w, state) })
		return
	}
	r.priceLine.Do(func() {
		t := state.Ticker
		r.println(fmt.Sprintf("[行情] %s last=%s bid=%s ask=%s spread=%s",
			state.Symbol, state.CurrentPrice, t.Bid, t.Ask, t.Spread()))
	})
}

// SessionsChanged 输出会话列表
func (r *Reporter) SessionsChanged(state models.RegistryState) {
	r.render(func(w io.Writer) { RenderSessions(w, state) })
}

// HistoryChanged 输出所选会话的订单历史
func (r *Reporter) HistoryChanged(id models.SessionID, rows []models.OrderRecord) {
	if id == models.NoSession {
		r.println("[订单] 未选择会话")
		return
	}
	r.render(func(w io.Writer) { RenderHistory(w, id, rows) })
}

// StatsChanged 输出所选会话的统计
func (r *Reporter) StatsChanged(id models.SessionID, stats *models.Stats) {
	if id == models.NoSession || stats == nil {
		return
	}
	r.render(func(w io.Writer) { RenderStats(w, id, stats) })
}

// LogLine 按严重级别着色输出一行日志
func (r *Reporter) LogLine(line string, sev models.Severity) {
	r.println(severityColor(sev).Sprintf("%s [%s] %s",
		time.Now().Format("15:04:05"), strings.ToUpper(sev.String()), line))

	// 后端的 error/critical 同时写入客户端日志
	if sev >= models.SeverityError {
		if ce := r.logger.Check(logger.ForSeverity(sev), line); ce != nil {
			ce.Write(zap.String("source", "backend"))
		}
	}
}

// Signal 输出策略信号
func (r *Reporter) Signal(ev models.SignalEvent) {
	verdict := text.FgGreen.Sprint("通过")
	if !ev.Valid {
		verdict = text.FgRed.Sprint("拒绝")
	}
	price := "-"
	if ev.Price.Valid {
		price = ev.Price.Decimal.String()
	}
	r.println(fmt.Sprintf("[信号] %s %s @ %s %s %s", ev.SignalType, ev.Direction, price, verdict, ev.Reason))
}

func (r *Reporter) println(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := fmt.Fprintln(r.out, line); err != nil {
		r.logger.Warn("写入控制台失败", zap.Error(err))
	}
}

func (r *Reporter) render(fn func(w io.Writer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.out)
}

func severityColor(sev models.Severity) text.Colors {
	switch sev {
	case models.SeverityDebug:
		return text.Colors{text.FgHiBlack}
	case models.SeverityWarn:
		return text.Colors{text.FgYellow}
	case models.SeverityError:
		return text.Colors{text.FgRed}
	case models.SeverityCritical:
		return text.Colors{text.FgHiRed, text.Bold}
	default:
		return text.Colors{}
	}
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

// RenderSnapshot 输出机器人状态, 持仓与策略参数
func RenderSnapshot(w io.Writer, state *models.BotState) {
	t := newTable(w, "机器人状态")
	t.AppendRows([]table.Row{
		{"状态", state.Status},
		{"交易对", state.Symbol},
		{"周期", state.Timeframe},
		{"当前价格", state.CurrentPrice.String()},
		{"买一/卖一", fmt.Sprintf("%s / %s", state.Ticker.Bid, state.Ticker.Ask)},
		{"可用余额", fmt.Sprintf("%s %s", state.AvailableBalance, state.QuoteAsset)},
		{"持有数量", fmt.Sprintf("%s %s", state.SymbolQuantity, state.BaseAsset)},
		{"运行会话", state.ActiveSession().String()},
	})
	if !state.ReceivedAt.IsZero() {
		t.AppendRow(table.Row{"更新时间", state.ReceivedAt.Format(time.DateTime)})
	}
	if state.InPosition && state.EntryDetails != nil {
		ed := state.EntryDetails
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"持仓方向", ed.Side},
			{"开仓均价", ed.AvgPrice.String()},
			{"持仓数量", ed.Quantity.String()},
			{"止损", ed.StopLoss.String()},
			{"止盈1/止盈2", fmt.Sprintf("%s / %s", ed.TakeProfit1, ed.TakeProfit2)},
			{"浮动盈亏", unrealized(ed, state.CurrentPrice)},
		})
	}
	if len(state.Config) > 0 {
		t.AppendSeparator()
		t.AppendRows(paramRows(state))
	}
	t.Render()
}

// paramRows 按强类型参数输出策略参数, 解码失败时退回原始键值
func paramRows(state *models.BotState) []table.Row {
	params, err := state.DecodeParams()
	if err != nil {
		return rawParamRows(state.Config)
	}
	rows := []table.Row{
		{"策略", params.Strategy},
		{"单笔风险", percentText(params.RiskPerTrade)},
		{"止损", percentText(params.StopLoss)},
		{"止盈", percentText(params.TakeProfit)},
		{"移动止损", percentText(params.TrailingStop)},
		{"资金占用", percentText(params.CapitalAllocation)},
	}
	return append(rows, rawParamRows(params.Extra)...)
}

func rawParamRows(m map[string]any) []table.Row {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, table.Row{k, fmt.Sprint(m[k])})
	}
	return rows
}

// percentText 参数以小数保存, 0.01 显示为 1%
func percentText(d decimal.Decimal) string {
	if d.IsZero() {
		return "-"
	}
	return d.Mul(decimal.NewFromInt(100)).String() + "%"
}

// unrealized 计算持仓的浮动盈亏百分比
func unrealized(ed *models.EntryDetails, price decimal.Decimal) string {
	if ed.AvgPrice.IsZero() || price.IsZero() {
		return "-"
	}
	pct := price.Sub(ed.AvgPrice).Div(ed.AvgPrice).Mul(decimal.NewFromInt(100))
	if strings.EqualFold(ed.Side, "SHORT") || strings.EqualFold(ed.Side, "SELL") {
		pct = pct.Neg()
	}
	return pct.StringFixed(2) + "%"
}

// RenderSessions 输出会话列表, 标记运行中与已选择的会话
func RenderSessions(w io.Writer, state models.RegistryState) {
	t := newTable(w, "会话")
	t.AppendHeader(table.Row{"", "ID", "名称", "策略", "状态", "开始", "结束"})
	for _, s := range state.Sessions {
		marker := ""
		if s.ID == state.SelectedID {
			marker = "*"
		}
		status := string(s.Status)
		if s.ID == state.ActiveID {
			status = text.FgGreen.Sprint(status)
		}
		t.AppendRow(table.Row{marker, s.ID, s.Name, s.Strategy, status, s.StartTime, s.EndTime})
	}
	if len(state.Sessions) == 0 {
		t.AppendRow(table.Row{"", "-", "无会话", "", "", "", ""})
	}
	t.Render()
}

// RenderHistory 输出订单历史及其汇总
func RenderHistory(w io.Writer, id models.SessionID, rows []models.OrderRecord) {
	t := newTable(w, fmt.Sprintf("订单历史 (会话 %s)", id))
	t.AppendHeader(table.Row{"时间", "订单ID", "方向", "类型", "状态", "价格", "成交量", "成交额", "收益%"})
	for _, o := range rows {
		perf := "-"
		if o.PerformancePct.Valid {
			perf = o.PerformancePct.Decimal.StringFixed(2)
		}
		t.AppendRow(table.Row{o.Timestamp, o.OrderID, o.Side, o.Type, o.Status,
			o.Price.String(), o.ExecutedQty.String(), o.CummulativeQuoteQty.String(), perf})
	}
	s := Summarize(rows)
	t.AppendFooter(table.Row{"合计", s.TotalTrades, "", "", "",
		fmt.Sprintf("胜 %d / 负 %d", s.WinningTrades, s.LosingTrades), "", "",
		s.AvgPerformance.StringFixed(2)})
	t.Render()
}

// RenderStats 输出会话统计
func RenderStats(w io.Writer, id models.SessionID, stats *models.Stats) {
	t := newTable(w, fmt.Sprintf("统计 (会话 %s)", id))
	t.AppendRows([]table.Row{
		{"总交易次数", stats.TotalTrades},
		{"盈利次数", stats.Wins},
		{"亏损次数", stats.Losses},
		{"胜率", fmt.Sprintf("%.2f%%", stats.WinRate)},
		{"ROI", fmt.Sprintf("%.2f%%", stats.ROI)},
		{"平均盈亏", fmt.Sprintf("%.4f", stats.AvgPnL)},
	})
	t.Render()
}

// Summary 是从订单历史中计算出的汇总指标
type Summary struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        decimal.Decimal // 百分比
	AvgPerformance decimal.Decimal // 有收益记录的订单的平均收益%
}

// Summarize 根据带收益率的订单计算胜负与平均收益
func Summarize(rows []models.OrderRecord) Summary {
	var s Summary
	total := decimal.Zero
	for _, o := range rows {
		if !o.PerformancePct.Valid {
			continue
		}
		s.TotalTrades++
		total = total.Add(o.PerformancePct.Decimal)
		switch {
		case o.PerformancePct.Decimal.IsPositive():
			s.WinningTrades++
		case o.PerformancePct.Decimal.IsNegative():
			s.LosingTrades++
		}
	}
	if s.TotalTrades > 0 {
		n := decimal.NewFromInt(int64(s.TotalTrades))
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(n).Mul(decimal.NewFromInt(100))
		s.AvgPerformance = total.Div(n)
	}
	return s
}
