package models

import (
	"fmt"
	"reflect"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
)

// BotState 定义了后端推送或拉取的完整运行时快照
type BotState struct {
	Status           string          `json:"status"`             // e.g. "running", "stopped", "error"
	Symbol           string          `json:"symbol"`             // 交易对, e.g., "BTCUSDT"
	Timeframe        string          `json:"timeframe"`          // K线周期, e.g., "1m"
	BaseAsset        string          `json:"base_asset"`         // 基础资产, e.g., "BTC"
	QuoteAsset       string          `json:"quote_asset"`        // 计价资产, e.g., "USDT"
	AvailableBalance decimal.Decimal `json:"available_balance"`  // 可用计价货币余额
	SymbolQuantity   decimal.Decimal `json:"symbol_quantity"`    // 当前持有的基础资产数量
	InPosition       bool            `json:"in_position"`        // 是否持仓
	EntryDetails     *EntryDetails   `json:"entry_details"`      // 持仓明细, 未持仓时为 nil
	Config           map[string]any  `json:"config"`             // 策略参数原始值
	Ticker           Ticker          `json:"latest_book_ticker"` // 最新盘口
	CurrentPrice     decimal.Decimal `json:"current_price"`      // 最新成交价
	ActiveSessionID  *SessionID      `json:"active_session_id"`  // 运行中的会话, nil 表示无
	ReceivedAt       time.Time       `json:"received_at"`        // 客户端收到快照的时间
}

// EntryDetails 描述当前持仓的入场信息
type EntryDetails struct {
	OrderID      FlexString      `json:"order_id"`
	Side         string          `json:"side"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Timestamp    FlexString      `json:"timestamp"`
	StopLoss     decimal.Decimal `json:"sl_price"`
	TakeProfit1  decimal.Decimal `json:"tp1_price"`
	TakeProfit2  decimal.Decimal `json:"tp2_price"`
	HighestPrice decimal.Decimal `json:"highest_price"`
	LowestPrice  decimal.Decimal `json:"lowest_price"`
}

// StrategyParams 是策略参数的强类型视图, 由 BotState.Config 解码而来
type StrategyParams struct {
	Strategy          string          `mapstructure:"STRATEGY"`
	Symbol            string          `mapstructure:"SYMBOL"`
	Timeframe         string          `mapstructure:"TIMEFRAME"`
	RiskPerTrade      decimal.Decimal `mapstructure:"RISK_PER_TRADE_PERCENT"`
	StopLoss          decimal.Decimal `mapstructure:"STOP_LOSS_PERCENT"`
	TakeProfit        decimal.Decimal `mapstructure:"TAKE_PROFIT_PERCENT"`
	TrailingStop      decimal.Decimal `mapstructure:"TRAILING_STOP_PERCENT"`
	CapitalAllocation decimal.Decimal `mapstructure:"CAPITAL_ALLOCATION"`
	Extra             map[string]any  `mapstructure:",remain"`
}

// DecodeParams 将 Config 中的松散类型参数解码为 StrategyParams
func (s *BotState) DecodeParams() (StrategyParams, error) {
	var params StrategyParams
	if len(s.Config) == 0 {
		return params, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       decimalHook,
		Result:           &params,
	})
	if err != nil {
		return params, err
	}
	if err := dec.Decode(s.Config); err != nil {
		return params, fmt.Errorf("decode strategy params: %w", err)
	}
	return params, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook 允许字符串和数字直接解码为 decimal.Decimal
func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	}
	return data, nil
}

// DeepCopy 返回快照的完整副本, 调用方可随意修改
func (s *BotState) DeepCopy() *BotState {
	if s == nil {
		return nil
	}
	c := *s
	if s.EntryDetails != nil {
		ed := *s.EntryDetails
		c.EntryDetails = &ed
	}
	if s.ActiveSessionID != nil {
		id := *s.ActiveSessionID
		c.ActiveSessionID = &id
	}
	if s.Config != nil {
		c.Config = copyMap(s.Config)
	}
	return &c
}

// ActiveSession 返回运行中的会话 ID, 没有时返回 NoSession
func (s *BotState) ActiveSession() SessionID {
	if s == nil || s.ActiveSessionID == nil {
		return NoSession
	}
	return *s.ActiveSessionID
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// Ticker 是最新的盘口快照 (bookTicker)
type Ticker struct {
	Symbol  string          `json:"symbol"`
	Bid     decimal.Decimal `json:"bid"`
	BidQty  decimal.Decimal `json:"bid_qty"`
	Ask     decimal.Decimal `json:"ask"`
	AskQty  decimal.Decimal `json:"ask_qty"`
	Last    decimal.Decimal `json:"last"`
	Updated time.Time       `json:"updated"`
}

// Spread 返回买卖价差, 缺少一侧报价时返回零
func (t Ticker) Spread() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return decimal.Zero
	}
	return t.Ask.Sub(t.Bid)
}

// Apply 仅合并 patch 中出现的字段
func (t *Ticker) Apply(p TickerPatch) {
	if p.Symbol != nil {
		t.Symbol = *p.Symbol
	}
	if p.Bid != nil {
		t.Bid = *p.Bid
	}
	if p.BidQty != nil {
		t.BidQty = *p.BidQty
	}
	if p.Ask != nil {
		t.Ask = *p.Ask
	}
	if p.AskQty != nil {
		t.AskQty = *p.AskQty
	}
	if p.Last != nil {
		t.Last = *p.Last
	}
	if p.Updated != nil {
		t.Updated = *p.Updated
	}
}

// UnmarshalJSON 同时接受 bookTicker 的短键 (s,b,B,a,A) 和长键
func (t *Ticker) UnmarshalJSON(data []byte) error {
	var p TickerPatch
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Ticker{}
	t.Apply(p)
	return nil
}

// TickerPatch 是盘口的部分更新, nil 字段表示未出现
type TickerPatch struct {
	Symbol  *string
	Bid     *decimal.Decimal
	BidQty  *decimal.Decimal
	Ask     *decimal.Decimal
	AskQty  *decimal.Decimal
	Last    *decimal.Decimal
	Updated *time.Time
}

// Empty 判断 patch 是否不含任何字段
func (p TickerPatch) Empty() bool {
	return p.Symbol == nil && p.Bid == nil && p.BidQty == nil && p.Ask == nil &&
		p.AskQty == nil && p.Last == nil && p.Updated == nil
}

// UnmarshalJSON 实现 json.Unmarshaler
func (p *TickerPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = TickerPatch{}
	if v, ok := lookup(raw, "s", "symbol"); ok {
		var sym string
		if err := json.Unmarshal(v, &sym); err != nil {
			return fmt.Errorf("ticker symbol: %w", err)
		}
		p.Symbol = &sym
	}
	fields := []struct {
		dst  **decimal.Decimal
		keys []string
	}{
		{&p.Bid, []string{"b", "bid"}},
		{&p.BidQty, []string{"B", "bid_qty"}},
		{&p.Ask, []string{"a", "ask"}},
		{&p.AskQty, []string{"A", "ask_qty"}},
		{&p.Last, []string{"c", "last", "price"}},
	}
	for _, f := range fields {
		v, ok := lookup(raw, f.keys...)
		if !ok {
			continue
		}
		var d decimal.Decimal
		if err := d.UnmarshalJSON(v); err != nil {
			return fmt.Errorf("ticker %s: %w", f.keys[0], err)
		}
		*f.dst = &d
	}
	if v, ok := lookup(raw, "updated"); ok {
		var ts time.Time
		if err := json.Unmarshal(v, &ts); err == nil {
			p.Updated = &ts
		}
	}
	return nil
}

// lookup 返回第一个存在且非 null 的键
func lookup(raw map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}
