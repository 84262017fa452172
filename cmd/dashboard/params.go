package main

import (
	"fmt"
	"strconv"
	"strings"

	"bot-dashboard-go/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// parseAssignments 把 KEY=VALUE 参数解析为发送给后端的增量
// 百分比参数按百分数输入 (1.5 表示 1.5%), 发送前除以 100
func parseAssignments(cfg *models.Config, args []string) (map[string]any, error) {
	delta := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("参数格式错误 %q, 应为 KEY=VALUE", arg)
		}
		raw = strings.TrimSpace(raw)

		if b, err := strconv.ParseBool(raw); err == nil && !isNumeric(raw) {
			delta[key] = b
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			if cfg.IsPercentParam(key) {
				return nil, fmt.Errorf("百分比参数 %s 需要数值, 收到 %q", key, raw)
			}
			delta[key] = raw
			continue
		}
		if cfg.IsPercentParam(key) {
			d = d.Div(hundred)
		}
		delta[key] = d.InexactFloat64()
	}
	return delta, nil
}

// displayValue 百分比参数按百分数显示
func displayValue(cfg *models.Config, key string, v any) any {
	if !cfg.IsPercentParam(key) {
		return v
	}
	d, err := decimal.NewFromString(fmt.Sprint(v))
	if err != nil {
		return v
	}
	return d.Mul(hundred).String() + "%"
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
