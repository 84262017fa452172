package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bot-dashboard-go/internal/models"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Backend 是仪表盘依赖的后端请求/响应接口
type Backend interface {
	Status(ctx context.Context) (*models.BotState, error)
	Start(ctx context.Context) (CommandResult, error)
	Stop(ctx context.Context) (CommandResult, error)
	Parameters(ctx context.Context) (map[string]any, error)
	SaveParameters(ctx context.Context, params map[string]any) (CommandResult, error)
	Stats(ctx context.Context, id models.SessionID) (*models.Stats, error)
	OrderHistory(ctx context.Context, id models.SessionID) ([]models.OrderRecord, error)
	ActiveSession(ctx context.Context) (models.SessionID, error)
	Sessions(ctx context.Context) ([]models.Session, error)
	CreateSession(ctx context.Context, strategy string) (CommandResult, error)
	DeleteSession(ctx context.Context, id models.SessionID) (CommandResult, error)
}

// CommandResult 是命令类接口的统一响应体
type CommandResult struct {
	Success            *bool  `json:"success"`
	Message            string `json:"message"`
	RestartRecommended bool   `json:"restart_recommended"`
}

// OK 缺少 success 字段时视为成功, 由 HTTP 状态码决定
func (r CommandResult) OK() bool {
	return r.Success == nil || *r.Success
}

// Options 控制 Client 的超时与限速
type Options struct {
	Timeout   time.Duration
	RateLimit float64 // 每秒请求数, <=0 不限速
	Burst     int
}

// Client 通过 HTTP 与后端交互, 实现 Backend 接口
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient 创建一个新的 Client 实例
func NewClient(baseURL string, opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		logger:     logger,
	}
}

func newRequestID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}

// doRequest 是通用的请求处理函数: 限速, 发送, 读取响应体, 按状态码归类错误
func (c *Client) doRequest(ctx context.Context, op, method, endpoint string, query url.Values, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &models.Error{Kind: models.TransportFailure, Op: op, Err: err}
	}

	fullURL := c.baseURL + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := newRequestID()
	req.Header.Set("X-Request-ID", reqID)

	c.logger.Debug("发送请求", zap.String("op", op), zap.String("method", method), zap.String("url", fullURL), zap.String("request_id", reqID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.Error{Kind: models.TransportFailure, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.Error{Kind: models.TransportFailure, Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 优先使用响应体中的 message, 其次使用状态码
		msg := fmt.Sprintf("%s failed with status %d", op, resp.StatusCode)
		var result CommandResult
		if json.Unmarshal(data, &result) == nil && result.Message != "" {
			msg = result.Message
		}
		return data, &models.Error{Kind: models.CommandFailure, Op: op, Status: resp.StatusCode, Msg: msg}
	}
	return data, nil
}

// command 发送命令类请求, success=false 视为失败
func (c *Client) command(ctx context.Context, op, method, endpoint string, body any) (CommandResult, error) {
	var result CommandResult
	data, err := c.doRequest(ctx, op, method, endpoint, nil, body)
	if err != nil {
		return result, err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return result, &models.Error{Kind: models.ProtocolError, Op: op, Err: err}
		}
	}
	if !result.OK() {
		msg := result.Message
		if msg == "" {
			msg = fmt.Sprintf("%s rejected by server", op)
		}
		return result, &models.Error{Kind: models.CommandFailure, Op: op, Status: http.StatusOK, Msg: msg}
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, query url.Values, out any) error {
	data, err := c.doRequest(ctx, op, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &models.Error{Kind: models.ProtocolError, Op: op, Err: err}
	}
	return nil
}

func sessionQuery(id models.SessionID) url.Values {
	return url.Values{"session_id": []string{strconv.FormatInt(int64(id), 10)}}
}

// Status 拉取完整快照
func (c *Client) Status(ctx context.Context) (*models.BotState, error) {
	var state models.BotState
	if err := c.getJSON(ctx, "status", "/api/status", nil, &state); err != nil {
		return nil, err
	}
	state.ReceivedAt = time.Now()
	return &state, nil
}

// Start 请求后端启动机器人
func (c *Client) Start(ctx context.Context) (CommandResult, error) {
	return c.command(ctx, "start", http.MethodPost, "/api/start", nil)
}

// Stop 请求后端停止机器人
func (c *Client) Stop(ctx context.Context) (CommandResult, error) {
	return c.command(ctx, "stop", http.MethodPost, "/api/stop", nil)
}

// Parameters 读取后端当前的策略参数
func (c *Client) Parameters(ctx context.Context) (map[string]any, error) {
	params := map[string]any{}
	if err := c.getJSON(ctx, "parameters", "/api/parameters", nil, &params); err != nil {
		return nil, err
	}
	return params, nil
}

// SaveParameters 提交参数, 数值按原样发送
func (c *Client) SaveParameters(ctx context.Context, params map[string]any) (CommandResult, error) {
	return c.command(ctx, "save parameters", http.MethodPost, "/api/parameters", params)
}

// Stats 拉取会话统计
func (c *Client) Stats(ctx context.Context, id models.SessionID) (*models.Stats, error) {
	var stats models.Stats
	if err := c.getJSON(ctx, "stats", "/api/stats", sessionQuery(id), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// OrderHistory 拉取会话订单历史
func (c *Client) OrderHistory(ctx context.Context, id models.SessionID) ([]models.OrderRecord, error) {
	var history []models.OrderRecord
	if err := c.getJSON(ctx, "order history", "/api/order_history", sessionQuery(id), &history); err != nil {
		return nil, err
	}
	return history, nil
}

// ActiveSession 返回运行中的会话, 没有时返回 NoSession
func (c *Client) ActiveSession(ctx context.Context) (models.SessionID, error) {
	var resp struct {
		ActiveSessionID *models.SessionID `json:"active_session_id"`
	}
	if err := c.getJSON(ctx, "active session", "/api/sessions/active", nil, &resp); err != nil {
		return models.NoSession, err
	}
	if resp.ActiveSessionID == nil {
		return models.NoSession, nil
	}
	return *resp.ActiveSessionID, nil
}

// Sessions 拉取会话列表
func (c *Client) Sessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := c.getJSON(ctx, "sessions", "/api/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession 以指定策略创建新会话
func (c *Client) CreateSession(ctx context.Context, strategy string) (CommandResult, error) {
	return c.command(ctx, "create session", http.MethodPost, "/api/sessions", map[string]string{"strategy": strategy})
}

// DeleteSession 删除会话
func (c *Client) DeleteSession(ctx context.Context, id models.SessionID) (CommandResult, error) {
	return c.command(ctx, "delete session", http.MethodDelete, "/api/sessions/"+strconv.FormatInt(int64(id), 10), nil)
}
