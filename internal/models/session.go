package models

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// SessionID 会话的唯一标识, 由后端分配
type SessionID int64

// NoSession 表示"没有会话"
const NoSession SessionID = 0

func (id SessionID) String() string {
	if id == NoSession {
		return "none"
	}
	return strconv.FormatInt(int64(id), 10)
}

// ParseSessionID 解析命令行或存储中的会话 ID
func ParseSessionID(s string) (SessionID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return NoSession, err
	}
	return SessionID(n), nil
}

// UnmarshalJSON 接受数字或数字字符串 (后端部分表以 TEXT 保存会话 ID), 空串视为 NoSession
func (id *SessionID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*id = NoSession
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("session id %q: %w", s, err)
	}
	*id = SessionID(n)
	return nil
}

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session 定义了一次交易会话的元数据
type Session struct {
	ID        SessionID     `json:"id"`
	Name      string        `json:"name"`
	Strategy  string        `json:"strategy"`
	Status    SessionStatus `json:"status"`
	StartTime FlexString    `json:"start_time"` // 后端原样返回的时间文本
	EndTime   FlexString    `json:"end_time"`
}

// IsActive 判断会话是否正在运行
func (s Session) IsActive() bool {
	return s.Status == SessionActive
}

// RegistryState 是会话注册表的当前视图
type RegistryState struct {
	Sessions   []Session `json:"sessions"`
	ActiveID   SessionID `json:"active_id"`
	SelectedID SessionID `json:"selected_id"`
}

// Find 按 ID 查找会话
func (r RegistryState) Find(id SessionID) (Session, bool) {
	for _, s := range r.Sessions {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}

// Clone 返回注册表状态的副本
func (r RegistryState) Clone() RegistryState {
	c := r
	if r.Sessions != nil {
		c.Sessions = append([]Session(nil), r.Sessions...)
	}
	return c
}

// ConnectionState 推送通道的连接状态
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Open
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}
