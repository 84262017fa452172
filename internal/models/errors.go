package models

import (
	"errors"
	"fmt"
)

// ErrorKind 区分客户端核心可能产生的错误类别
type ErrorKind int

const (
	// TransportFailure 连接/网络层错误, 永不致命, 固定间隔重试
	TransportFailure ErrorKind = iota
	// ProtocolError 推送消息无法解码或类型未知, 记录后丢弃
	ProtocolError
	// CommandFailure 请求/响应调用返回非成功状态或 success=false
	CommandFailure
	// GuardRejection 客户端本地拦截, 未发出任何网络请求
	GuardRejection
)

func (k ErrorKind) String() string {
	switch k {
	case TransportFailure:
		return "transport failure"
	case ProtocolError:
		return "protocol error"
	case CommandFailure:
		return "command failure"
	case GuardRejection:
		return "guard rejection"
	default:
		return "unknown error"
	}
}

// ErrActiveSession 删除正在运行的会话时返回
var ErrActiveSession = errors.New("cannot delete an active session")

// Error 定义了后端交互错误的统一结构
type Error struct {
	Kind   ErrorKind
	Op     string // 操作名, e.g. "start", "delete session"
	Status int    // HTTP 状态码, 0 表示没有响应
	Msg    string // 优先取自响应体的 message 字段
	Err    error
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind 判断错误链中是否包含指定类别的 *Error
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
