package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// 错误码分段：
// 1xxx 提交被拒（对客户端可见）
// 2xxx 存储/发号层（对客户端折叠为 1003）
const (
	CodeNotMember       = 1001 // 不是房间成员
	CodeBadPayload      = 1002 // 帧/负载不合法
	CodeSubmitFailed    = 1003 // 发号或落库失败（对外统一）
	CodeAuthFailed      = 1004 // 握手身份无法解析
	CodeSeqUnavailable  = 2001 // 发号器不可用
	CodeStoreFailed     = 2002 // 持久化失败
	CodeHistoryUnavail  = 2003 // 历史查询失败
	CodeRoomUnavailable = 2004 // 成员查询失败
)

var (
	ErrNotMember      = NewCodeError(CodeNotMember, "sender is not a member of the room")
	ErrBadPayload     = NewCodeError(CodeBadPayload, "malformed payload")
	ErrAuthFailed     = NewCodeError(CodeAuthFailed, "identity cannot be resolved")
	ErrSeqUnavailable = NewCodeError(CodeSeqUnavailable, "sequence allocator unavailable")
	ErrStoreFailed    = NewCodeError(CodeStoreFailed, "message store failure")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Is 让 errors.Is(err, ErrNotMember) 按错误码匹配（忽略 Detail）。
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap 补堆栈；WrapMsg 补堆栈和上下文。
func (e *CodeError) Wrap() error { return errors.WithStack(e) }

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	return errors.WithStack(e.WithDetail(toString(msg, kv)))
}

// CodeOf 解包到最近的 *CodeError；没有则归为 CodeSubmitFailed。
func CodeOf(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return NewCodeError(CodeSubmitFailed, "submit failed").WithDetail(err.Error())
}

func New(format string, args ...any) error {
	return errors.New(fmt.Sprintf(format, args...))
}

func Wrap(err error) error { return errors.WithStack(err) }

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		sb.WriteString(", ")
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		}
	}
	return sb.String()
}
