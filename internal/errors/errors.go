package errors

import (
	stderrors "errors"
	"fmt"

	"go.uber.org/atomic"
)

// ============================================================================
// 错误类型
// ============================================================================

// Error 带错误码的调度器错误
//
// 所有由核心同步返回给调用方的错误都是 *Error，
// 可以用 errors.Is 与同码的哨兵错误比较。
type Error struct {
	Code Code   // 错误码
	Op   string // 出错的操作（spawn、resume、join ...）
	Msg  string // 附加描述
	Err  error  // 底层错误（可选）
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	s := string(e.Code) + ": "
	if e.Op != "" {
		s += e.Op + ": "
	}
	s += msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// New 创建错误
func New(code Code, op string, format string, args ...interface{}) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Op: op, Msg: msg}
}

// Wrap 用错误码包装底层错误
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf 提取错误码，非 *Error 返回空串
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ============================================================================
// 哨兵错误
// ============================================================================

var (
	ErrInvalidArgument = &Error{Code: G0001}
	ErrOutOfMemory     = &Error{Code: G0002}
	ErrNotInitialized  = &Error{Code: G0003}
	ErrThreadDead      = &Error{Code: G0004}
	ErrStackOverflow   = &Error{Code: G0005}
	ErrUnsupported     = &Error{Code: G0006}
	ErrInternal        = &Error{Code: G0007}
	ErrDeadlock        = &Error{Code: G0008}
	ErrAlreadyJoined   = &Error{Code: G0009}

	// ErrCanceled 协作式取消
	// 入口函数返回它（或 Checkpoint/Sleep/Park 返回它）表示已响应取消请求。
	ErrCanceled = stderrors.New("green thread canceled")
)

// Is 转发标准库 errors.Is，方便调用方只导入本包
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As 转发标准库 errors.As
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// ============================================================================
// 最近错误
// ============================================================================

// last 进程级最近错误槽
var last atomic.Error

// SetLast 记录最近一次失败，返回原错误便于链式使用
func SetLast(err error) error {
	if err != nil {
		last.Store(err)
	}
	return err
}

// Last 获取最近一次失败
func Last() error {
	return last.Load()
}

// LastMessage 获取最近一次失败的可读描述
func LastMessage() string {
	if err := last.Load(); err != nil {
		return err.Error()
	}
	return ""
}

// ClearLast 清空最近错误
func ClearLast() {
	last.Store(nil)
}
