package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeTokenInvalid = 10003
	CodeTokenExpired = 10004

	// 参数相关 11000-11999
	CodeInvalidParams = 11002

	// 消息相关 13000-13999
	CodeMessageNotFound = 13001
	CodeMalformedKey    = 13002
	CodeKeyConflict     = 13003
	CodeNotMember       = 13004
	CodeDuplicate       = 13005

	// 系统错误 50000-50999
	CodeServerError      = 50001
	CodeDBError          = 50002
	CodeStoreUnavailable = 50004
	CodeEventQueueFull   = 50005
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, "Token 无效")
	ErrTokenExpired = NewError(CodeTokenExpired, "Token 已过期")
)

// 参数相关
var (
	ErrInvalidParams = NewError(CodeInvalidParams, "参数校验失败")
)

// 消息相关
var (
	ErrMessageNotFound = NewError(CodeMessageNotFound, "消息不存在")
	ErrMalformedKey    = NewError(CodeMalformedKey, "消息键格式错误")
	ErrKeyConflict     = NewError(CodeKeyConflict, "消息键冲突")
	ErrNotMember       = NewError(CodeNotMember, "不是会话成员")
	ErrDuplicate       = NewError(CodeDuplicate, "消息已存在")
)

// 系统相关
var (
	ErrServerError      = NewError(CodeServerError, "服务器内部错误")
	ErrDBError          = NewError(CodeDBError, "数据库错误")
	ErrStoreUnavailable = NewError(CodeStoreUnavailable, "存储服务不可用")
	ErrEventQueueFull   = NewError(CodeEventQueueFull, "同步事件队列已满")
)
