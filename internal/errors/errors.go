package errors

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/errors"
)

// 错误 Reason 定义
// 账本引擎的错误分类是调用方契约的一部分：
// 只有 TRANSIENT_CONTENTION 和 STORAGE_FAILURE 允许调用方原样重试，
// 其余错误对同一输入是永久性的。
const (
	ReasonInvalidAmount       = "INVALID_AMOUNT"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonFreezeNotFound      = "FREEZE_NOT_FOUND"
	ReasonOverRelease         = "OVER_RELEASE"
	ReasonUserNotFound        = "USER_NOT_FOUND"
	ReasonTransientContention = "TRANSIENT_CONTENTION"
	ReasonStorageFailure      = "STORAGE_FAILURE"
)

// ErrorInvalidAmount 金额非法（非正数、或调整后余额为负）
func ErrorInvalidAmount(format string, args ...interface{}) *errors.Error {
	return errors.New(400, ReasonInvalidAmount, fmt.Sprintf(format, args...))
}

func IsInvalidAmount(err error) bool {
	if err == nil {
		return false
	}
	return errors.Reason(err) == ReasonInvalidAmount
}

// ErrorInsufficientBalance 可用余额不足
func ErrorInsufficientBalance(format string, args ...interface{}) *errors.Error {
	return errors.New(403, ReasonInsufficientBalance, fmt.Sprintf(format, args...))
}

func IsInsufficientBalance(err error) bool {
	if err == nil {
		return false
	}
	return errors.Reason(err) == ReasonInsufficientBalance
}

// ErrorFreezeNotFound 引用的冻结交易不存在
func ErrorFreezeNotFound(format string, args ...interface{}) *errors.Error {
	return errors.New(404, ReasonFreezeNotFound, fmt.Sprintf(format, args...))
}

func IsFreezeNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Reason(err) == ReasonFreezeNotFound
}

// ErrorOverRelease 解冻金额超过该引用剩余的冻结金额
func ErrorOverRelease(format string, args ...interface{}) *errors.Error {
	return errors.New(409, ReasonOverRelease, fmt.Sprintf(format, args...))
}

func IsOverRelease(err error) bool {
	if err == nil {
		return false
	}
	return errors.Reason(err) == ReasonOverRelease
}

// ErrorUserNotFound 用户账户不存在
func ErrorUserNotFound(format string, args ...interface{}) *errors.Error {
	return errors.New(404, ReasonUserNotFound, fmt.Sprintf(format, args...))
}

func IsUserNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Reason(err) == ReasonUserNotFound
}

// ErrorTransientContention 锁竞争超出重试预算，调用方可整体重试
func ErrorTransientContention(format string, args ...interface{}) *errors.Error {
	return errors.New(503, ReasonTransientContention, fmt.Sprintf(format, args...))
}

func IsTransientContention(err error) bool {
	if err == nil {
		return false
	}
	return errors.Reason(err) == ReasonTransientContention
}

// ErrorStorageFailure 底层存储不可用，引擎不自动重试
func ErrorStorageFailure(format string, args ...interface{}) *errors.Error {
	return errors.New(500, ReasonStorageFailure, fmt.Sprintf(format, args...))
}

func IsStorageFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Reason(err) == ReasonStorageFailure
}
