package constants

// 时间格式常量
const (
	// TimeFormatMonth 月份周期格式 (YYYY-MM)
	TimeFormatMonth = "2006-01"
	// TimeFormatDay 天周期格式 (YYYY-MM-DD)
	TimeFormatDay = "2006-01-02"
)

// Redis Key 前缀常量
const (
	// RedisKeyCredits 账户余额缓存 key 前缀
	RedisKeyCredits = "credits:"
	// RedisKeyChargeLock 计量扣费锁 key 前缀
	RedisKeyChargeLock = "charge:lock:"
	// RedisKeyReconcileLock 对账任务锁 key
	RedisKeyReconcileLock = "reconcile:lock"
)

// 交易类型常量
const (
	TransactionTypeEarn        = "earn"
	TransactionTypeSpend       = "spend"
	TransactionTypeRefund      = "refund"
	TransactionTypeAdminAdjust = "admin_adjust"
	TransactionTypeFreeze      = "freeze"
	TransactionTypeUnfreeze    = "unfreeze"
)

// 交易来源常量
const (
	SourceSubscription = "subscription"
	SourceAPICall      = "api_call"
	SourceAdmin        = "admin"
	SourceStorage      = "storage"
	SourceBonus        = "bonus"
)

// 配额服务维度常量
const (
	QuotaServiceAPICall = "api_call"
	QuotaServiceStorage = "storage"
	QuotaServiceCustom  = "custom"
)

// 配额检查结果常量（用于指标）
const (
	// QuotaCheckResultAllowed 允许
	QuotaCheckResultAllowed = "allowed"
	// QuotaCheckResultDenied 拒绝
	QuotaCheckResultDenied = "denied"
	// QuotaCheckResultError 错误
	QuotaCheckResultError = "error"
)

// 操作结果常量（用于指标）
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultReplay  = "replay"
)

// 分页默认值
const (
	// DefaultPageSize 默认分页大小
	DefaultPageSize = 20
	// MaxPageSize 最大分页大小
	MaxPageSize = 100
)
