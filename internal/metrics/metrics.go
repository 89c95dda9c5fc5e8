package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics 积分账本服务指标
type LedgerMetrics struct {
	// 账本交易相关指标
	TransactionTotal  *prometheus.CounterVec   // 交易总数（按类型、来源、结果）
	TransactionAmount *prometheus.CounterVec   // 交易金额（按类型、来源）
	ApplyDuration     *prometheus.HistogramVec // 交易应用耗时（按类型）
	BalanceLowAlert   prometheus.Gauge         // 余额不足告警（余额 < 阈值）

	// 配额相关指标
	QuotaCheckTotal     *prometheus.CounterVec   // 配额检查总数（按服务、结果）
	QuotaCheckDuration  *prometheus.HistogramVec // 配额检查耗时
	QuotaIncrementTotal *prometheus.CounterVec   // 配额累加总数（按服务）

	// 组合计量扣费指标
	ChargeTotal    *prometheus.CounterVec   // 计量扣费总数（按服务、结果）
	ChargeDuration *prometheus.HistogramVec // 计量扣费耗时

	// 分布式锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时

	// 对账相关指标
	ReconcileMismatch prometheus.Gauge       // 最近一次对账发现的不一致账户数
	ReconcileTotal    *prometheus.CounterVec // 对账扫描总数（按结果）
}

// NewLedgerMetrics 创建账本服务指标
func NewLedgerMetrics() *LedgerMetrics {
	return &LedgerMetrics{
		TransactionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_transaction_total",
				Help: "Total number of ledger transactions applied",
			},
			[]string{"type", "source", "result"}, // result: success/failed/replay
		),
		TransactionAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_transaction_amount_total",
				Help: "Total credit amount moved by ledger transactions",
			},
			[]string{"type", "source"},
		),
		ApplyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_apply_duration_seconds",
				Help:    "Duration of atomic ledger apply units",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		BalanceLowAlert: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "credit_balance_low_alert",
				Help: "Set to 1 when the last inspected balance was below threshold",
			},
		),

		QuotaCheckTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_quota_check_total",
				Help: "Total number of quota checks",
			},
			[]string{"service", "result"}, // result: allowed/denied/error
		),
		QuotaCheckDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_quota_check_duration_seconds",
				Help:    "Duration of quota check operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		QuotaIncrementTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_quota_increment_total",
				Help: "Total number of quota increments",
			},
			[]string{"service"},
		),

		ChargeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_charge_total",
				Help: "Total number of composite metering charges",
			},
			[]string{"service", "result"},
		),
		ChargeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_charge_duration_seconds",
				Help:    "Duration of composite metering charges",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_lock_acquire_duration_seconds",
				Help:    "Duration of lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		ReconcileMismatch: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "credit_reconcile_mismatch",
				Help: "Number of accounts whose aggregate diverged from the log in the last sweep",
			},
		),
		ReconcileTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_reconcile_total",
				Help: "Total number of reconciliation sweeps",
			},
			[]string{"result"},
		),
	}
}

// 全局指标实例
var defaultMetrics *LedgerMetrics

// InitMetrics 初始化全局指标
func InitMetrics() {
	defaultMetrics = NewLedgerMetrics()
}

// GetMetrics 获取全局指标实例
func GetMetrics() *LedgerMetrics {
	if defaultMetrics == nil {
		InitMetrics()
	}
	return defaultMetrics
}
