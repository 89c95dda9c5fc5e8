package biz

import (
	"credit-service/internal/conf"
	"credit-service/internal/constants"
)

// LedgerConfig 账本业务配置
type LedgerConfig struct {
	QuotaLimits         map[string]int64 // 各服务维度的周期配额上限，0 表示不限制
	Granularity         Granularity      // 配额周期粒度
	BalanceLowThreshold int64            // 余额低水位告警阈值（积分）
	MaxPageSize         int              // 流水查询单页上限
}

// NewLedgerConfig 从启动配置创建 LedgerConfig
func NewLedgerConfig(c *conf.Bootstrap) *LedgerConfig {
	config := &LedgerConfig{
		QuotaLimits: make(map[string]int64),
		Granularity: GranularityMonth,
		MaxPageSize: constants.MaxPageSize,
	}
	if c.Ledger != nil {
		for k, v := range c.Ledger.QuotaLimits {
			config.QuotaLimits[k] = v
		}
		if c.Ledger.PeriodGranularity == string(GranularityDay) {
			config.Granularity = GranularityDay
		}
		if c.Ledger.BalanceLowThreshold > 0 {
			config.BalanceLowThreshold = c.Ledger.BalanceLowThreshold
		}
		if c.Ledger.MaxPageSize > 0 {
			config.MaxPageSize = c.Ledger.MaxPageSize
		}
	}
	return config
}

// LimitFor 返回服务维度的配额上限，未配置时返回 0（不限制）
func (c *LedgerConfig) LimitFor(service QuotaService) int64 {
	return c.QuotaLimits[string(service)]
}
