package model

import (
	"time"
)

// UserQuotaUsage 周期配额用量表
// 每 (用户, 服务, 周期) 一行；首次使用时惰性创建，跨周期新建行而不是清零旧行
type UserQuotaUsage struct {
	UserQuotaUsageID string    `gorm:"primaryKey;type:varchar(36)"`
	UserID           string    `gorm:"type:varchar(36);not null;uniqueIndex:uk_user_service_period,priority:1"`
	Service          string    `gorm:"type:enum('api_call','storage','custom');not null;uniqueIndex:uk_user_service_period,priority:2"`
	Period           string    `gorm:"type:varchar(10);not null;uniqueIndex:uk_user_service_period,priority:3"` // 2024-11
	UsedAmount       int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UserQuotaUsage) TableName() string {
	return "user_quota_usage"
}
