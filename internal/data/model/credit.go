package model

import (
	"time"
)

// UserCredits 账户余额聚合表（每用户一行）
// 聚合是交易流水的缓存，流水才是事实来源
type UserCredits struct {
	UserCreditsID string    `gorm:"primaryKey;type:varchar(36)"`
	UserID        string    `gorm:"uniqueIndex;type:varchar(36);not null"`
	Balance       int64     `gorm:"not null;default:0"`
	FrozenBalance int64     `gorm:"not null;default:0"`
	TotalEarned   int64     `gorm:"not null;default:0"`
	TotalSpent    int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UserCredits) TableName() string {
	return "user_credits"
}

// CreditTransaction 积分交易流水表（只追加，不更新不删除）
type CreditTransaction struct {
	CreditTransactionID string    `gorm:"primaryKey;type:varchar(36)"`
	UserID              string    `gorm:"type:varchar(36);not null;index:idx_user_created,priority:1;index:idx_user_ref,priority:1"`
	Type                string    `gorm:"type:enum('earn','spend','refund','admin_adjust','freeze','unfreeze');not null"`
	Amount              int64     `gorm:"not null"` // 除 admin_adjust 外均为正数幅值
	BalanceAfter        int64     `gorm:"not null"` // 本笔交易应用后的可用余额快照
	Source              string    `gorm:"type:enum('subscription','api_call','admin','storage','bonus');not null"`
	Description         string    `gorm:"type:varchar(255)"`
	ReferenceID         string    `gorm:"type:varchar(64);index:idx_user_ref,priority:2"`
	Metadata            string    `gorm:"type:text"` // JSON 字符串，引擎不解释
	CreatedAt           time.Time `gorm:"autoCreateTime;index:idx_user_created,priority:2"`
}

// TableName 指定表名
func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
